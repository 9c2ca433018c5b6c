package jobs

import (
	"context"
	"sync"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Runner executes requests out of band and publishes one response per
// request on Responses, in any order.
type Runner interface {
	Submit(ctx context.Context, req Request) error
	Responses() <-chan Response
	Close() error
}

// Dispatcher correlates runner responses with waiting futures strictly by
// job id. Responses for ids nobody waits on are dropped.
type Dispatcher struct {
	runner  Runner
	mu      sync.Mutex
	waiting map[string]chan Response
	done    chan struct{}
	once    sync.Once
	logger  *logger.Logger
}

// NewDispatcher starts routing responses from runner
func NewDispatcher(runner Runner, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		runner:  runner,
		waiting: make(map[string]chan Response),
		done:    make(chan struct{}),
		logger:  log.WithComponent("job_dispatcher"),
	}
	go d.route()
	return d
}

func (d *Dispatcher) route() {
	for {
		select {
		case <-d.done:
			return
		case resp, ok := <-d.runner.Responses():
			if !ok {
				d.Close()
				return
			}
			d.deliver(resp)
		}
	}
}

func (d *Dispatcher) deliver(resp Response) {
	d.mu.Lock()
	ch, ok := d.waiting[resp.ID]
	delete(d.waiting, resp.ID)
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("Dropping response for unknown job", zap.String("job_id", resp.ID))
		return
	}
	ch <- resp
}

// Future is the pending result of one job
type Future struct {
	ID   string
	Kind Kind
	ch   chan Response
	d    *Dispatcher
}

// Submit registers a waiter and hands the request to the runner
func (d *Dispatcher) Submit(ctx context.Context, kind Kind, payload any) (*Future, error) {
	req, err := NewRequest(kind, payload)
	if err != nil {
		return nil, err
	}

	f := &Future{ID: req.ID, Kind: kind, ch: make(chan Response, 1), d: d}

	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	default:
	}
	d.waiting[req.ID] = f.ch
	d.mu.Unlock()

	if err := d.runner.Submit(ctx, req); err != nil {
		d.forget(req.ID)
		return nil, err
	}

	d.logger.Debug("Job submitted", zap.String("job_id", req.ID), zap.String("job_kind", string(kind)))
	return f, nil
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.waiting, id)
	d.mu.Unlock()
}

// Await blocks until the response arrives, ctx ends or the dispatcher
// closes. A cancelled future's late response is dropped.
func (f *Future) Await(ctx context.Context) (Response, error) {
	select {
	case resp := <-f.ch:
		return resp, nil
	case <-ctx.Done():
		f.d.forget(f.ID)
		return Response{}, ctx.Err()
	case <-f.d.done:
		return Response{}, ErrDispatcherClosed
	}
}

// Pending returns the number of jobs awaiting a response
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiting)
}

// Close stops routing and closes the runner
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		close(d.done)
		d.waiting = make(map[string]chan Response)
		d.mu.Unlock()
		err = d.runner.Close()
	})
	return err
}

// Run submits one job and waits for it
func Run[T any](ctx context.Context, d *Dispatcher, kind Kind, payload any) (T, error) {
	var zero T
	f, err := d.Submit(ctx, kind, payload)
	if err != nil {
		return zero, err
	}
	resp, err := f.Await(ctx)
	if err != nil {
		return zero, err
	}
	return Decode[T](resp)
}
