package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Handler performs one kind of job in process
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	return f(ctx, payload)
}

// Observer is notified after every job
type Observer func(kind Kind, success bool, elapsed time.Duration)

// LocalRunner is a fixed pool of workers pulling from a bounded queue
type LocalRunner struct {
	handlers map[Kind]Handler
	queue    chan Request
	out      chan Response
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
	observer Observer
	logger   *logger.Logger
}

// NewLocalRunner starts workers goroutines
func NewLocalRunner(workers, queueSize int, handlers map[Kind]Handler, observer Observer, log *logger.Logger) *LocalRunner {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LocalRunner{
		handlers: handlers,
		queue:    make(chan Request, queueSize),
		out:      make(chan Response, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		observer: observer,
		logger:   log.WithComponent("job_runner"),
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	r.logger.Info("Local job runner started", zap.Int("workers", workers), zap.Int("queue_size", queueSize))
	return r
}

func (r *LocalRunner) Submit(ctx context.Context, req Request) error {
	select {
	case <-r.ctx.Done():
		return ErrDispatcherClosed
	default:
	}

	select {
	case r.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrDispatcherClosed
	}
}

func (r *LocalRunner) Responses() <-chan Response { return r.out }

func (r *LocalRunner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case req := <-r.queue:
			resp := r.execute(req)
			select {
			case r.out <- resp:
			case <-r.ctx.Done():
				return
			}
		}
	}
}

func (r *LocalRunner) execute(req Request) (resp Response) {
	log := r.logger.WithJob(req.ID, string(req.Kind))
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.Error("Job handler panicked", zap.Any("panic", p))
			resp = Failed(req.ID, fmt.Errorf("handler panic: %v", p))
		}
		if r.observer != nil {
			r.observer(req.Kind, resp.Success, time.Since(start))
		}
	}()

	handler, ok := r.handlers[req.Kind]
	if !ok {
		return Failed(req.ID, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind))
	}

	result, err := handler.Handle(r.ctx, req.Payload)
	if err != nil {
		log.Warn("Job failed", zap.Error(err))
		return Failed(req.ID, err)
	}

	log.Debug("Job completed", zap.Duration("elapsed", time.Since(start)))
	return Succeeded(req.ID, result)
}

// Close stops the workers and closes the response channel
func (r *LocalRunner) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
		close(r.out)
	})
	return nil
}
