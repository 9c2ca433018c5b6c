package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds a sidecar reply
const maxResponseBytes = 16 << 20

// HTTPRunner forwards jobs to sidecar services. Each request is POSTed as
// JSON to the endpoint of its kind; the sidecar answers with a Response.
type HTTPRunner struct {
	endpoints map[Kind]string
	client    *http.Client
	limiter   *rate.Limiter
	out       chan Response
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	once      sync.Once
	observer  Observer
	logger    *logger.Logger
}

// NewHTTPRunner creates a runner. rps <= 0 disables rate limiting.
func NewHTTPRunner(endpoints map[Kind]string, timeout time.Duration, rps float64, burst int, observer Observer, log *logger.Logger) *HTTPRunner {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPRunner{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		out:       make(chan Response, 16),
		ctx:       ctx,
		cancel:    cancel,
		observer:  observer,
		logger:    log.WithComponent("http_job_runner"),
	}
}

func (r *HTTPRunner) Submit(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrDispatcherClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		resp := r.call(req)
		select {
		case r.out <- resp:
		case <-r.ctx.Done():
		}
	}()
	return nil
}

func (r *HTTPRunner) Responses() <-chan Response { return r.out }

func (r *HTTPRunner) call(req Request) (resp Response) {
	log := r.logger.WithJob(req.ID, string(req.Kind))
	start := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer(req.Kind, resp.Success, time.Since(start))
		}
	}()

	endpoint, ok := r.endpoints[req.Kind]
	if !ok {
		return Failed(req.ID, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind))
	}

	if err := r.limiter.Wait(r.ctx); err != nil {
		return Failed(req.ID, err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Failed(req.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(r.ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Failed(req.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		log.Warn("Sidecar unreachable", zap.String("endpoint", endpoint), zap.Error(err))
		return Failed(req.ID, fmt.Errorf("sidecar unreachable: %w", err))
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Failed(req.ID, fmt.Errorf("read sidecar response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		log.Warn("Unexpected sidecar status", zap.Int("status_code", httpResp.StatusCode))
		return Failed(req.ID, fmt.Errorf("sidecar returned status %d", httpResp.StatusCode))
	}

	if err := json.Unmarshal(data, &resp); err != nil {
		return Failed(req.ID, fmt.Errorf("decode sidecar response: %w", err))
	}
	// correlation is by the id we sent, whatever the sidecar echoes
	resp.ID = req.ID
	return resp
}

// Close cancels in-flight calls and closes the response channel
func (r *HTTPRunner) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.cancel()
		r.wg.Wait()
		close(r.out)
	})
	return nil
}
