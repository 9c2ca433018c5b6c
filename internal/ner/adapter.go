// Package ner bridges the out-of-process NER engine into the detection
// pipeline. Results are reported against one concatenated text and are
// translated back into block coordinates here.
package ner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/doc-sentinel/internal/jobs"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ErrUnavailable means no NER engine could be reached; callers continue
// with pattern and heuristic results.
var ErrUnavailable = errors.New("ner detector unavailable")

const cacheNamespace = "ner"

// Submitter hands jobs to a runner. *jobs.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, kind jobs.Kind, payload any) (*jobs.Future, error)
}

// Cache stores NER results by submitted text. *cache.ResultCache satisfies it.
type Cache interface {
	Key(namespace, input string) string
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte) error
}

// Options configures the adapter
type Options struct {
	Enabled   bool
	TokenBase int
	MinScore  float64
	Timeout   time.Duration
}

// Result is the outcome of an asynchronous detection
type Result struct {
	Entities []*model.PIIEntity
	Err      error
}

// Adapter converts NER job output into pending PII entities
type Adapter struct {
	jobs      Submitter
	cache     Cache
	enabled   atomic.Bool
	tokenBase int
	minScore  float64
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *logger.Logger
}

// NewAdapter creates an adapter. submitter and cache may be nil.
func NewAdapter(submitter Submitter, cache Cache, opts Options, tracer trace.Tracer, log *logger.Logger) *Adapter {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("ner")
	}
	a := &Adapter{
		jobs:      submitter,
		cache:     cache,
		tokenBase: opts.TokenBase,
		minScore:  opts.MinScore,
		timeout:   opts.Timeout,
		tracer:    tracer,
		logger:    log.WithComponent("ner_adapter"),
	}
	a.enabled.Store(opts.Enabled)
	return a
}

func (a *Adapter) Name() string { return string(model.SourceExternal) }

// SetEnabled toggles detection by the learned model
func (a *Adapter) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
	a.logger.Info("NER detection toggled", zap.Bool("enabled", enabled))
}

// Enabled reports whether the adapter submits jobs
func (a *Adapter) Enabled() bool { return a.enabled.Load() }

// DetectAsync runs Detect in the background. The channel receives exactly
// one Result.
func (a *Adapter) DetectAsync(ctx context.Context, docs []*model.Document) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		entities, err := a.Detect(ctx, docs)
		out <- Result{Entities: entities, Err: err}
	}()
	return out
}

// Detect submits the concatenated documents as one NER job and returns the
// translated entities. On any failure it returns no entities and an error
// wrapping ErrUnavailable.
func (a *Adapter) Detect(ctx context.Context, docs []*model.Document) ([]*model.PIIEntity, error) {
	if !a.Enabled() {
		return nil, nil
	}
	if a.jobs == nil {
		return nil, fmt.Errorf("%w: no job runner configured", ErrUnavailable)
	}

	concat := Concatenate(docs)
	if concat.Text == "" {
		return nil, nil
	}

	ctx, span := a.tracer.Start(ctx, "ner.Detect",
		trace.WithAttributes(
			attribute.Int("ner.documents", len(docs)),
			attribute.Int("ner.blocks", concat.Blocks()),
			attribute.Int("ner.bytes", len(concat.Text)),
		))
	defer span.End()

	result, err := a.run(ctx, concat.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ner job failed")
		a.logger.Warn("NER detection unavailable, continuing without it", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entities := a.translate(concat, result.Entities)
	span.SetAttributes(attribute.Int("ner.entities", len(entities)))
	return entities, nil
}

func (a *Adapter) run(ctx context.Context, text string) (jobs.NERResult, error) {
	var key string
	if a.cache != nil {
		key = a.cache.Key(cacheNamespace, text)
		if data, ok := a.cache.Get(ctx, key); ok {
			var cached jobs.NERResult
			if err := json.Unmarshal(data, &cached); err == nil {
				a.logger.Debug("NER result served from cache", zap.Int("spans", len(cached.Entities)))
				return cached, nil
			}
		}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	future, err := a.jobs.Submit(ctx, jobs.KindNER, jobs.NERPayload{Text: text})
	if err != nil {
		return jobs.NERResult{}, fmt.Errorf("submit ner job: %w", err)
	}
	resp, err := future.Await(ctx)
	if err != nil {
		return jobs.NERResult{}, fmt.Errorf("await ner job %s: %w", future.ID, err)
	}
	result, err := jobs.Decode[jobs.NERResult](resp)
	if err != nil {
		return jobs.NERResult{}, err
	}

	if a.cache != nil {
		data, err := json.Marshal(stripText(result))
		if err == nil {
			err = a.cache.Set(ctx, key, data)
		}
		if err != nil {
			a.logger.Warn("Failed to cache NER result", zap.Error(err))
		}
	}
	return result, nil
}

// stripText drops matched text so the cache never holds PII
func stripText(r jobs.NERResult) jobs.NERResult {
	spans := make([]jobs.NERSpan, len(r.Entities))
	for i, s := range r.Entities {
		s.Text = ""
		spans[i] = s
	}
	return jobs.NERResult{Entities: spans}
}

func (a *Adapter) translate(concat *Concatenation, spans []jobs.NERSpan) []*model.PIIEntity {
	counter := model.NewTokenCounter(a.tokenBase)
	entities := make([]*model.PIIEntity, 0, len(spans))
	discarded := 0

	for _, s := range spans {
		if s.Confidence < a.minScore {
			continue
		}
		loc, ok := concat.Locate(s.Start, s.Length)
		if !ok {
			discarded++
			a.logger.Warn("Discarding NER span outside a single block",
				zap.Int("start", s.Start),
				zap.Int("length", s.Length),
				zap.String("label", s.Type),
			)
			continue
		}

		piiType := MapLabel(s.Type)
		entities = append(entities, &model.PIIEntity{
			ID:           uuid.NewString(),
			Token:        counter.Next(piiType),
			Type:         piiType,
			DocumentID:   loc.DocumentID,
			BlockID:      loc.BlockID,
			Start:        loc.Start,
			Length:       loc.Length,
			TextOriginal: concat.Text[s.Start : s.Start+s.Length],
			Confidence:   clamp01(s.Confidence),
			Source:       model.SourceExternal,
			Status:       model.StatusPending,
		})
	}

	a.logger.Debug("NER spans translated",
		zap.Int("spans", len(spans)),
		zap.Int("entities", len(entities)),
		zap.Int("discarded", discarded),
	)
	return entities
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
