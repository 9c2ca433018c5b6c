package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/raaihank/doc-sentinel/internal/cache"
	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/ingest"
	"github.com/raaihank/doc-sentinel/internal/jobs"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/ner"
	"github.com/raaihank/doc-sentinel/internal/privacy"
	"github.com/raaihank/doc-sentinel/internal/redaction"
	"github.com/raaihank/doc-sentinel/internal/store"
	"github.com/raaihank/doc-sentinel/internal/telemetry"
	"go.uber.org/zap"
)

const onnxMaxSequence = 512

// Assemble builds an engine and its collaborators from cfg. Optional
// backends (Redis, Postgres) that cannot be reached are logged and skipped.
// The returned cleanup closes everything Assemble opened.
func Assemble(ctx context.Context, cfg *config.Config, tel *telemetry.Provider, pub Publisher, log *logger.Logger) (*Engine, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("Cleanup failed", zap.Error(err))
			}
		}
	}
	fail := func(err error) (*Engine, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	observer := func(kind jobs.Kind, success bool, elapsed time.Duration) {
		tel.RecordJob(context.Background(), string(kind), success, float64(elapsed.Microseconds())/1000)
	}

	var nerSubmitter ner.Submitter
	if cfg.NER.Enabled {
		runner, err := newNERRunner(cfg, observer, log)
		if err != nil {
			log.Warn("NER backend unavailable; continuing with pattern and heuristic detection", zap.Error(err))
		} else {
			d := jobs.NewDispatcher(runner, log)
			closers = append(closers, d.Close)
			nerSubmitter = d
		}
	}

	var nerCache ner.Cache
	if cfg.Cache.Enabled {
		rc, err := cache.NewResultCache(cfg.Cache, cfg.NER.CacheTTL, log)
		if err != nil {
			log.Warn("NER result cache disabled", zap.Error(err))
		} else {
			closers = append(closers, rc.Close)
			nerCache = rc
		}
	}

	nerAdapter := ner.NewAdapter(nerSubmitter, nerCache, ner.Options{
		Enabled:   cfg.NER.Enabled,
		TokenBase: cfg.NER.TokenBase,
		MinScore:  cfg.NER.MinScore,
		Timeout:   cfg.NER.Timeout,
	}, tel.Tracer(), log)

	var ocr ingest.OCR
	if cfg.OCR.Enabled {
		runner := jobs.NewHTTPRunner(map[jobs.Kind]string{jobs.KindOCR: cfg.OCR.Endpoint},
			cfg.OCR.Timeout, cfg.Jobs.RequestsPerSecond, cfg.Jobs.Burst, observer, log)
		d := jobs.NewDispatcher(runner, log)
		closers = append(closers, d.Close)
		ocr = ingest.NewJobOCR(d, cfg.OCR.Timeout)
	}

	textSink, mappingWriter, err := redaction.NewSinks(ctx, cfg.Export)
	if err != nil {
		return fail(fmt.Errorf("failed to create export sinks: %w", err))
	}
	verifier, err := privacy.NewPatternDetector([]string{"all"}, log)
	if err != nil {
		return fail(fmt.Errorf("failed to create verifier: %w", err))
	}
	pipeline := redaction.NewPipeline(verifier, textSink, mappingWriter, redaction.Options{
		TextName:    cfg.Export.TextName,
		MappingName: cfg.Export.MappingName,
	}, tel.Tracer(), log)

	components := Components{
		Loader:    ingest.NewLoader(ocr, log),
		NER:       nerAdapter,
		Pipeline:  pipeline,
		Publisher: pub,
		Telemetry: tel,
	}

	if cfg.Database.Enabled {
		repo, err := store.NewRepository(cfg.Database, log)
		if err != nil {
			log.Warn("Snapshot persistence disabled", zap.Error(err))
		} else {
			closers = append(closers, repo.Close)
			components.Repository = repo
		}
	}

	e, err := New(cfg, components, log)
	if err != nil {
		return fail(err)
	}
	return e, cleanup, nil
}

func newNERRunner(cfg *config.Config, observer jobs.Observer, log *logger.Logger) (jobs.Runner, error) {
	switch cfg.NER.Backend {
	case "onnx":
		handler, err := ner.NewONNXHandler(cfg.NER.ModelPath, cfg.NER.VocabPath, cfg.NER.Labels, onnxMaxSequence, log)
		if err != nil {
			return nil, err
		}
		runner := jobs.NewLocalRunner(cfg.Jobs.Workers, cfg.Jobs.QueueSize,
			map[jobs.Kind]jobs.Handler{jobs.KindNER: handler}, observer, log)
		return &closingRunner{Runner: runner, close: handler.Close}, nil
	default:
		return jobs.NewHTTPRunner(map[jobs.Kind]string{jobs.KindNER: cfg.NER.Endpoint},
			cfg.NER.Timeout, cfg.Jobs.RequestsPerSecond, cfg.Jobs.Burst, observer, log), nil
	}
}

// closingRunner releases the model session after the workers stop
type closingRunner struct {
	jobs.Runner
	close func() error
}

func (r *closingRunner) Close() error {
	err := r.Runner.Close()
	if cerr := r.close(); err == nil {
		err = cerr
	}
	return err
}
