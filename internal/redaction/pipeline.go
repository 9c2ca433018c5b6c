package redaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const withdrawTimeout = 10 * time.Second

// Options names the exported artifacts
type Options struct {
	TextName    string
	MappingName string
}

// Result describes one export attempt
type Result struct {
	ExportID        string   `json:"exportId"`
	State           State    `json:"state"`
	Trail           []State  `json:"trail"`
	Pending         int      `json:"pending,omitempty"`
	Leaks           []Leak   `json:"leaks,omitempty"`
	TextLocation    string   `json:"textLocation,omitempty"`
	MappingLocation string   `json:"mappingLocation,omitempty"`
	Markdown        string   `json:"-"`
	Mapping         *Mapping `json:"-"`
}

func (r *Result) enter(s State) {
	r.State = s
	r.Trail = append(r.Trail, s)
}

// Pipeline redacts a snapshot, verifies it and writes the artifacts
type Pipeline struct {
	scanner       Scanner
	textSink      ArtifactSink
	mappingWriter MappingWriter
	opts          Options
	tracer        trace.Tracer
	logger        *logger.Logger
	now           func() time.Time
}

// NewPipeline creates an export pipeline. The scanner should carry every
// structured rule so verification stays fail-closed even when some rules
// are disabled for detection.
func NewPipeline(scanner Scanner, textSink ArtifactSink, mappingWriter MappingWriter, opts Options, tracer trace.Tracer, log *logger.Logger) *Pipeline {
	if opts.TextName == "" {
		opts.TextName = "document_anonimitzat.md"
	}
	if opts.MappingName == "" {
		opts.MappingName = "mapping_pii.json"
	}
	return &Pipeline{
		scanner:       scanner,
		textSink:      textSink,
		mappingWriter: mappingWriter,
		opts:          opts,
		tracer:        tracer,
		logger:        log.WithComponent("redaction"),
		now:           time.Now,
	}
}

// Export runs the state machine over a stable snapshot. docs and entities
// are read only; redaction happens on deep copies. On ErrPendingEntities
// or *LeakError no artifact is written.
func (p *Pipeline) Export(ctx context.Context, docs []*model.Document, entities []*model.PIIEntity) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "redaction.Export")
	defer span.End()

	res := &Result{ExportID: uuid.NewString()}
	log := p.logger.With(zap.String("export_id", res.ExportID))

	res.enter(StateFor(entities))
	if res.State == StateReview {
		res.Pending = CountPending(entities)
		res.enter(StateBlocked)
		log.Warn("Export refused with pending entities", zap.Int("pending", res.Pending))
		span.SetStatus(codes.Error, "pending entities")
		return res, fmt.Errorf("%w: %d pending", ErrPendingEntities, res.Pending)
	}

	res.enter(StateRedacting)
	redacted := Redact(docs, entities)
	res.Markdown = BuildMarkdown(redacted)

	res.enter(StateVerifying)
	res.Leaks = Verify(p.scanner, res.Markdown)
	span.SetAttributes(attribute.Int("docsentinel.residual_leaks", len(res.Leaks)))
	if len(res.Leaks) > 0 {
		for _, l := range res.Leaks {
			log.Warn("Residual PII after redaction",
				zap.String("entity_type", string(l.Type)),
				zap.Int("line", l.Line),
				zap.Int("offset", l.Offset),
			)
		}
		res.enter(StateBlocked)
		res.Markdown = ""
		span.SetStatus(codes.Error, "residual pii")
		return res, &LeakError{Leaks: res.Leaks}
	}

	res.Mapping = BuildMapping(docs, entities, p.now())

	// Mapping first so exported text never exists without its mapping
	loc, err := p.mappingWriter.WriteMapping(ctx, res.ExportID, p.opts.MappingName, res.Mapping)
	if err != nil {
		res.enter(StateBlocked)
		span.RecordError(err)
		return res, fmt.Errorf("write mapping: %w", err)
	}
	res.MappingLocation = loc

	loc, err = p.textSink.Put(ctx, res.ExportID+"/"+p.opts.TextName, contentTypeMarkdown, []byte(res.Markdown))
	if err != nil {
		err = fmt.Errorf("write redacted text: %w", err)
		if derr := p.withdrawMapping(ctx, res); derr != nil {
			log.Error("Mapping left behind by failed export",
				zap.String("mapping_location", res.MappingLocation), zap.Error(derr))
			err = errors.Join(err, derr)
		} else {
			res.MappingLocation = ""
		}
		res.enter(StateBlocked)
		span.RecordError(err)
		return res, err
	}
	res.TextLocation = loc

	res.enter(StateExported)
	log.Info("Export completed",
		zap.Int("documents", len(docs)),
		zap.Int("tokens", len(res.Mapping.Entities)),
		zap.String("text_location", res.TextLocation),
		zap.String("mapping_location", res.MappingLocation),
	)
	return res, nil
}

// withdrawMapping deletes the mapping of an export whose text never landed.
// Cancellation of ctx does not stop it.
func (p *Pipeline) withdrawMapping(ctx context.Context, res *Result) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), withdrawTimeout)
	defer cancel()
	if err := p.mappingWriter.DeleteMapping(ctx, res.ExportID, p.opts.MappingName, res.Mapping); err != nil {
		return fmt.Errorf("withdraw mapping: %w", err)
	}
	return nil
}

// IsBlocking reports whether err is a review-recoverable export refusal
func IsBlocking(err error) bool {
	var leakErr *LeakError
	return errors.Is(err, ErrPendingEntities) || errors.As(err, &leakErr)
}
