// Package engine coordinates a review batch: ingestion, detection,
// normalization, reviewer decisions and export. It owns the EntityStore;
// every other component works on copies handed out by it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/ingest"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"github.com/raaihank/doc-sentinel/internal/ner"
	"github.com/raaihank/doc-sentinel/internal/normalize"
	"github.com/raaihank/doc-sentinel/internal/overlay"
	"github.com/raaihank/doc-sentinel/internal/privacy"
	"github.com/raaihank/doc-sentinel/internal/redaction"
	"github.com/raaihank/doc-sentinel/internal/store"
	"github.com/raaihank/doc-sentinel/internal/telemetry"
	"github.com/raaihank/doc-sentinel/internal/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrNoDocuments is returned when a batch yields nothing to review
var ErrNoDocuments = errors.New("no documents could be ingested")

// Publisher receives live-view events. *websocket.Hub satisfies it.
type Publisher interface {
	Publish(batchID string, eventType websocket.EventType, data interface{})
}

// SnapshotRepository persists review batches. *store.Repository satisfies it.
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snap *store.Snapshot) error
	LoadSnapshot(ctx context.Context, batchID string) (*store.Snapshot, error)
	LatestBatch(ctx context.Context) (string, error)
}

// Components are the collaborators the engine drives. Only Loader and
// Pipeline are required.
type Components struct {
	Loader     *ingest.Loader
	NER        *ner.Adapter
	Pipeline   *redaction.Pipeline
	Repository SnapshotRepository
	Publisher  Publisher
	Telemetry  *telemetry.Provider
}

// Status is the latest coordinator status line
type Status struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// BatchSummary describes the outcome of a detection run
type BatchSummary struct {
	BatchID      string         `json:"batchId"`
	Documents    int            `json:"documents"`
	Entities     int            `json:"entities"`
	Pending      int            `json:"pending"`
	BySource     map[string]int `json:"bySource"`
	NERAvailable bool           `json:"nerAvailable"`
	Status       Status         `json:"status"`
}

// Engine is the single coordinator of a review session
type Engine struct {
	store      *store.EntityStore
	loader     *ingest.Loader
	ner        *ner.Adapter
	pipeline   *redaction.Pipeline
	renderer   *overlay.Renderer
	repository SnapshotRepository
	publisher  Publisher
	telemetry  *telemetry.Provider

	// run serializes batch-level operations
	run sync.Mutex

	mu               sync.RWMutex
	pattern          *privacy.PatternDetector
	heuristic        *privacy.HeuristicDetector
	heuristicEnabled bool
	status           Status

	logger *logger.Logger
}

// New creates an engine configured from cfg.Detection
func New(cfg *config.Config, c Components, log *logger.Logger) (*Engine, error) {
	if c.Loader == nil || c.Pipeline == nil {
		return nil, fmt.Errorf("engine requires a loader and a pipeline")
	}

	pattern, err := privacy.NewPatternDetector(cfg.Detection.Rules, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern detector: %w", err)
	}
	keywords, err := privacy.ResolveKeywords(cfg.Detection.Keywords, cfg.Detection.KeywordBundle)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve heuristic keywords: %w", err)
	}

	nerAdapter := c.NER
	if nerAdapter == nil {
		nerAdapter = ner.NewAdapter(nil, nil, ner.Options{}, c.Telemetry.Tracer(), log)
	}

	e := &Engine{
		store:            store.New(log),
		loader:           c.Loader,
		ner:              nerAdapter,
		pipeline:         c.Pipeline,
		renderer:         overlay.NewRenderer(log),
		repository:       c.Repository,
		publisher:        c.Publisher,
		telemetry:        c.Telemetry,
		pattern:          pattern,
		heuristic:        privacy.NewHeuristicDetector(keywords, cfg.Detection.LookaheadChars, cfg.Detection.HeuristicTokenBase, log),
		heuristicEnabled: cfg.Detection.HeuristicEnabled,
		logger:           log.WithComponent("engine"),
	}
	e.setStatus("info", "Ready. Load documents to start a review.")
	return e, nil
}

// Process starts a new batch: the store is cleared, inputs are ingested,
// every detector runs and the normalized entities are stored.
func (e *Engine) Process(ctx context.Context, inputs []ingest.Input, rawText string) (*BatchSummary, error) {
	e.run.Lock()
	defer e.run.Unlock()

	batchID := uuid.NewString()
	log := e.logger.WithBatch(batchID)

	ctx, span := e.telemetry.Tracer().Start(ctx, "engine.Process")
	defer span.End()
	span.SetAttributes(attribute.String("docsentinel.batch_id", batchID), attribute.Int("docsentinel.inputs", len(inputs)))

	e.store.Reset(batchID)
	e.setStatus("info", "Processing documents...")

	docs := e.loader.LoadAll(ctx, inputs, rawText)
	if len(docs) == 0 {
		e.setStatus("warn", "No documents could be ingested.")
		return nil, ErrNoDocuments
	}
	e.store.AddDocuments(docs...)
	docs = e.store.Documents()

	nerResult := e.ner.DetectAsync(ctx, docs)

	e.mu.RLock()
	pattern, heuristic, heuristicEnabled := e.pattern, e.heuristic, e.heuristicEnabled
	e.mu.RUnlock()

	found := pattern.Detect(docs)
	bySource := map[string]int{string(model.SourcePattern): len(found)}
	if heuristicEnabled {
		h := heuristic.Detect(docs)
		bySource[string(model.SourceHeuristic)] = len(h)
		found = append(found, h...)
	}

	nerAvailable := e.ner.Enabled()
	res := <-nerResult
	if res.Err != nil {
		nerAvailable = false
		log.Warn("Continuing without NER results", zap.Error(res.Err))
	}
	bySource[string(model.SourceExternal)] = len(res.Entities)
	found = append(found, res.Entities...)

	stored := e.store.AddEntities(normalize.Normalize(found))
	pending := e.store.PendingCount()

	for source, n := range bySource {
		e.telemetry.RecordDetections(ctx, source, n)
	}
	span.SetAttributes(attribute.Int("docsentinel.entities", stored), attribute.Int("docsentinel.pending", pending))

	msg := fmt.Sprintf("Detection complete (%d entities). %d pending.", stored, pending)
	level := "info"
	if res.Err != nil {
		msg += " NER unavailable, showing pattern and heuristic results only."
		level = "warn"
	}
	status := e.setStatus(level, msg)

	summary := &BatchSummary{
		BatchID:      batchID,
		Documents:    len(docs),
		Entities:     stored,
		Pending:      pending,
		BySource:     bySource,
		NERAvailable: nerAvailable,
		Status:       status,
	}

	log.Info("Batch processed",
		zap.Int("documents", summary.Documents),
		zap.Int("entities", summary.Entities),
		zap.Int("pending", summary.Pending),
	)

	e.persist(ctx)
	e.publish(websocket.EventTypeDetection, websocket.DetectionEvent{
		Documents:    summary.Documents,
		Entities:     summary.Entities,
		Pending:      summary.Pending,
		BySource:     bySource,
		NERAvailable: nerAvailable,
	})
	return summary, nil
}

// Documents returns the batch documents
func (e *Engine) Documents() []*model.Document { return e.store.Documents() }

// Document returns one document
func (e *Engine) Document(id string) (*model.Document, error) { return e.store.Document(id) }

// Entities returns the entities matching f
func (e *Engine) Entities(f store.Filter) []*model.PIIEntity { return e.store.Entities(f) }

// Entity returns one entity
func (e *Engine) Entity(id string) (*model.PIIEntity, error) { return e.store.Entity(id) }

// PendingCount returns the number of entities awaiting review
func (e *Engine) PendingCount() int { return e.store.PendingCount() }

// BatchID returns the current batch id
func (e *Engine) BatchID() string { return e.store.BatchID() }

// Approve marks an entity approved
func (e *Engine) Approve(ctx context.Context, id string) (*model.PIIEntity, error) {
	return e.review(ctx, id, func() (*model.PIIEntity, error) {
		return e.store.SetStatus(id, model.StatusApproved)
	})
}

// Reject marks an entity rejected
func (e *Engine) Reject(ctx context.Context, id string) (*model.PIIEntity, error) {
	return e.review(ctx, id, func() (*model.PIIEntity, error) {
		return e.store.SetStatus(id, model.StatusRejected)
	})
}

// Toggle flips an entity between approved and rejected
func (e *Engine) Toggle(ctx context.Context, id string) (*model.PIIEntity, error) {
	return e.review(ctx, id, func() (*model.PIIEntity, error) {
		return e.store.Toggle(id)
	})
}

func (e *Engine) review(ctx context.Context, id string, apply func() (*model.PIIEntity, error)) (*model.PIIEntity, error) {
	entity, err := apply()
	if err != nil {
		return nil, err
	}

	pending := e.store.PendingCount()
	if pending == 0 {
		e.setStatus("info", "All entities reviewed. Export is available.")
	} else {
		e.setStatus("info", fmt.Sprintf("%d entities pending review.", pending))
	}

	e.persist(ctx)
	e.publish(websocket.EventTypeEntityUpdated, websocket.EntityEvent{
		ID:      entity.ID,
		Token:   entity.Token,
		Type:    string(entity.Type),
		BlockID: entity.BlockID,
		Status:  string(entity.Status),
		Pending: pending,
	})
	return entity, nil
}

// RenderedBlock is one block of a rendering as plain text
type RenderedBlock struct {
	BlockID string          `json:"blockId"`
	Kind    model.BlockKind `json:"type"`
	Text    string          `json:"text"`
}

// Rendering is the overlay view of one document
type Rendering struct {
	DocumentID   string          `json:"docId"`
	OriginalName string          `json:"originalName"`
	Mode         overlay.Mode    `json:"mode"`
	HTML         string          `json:"html"`
	Blocks       []RenderedBlock `json:"blocks"`
}

// Render builds the original or redacted view of a document
func (e *Engine) Render(docID string, mode overlay.Mode) (*Rendering, error) {
	doc, err := e.store.Document(docID)
	if err != nil {
		return nil, err
	}
	entities := e.store.Entities(store.Filter{DocumentID: docID})

	r := &Rendering{
		DocumentID:   doc.ID,
		OriginalName: doc.OriginalName,
		Mode:         mode,
		HTML:         e.renderer.DocumentHTML(doc, entities, mode),
		Blocks:       make([]RenderedBlock, 0, len(doc.Blocks)),
	}
	for _, b := range doc.Blocks {
		r.Blocks = append(r.Blocks, RenderedBlock{
			BlockID: b.ID,
			Kind:    b.Kind,
			Text:    e.renderer.Text(b, entities, mode),
		})
	}
	return r, nil
}

// Export redacts a stable snapshot of the batch and writes the artifacts.
// Refusals (pending entities, residual leaks) leave the batch reviewable.
func (e *Engine) Export(ctx context.Context) (*redaction.Result, error) {
	e.run.Lock()
	defer e.run.Unlock()

	snap := e.store.Snapshot()
	res, err := e.pipeline.Export(ctx, snap.Documents, snap.Entities)

	var leakErr *redaction.LeakError
	outcome := "exported"
	switch {
	case errors.Is(err, redaction.ErrPendingEntities):
		outcome = "pending"
		e.setStatus("warn", fmt.Sprintf("Export blocked: %d entities pending review.", res.Pending))
	case errors.As(err, &leakErr):
		outcome = "leak"
		e.setStatus("warn", fmt.Sprintf("Export blocked: %d residual PII matches in the redacted text.", len(leakErr.Leaks)))
	case err != nil:
		outcome = "failed"
		e.setStatus("error", "Export failed: "+err.Error())
	default:
		e.setStatus("info", "Export complete.")
	}

	leaks := 0
	if res != nil {
		leaks = len(res.Leaks)
		e.publish(websocket.EventTypeExport, exportEvent(res))
	}
	e.telemetry.RecordExport(ctx, outcome, leaks)
	return res, err
}

func exportEvent(res *redaction.Result) websocket.ExportEvent {
	ev := websocket.ExportEvent{
		ExportID:        res.ExportID,
		State:           string(res.State),
		Pending:         res.Pending,
		TextLocation:    res.TextLocation,
		MappingLocation: res.MappingLocation,
	}
	for _, l := range res.Leaks {
		ev.Leaks = append(ev.Leaks, websocket.LeakEvent{
			Type:   string(l.Type),
			Offset: l.Offset,
			Length: l.Length,
			Line:   l.Line,
		})
	}
	return ev
}

// SetNEREnabled toggles detection by the learned model for later batches
func (e *Engine) SetNEREnabled(enabled bool) {
	e.ner.SetEnabled(enabled)
}

// NEREnabled reports whether NER runs on the next batch
func (e *Engine) NEREnabled() bool { return e.ner.Enabled() }

// ApplyConfig updates detector settings in place; used on config reload
func (e *Engine) ApplyConfig(cfg *config.Config) error {
	keywords, err := privacy.ResolveKeywords(cfg.Detection.Keywords, cfg.Detection.KeywordBundle)
	if err != nil {
		return fmt.Errorf("failed to resolve heuristic keywords: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.pattern.Configure(cfg.Detection.Rules); err != nil {
		return fmt.Errorf("failed to configure pattern rules: %w", err)
	}
	e.heuristic = privacy.NewHeuristicDetector(keywords, cfg.Detection.LookaheadChars, cfg.Detection.HeuristicTokenBase, e.logger)
	e.heuristicEnabled = cfg.Detection.HeuristicEnabled
	e.ner.SetEnabled(cfg.NER.Enabled)

	e.logger.Info("Detection settings reloaded",
		zap.Strings("rules", e.pattern.GetEnabledRules()),
		zap.Bool("heuristic", e.heuristicEnabled),
		zap.Bool("ner", cfg.NER.Enabled),
	)
	return nil
}

// Restore reloads a persisted batch; an empty id selects the latest one
func (e *Engine) Restore(ctx context.Context, batchID string) (*BatchSummary, error) {
	if e.repository == nil {
		return nil, fmt.Errorf("no snapshot repository configured")
	}

	e.run.Lock()
	defer e.run.Unlock()

	if batchID == "" {
		latest, err := e.repository.LatestBatch(ctx)
		if err != nil {
			return nil, err
		}
		batchID = latest
	}

	snap, err := e.repository.LoadSnapshot(ctx, batchID)
	if err != nil {
		return nil, err
	}
	stored := e.store.Restore(snap)
	pending := e.store.PendingCount()
	status := e.setStatus("info", fmt.Sprintf("Batch restored (%d entities). %d pending.", stored, pending))

	bySource := make(map[string]int)
	for _, en := range snap.Entities {
		bySource[string(en.Source)]++
	}
	return &BatchSummary{
		BatchID:   batchID,
		Documents: len(snap.Documents),
		Entities:  stored,
		Pending:   pending,
		BySource:  bySource,
		Status:    status,
	}, nil
}

// Status returns the latest status line
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) setStatus(level, message string) Status {
	s := Status{Level: level, Message: message, At: time.Now().UTC()}
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()

	e.publish(websocket.EventTypeStatus, websocket.StatusEvent{Level: level, Message: message})
	return s
}

func (e *Engine) publish(t websocket.EventType, data interface{}) {
	if e.publisher != nil {
		e.publisher.Publish(e.store.BatchID(), t, data)
	}
}

// persist saves the batch when a repository is configured. Failures are
// logged; review continues in memory.
func (e *Engine) persist(ctx context.Context) {
	if e.repository == nil {
		return
	}
	if err := e.repository.SaveSnapshot(ctx, e.store.Snapshot()); err != nil {
		e.logger.Warn("Failed to persist review snapshot", zap.Error(err))
	}
}
