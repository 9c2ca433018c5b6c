package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/ingest"
	"github.com/raaihank/doc-sentinel/internal/jobs"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"github.com/raaihank/doc-sentinel/internal/ner"
	"github.com/raaihank/doc-sentinel/internal/overlay"
	"github.com/raaihank/doc-sentinel/internal/redaction"
	"github.com/raaihank/doc-sentinel/internal/store"
	"github.com/raaihank/doc-sentinel/internal/websocket"
)

const sample = "Titular: Joan Garcia, email maria@example.com"

type recorder struct {
	mu     sync.Mutex
	events []websocket.EventType
}

func (r *recorder) Publish(_ string, t websocket.EventType, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
}

func (r *recorder) count(t websocket.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == t {
			n++
		}
	}
	return n
}

type memRepository struct {
	mu    sync.Mutex
	snaps map[string]*store.Snapshot
	last  string
}

func (m *memRepository) SaveSnapshot(_ context.Context, snap *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = make(map[string]*store.Snapshot)
	}
	m.snaps[snap.BatchID] = snap
	m.last = snap.BatchID
	return nil
}

func (m *memRepository) LoadSnapshot(_ context.Context, batchID string) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[batchID]
	if !ok {
		return nil, errors.New("batch not found")
	}
	return snap, nil
}

func (m *memRepository) LatestBatch(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func newEngine(t *testing.T, c Components) (*Engine, string) {
	t.Helper()
	log := logger.NewNop()
	dir := t.TempDir()

	sink, err := redaction.NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.GetDefaults()
	verifier, err := privacyVerifier(log)
	if err != nil {
		t.Fatal(err)
	}
	c.Loader = ingest.NewLoader(nil, log)
	c.Pipeline = redaction.NewPipeline(verifier, sink, &redaction.BlobMappingWriter{Sink: sink}, redaction.Options{}, noopTracer(), log)

	e, err := New(cfg, c, log)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e, dir
}

func findEntity(t *testing.T, e *Engine, typ model.PIIType) *model.PIIEntity {
	t.Helper()
	found := e.Entities(store.Filter{Type: typ})
	if len(found) != 1 {
		t.Fatalf("expected one %s entity, got %d", typ, len(found))
	}
	return found[0]
}

func TestReviewAndExport(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	repo := &memRepository{}
	e, dir := newEngine(t, Components{Publisher: pub, Repository: repo})

	summary, err := e.Process(ctx, nil, sample)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if summary.Documents != 1 || summary.Entities != 2 || summary.Pending != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.BySource["pattern"] != 1 || summary.BySource["heuristic"] != 1 {
		t.Errorf("unexpected per-source counts %v", summary.BySource)
	}
	if pub.count(websocket.EventTypeDetection) != 1 {
		t.Error("expected one detection event")
	}

	person := findEntity(t, e, model.TypePerson)
	email := findEntity(t, e, model.TypeEmail)

	t.Run("BlockedWhilePending", func(t *testing.T) {
		res, err := e.Export(ctx)
		if !errors.Is(err, redaction.ErrPendingEntities) {
			t.Fatalf("expected pending error, got %v", err)
		}
		if res.State != redaction.StateBlocked || res.Pending != 1 {
			t.Errorf("unexpected result %+v", res)
		}
		if e.Status().Level != "warn" {
			t.Errorf("expected warn status, got %+v", e.Status())
		}
	})

	t.Run("Approve", func(t *testing.T) {
		got, err := e.Approve(ctx, person.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.StatusApproved || e.PendingCount() != 0 {
			t.Errorf("approve did not resolve entity: %+v", got)
		}
		if pub.count(websocket.EventTypeEntityUpdated) != 1 {
			t.Error("expected an entity update event")
		}
	})

	t.Run("RejectedStructuredPIIBlocksExport", func(t *testing.T) {
		if _, err := e.Toggle(ctx, email.ID); err != nil {
			t.Fatal(err)
		}
		_, err := e.Export(ctx)
		var leakErr *redaction.LeakError
		if !errors.As(err, &leakErr) || leakErr.Leaks[0].Type != model.TypeEmail {
			t.Fatalf("expected email leak, got %v", err)
		}
		if _, err := e.Toggle(ctx, email.ID); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Exported", func(t *testing.T) {
		res, err := e.Export(ctx)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		if res.State != redaction.StateExported {
			t.Fatalf("unexpected state %s", res.State)
		}

		text, err := os.ReadFile(filepath.Join(dir, res.ExportID, "document_anonimitzat.md"))
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(text), "maria@example.com") || strings.Contains(string(text), "Joan") {
			t.Errorf("redacted text leaks PII: %s", text)
		}

		raw, err := os.ReadFile(filepath.Join(dir, res.ExportID, "mapping_pii.json"))
		if err != nil {
			t.Fatal(err)
		}
		var mapping map[string]interface{}
		if err := json.Unmarshal(raw, &mapping); err != nil {
			t.Fatalf("mapping is not JSON: %v", err)
		}
		if pub.count(websocket.EventTypeExport) != 3 {
			t.Errorf("expected 3 export events, got %d", pub.count(websocket.EventTypeExport))
		}
	})

	t.Run("Restore", func(t *testing.T) {
		if _, err := e.Process(ctx, nil, "nothing to see"); err != nil {
			t.Fatal(err)
		}
		restored, err := e.Restore(ctx, summary.BatchID)
		if err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if restored.Entities != 2 || restored.Pending != 0 || e.BatchID() != summary.BatchID {
			t.Errorf("unexpected restore %+v", restored)
		}
	})
}

func TestProcessErrors(t *testing.T) {
	e, _ := newEngine(t, Components{})

	if _, err := e.Process(context.Background(), nil, "   "); !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
	if _, err := e.Approve(context.Background(), "missing"); !errors.Is(err, store.ErrEntityNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := e.Restore(context.Background(), ""); err == nil {
		t.Error("expected error without repository")
	}
}

func TestRender(t *testing.T) {
	e, _ := newEngine(t, Components{})
	if _, err := e.Process(context.Background(), nil, sample); err != nil {
		t.Fatal(err)
	}
	doc := e.Documents()[0]

	original, err := e.Render(doc.ID, overlay.ModeOriginal)
	if err != nil {
		t.Fatal(err)
	}
	if original.Blocks[0].Text != sample {
		t.Errorf("original rendering changed text: %q", original.Blocks[0].Text)
	}

	redacted, err := e.Render(doc.ID, overlay.ModeRedacted)
	if err != nil {
		t.Fatal(err)
	}
	email := findEntity(t, e, model.TypeEmail)
	if !strings.Contains(redacted.Blocks[0].Text, overlay.Placeholder(email.Token)) {
		t.Errorf("redacted rendering misses placeholder: %q", redacted.Blocks[0].Text)
	}
	if !strings.Contains(redacted.HTML, email.Token) {
		t.Error("HTML misses entity token")
	}

	if _, err := e.Render("missing", overlay.ModeOriginal); !errors.Is(err, store.ErrDocumentNotFound) {
		t.Errorf("expected document not found, got %v", err)
	}
}

func TestProcessWithNER(t *testing.T) {
	log := logger.NewNop()
	const text = "Reunió a Girona dilluns"

	t.Run("EntitiesMerged", func(t *testing.T) {
		handler := jobs.HandlerFunc(func(_ context.Context, payload json.RawMessage) (any, error) {
			var in jobs.NERPayload
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, err
			}
			i := strings.Index(in.Text, "Girona")
			return jobs.NERResult{Entities: []jobs.NERSpan{
				{Start: i, Length: len("Girona"), Type: "B-LOC", Text: "Girona", Confidence: 0.92},
			}}, nil
		})
		d := jobs.NewDispatcher(jobs.NewLocalRunner(1, 4, map[jobs.Kind]jobs.Handler{jobs.KindNER: handler}, nil, log), log)
		t.Cleanup(func() { d.Close() })

		adapter := ner.NewAdapter(d, nil, ner.Options{Enabled: true, TokenBase: 5000}, nil, log)
		e, _ := newEngine(t, Components{NER: adapter})

		summary, err := e.Process(context.Background(), nil, text)
		if err != nil {
			t.Fatal(err)
		}
		if !summary.NERAvailable || summary.BySource["external"] != 1 {
			t.Fatalf("unexpected summary %+v", summary)
		}
		loc := findEntity(t, e, model.TypeLocation)
		if loc.TextOriginal != "Girona" || loc.Status != model.StatusPending || loc.Token != "LOCATION_5000" {
			t.Errorf("unexpected NER entity %+v", loc)
		}
	})

	t.Run("DegradesWhenUnavailable", func(t *testing.T) {
		adapter := ner.NewAdapter(nil, nil, ner.Options{Enabled: true}, nil, log)
		e, _ := newEngine(t, Components{NER: adapter})

		summary, err := e.Process(context.Background(), nil, text+" a@b.com")
		if err != nil {
			t.Fatalf("NER failure must not fail the batch: %v", err)
		}
		if summary.NERAvailable || summary.Entities != 1 {
			t.Errorf("unexpected summary %+v", summary)
		}
		if summary.Status.Level != "warn" || !strings.Contains(summary.Status.Message, "NER unavailable") {
			t.Errorf("unexpected status %+v", summary.Status)
		}
	})

	t.Run("Toggle", func(t *testing.T) {
		e, _ := newEngine(t, Components{})
		if e.NEREnabled() {
			t.Fatal("NER should start disabled")
		}
		e.SetNEREnabled(true)
		if !e.NEREnabled() {
			t.Error("toggle had no effect")
		}
	})
}

func TestApplyConfig(t *testing.T) {
	e, _ := newEngine(t, Components{})
	cfg := config.GetDefaults()
	cfg.Detection.Rules = []string{"PHONE"}
	cfg.Detection.HeuristicEnabled = false

	if err := e.ApplyConfig(cfg); err != nil {
		t.Fatal(err)
	}
	summary, err := e.Process(context.Background(), nil, sample+" 612345678")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Entities != 1 || summary.Pending != 0 {
		t.Errorf("reloaded rules not applied: %+v", summary)
	}

	cfg.Detection.Rules = []string{"PASSPORT"}
	if err := e.ApplyConfig(cfg); err == nil {
		t.Error("expected error for unknown rule")
	}
}
