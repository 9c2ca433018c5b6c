package redaction

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"github.com/raaihank/doc-sentinel/internal/privacy"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func newScanner(t *testing.T) *privacy.PatternDetector {
	t.Helper()
	d, err := privacy.NewPatternDetector([]string{"all"}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create scanner: %v", err)
	}
	return d
}

func fixture() ([]*model.Document, []*model.PIIEntity) {
	doc := &model.Document{ID: "d1", OriginalName: "contract.txt", Kind: model.KindText}
	doc.AddBlock(model.BlockHeading, "Contract")
	body := doc.AddBlock(model.BlockParagraph, "Contact John at john@x.com")

	entities := []*model.PIIEntity{
		{ID: "e1", Token: "EMAIL_0001", Type: model.TypeEmail, DocumentID: "d1", BlockID: body.ID, Start: 16, Length: 10, TextOriginal: "john@x.com", Status: model.StatusApproved},
		{ID: "e2", Token: "PERSON_1000", Type: model.TypePerson, DocumentID: "d1", BlockID: body.ID, Start: 8, Length: 4, TextOriginal: "John", Status: model.StatusApproved},
		{ID: "e3", Token: "LOCATION_5000", Type: model.TypeLocation, DocumentID: "d1", BlockID: body.ID, Start: 0, Length: 7, TextOriginal: "Contact", Status: model.StatusRejected},
	}
	return []*model.Document{doc}, entities
}

func TestApplyTokensRightToLeft(t *testing.T) {
	text := "Contact John at john@x.com"
	want := "Contact PERSON_1000 at EMAIL_0001"

	for _, emailLen := range []int{10, 11} {
		entities := []*model.PIIEntity{
			{ID: "a", Token: "EMAIL_0001", Start: 16, Length: emailLen},
			{ID: "b", Token: "PERSON_1000", Start: 8, Length: 4},
		}
		if got := ApplyTokens(text, entities); got != want {
			t.Errorf("length %d: got %q, want %q", emailLen, got, want)
		}
	}
}

func TestApplyTokensMergesOverlaps(t *testing.T) {
	text := "Contact Joan Garcia Lopez today"

	tests := []struct {
		name     string
		entities []*model.PIIEntity
		want     string
	}{
		{
			name: "Chained",
			entities: []*model.PIIEntity{
				{ID: "a", Token: "PERSON_5000", Start: 8, Length: 11},
				{ID: "b", Token: "PERSON_5001", Start: 13, Length: 12},
			},
			want: "Contact PERSON_5000 today",
		},
		{
			name: "Nested",
			entities: []*model.PIIEntity{
				{ID: "a", Token: "PERSON_5000", Start: 13, Length: 6},
				{ID: "b", Token: "PERSON_1000", Start: 8, Length: 17},
			},
			want: "Contact PERSON_1000 today",
		},
		{
			name: "ThreeWay",
			entities: []*model.PIIEntity{
				{ID: "a", Token: "PERSON_5000", Start: 8, Length: 4},
				{ID: "b", Token: "PERSON_5001", Start: 10, Length: 9},
				{ID: "c", Token: "PERSON_5002", Start: 18, Length: 13},
			},
			want: "Contact PERSON_5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyTokens(text, tt.entities); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func overlapFixture() ([]*model.Document, []*model.PIIEntity) {
	doc := &model.Document{ID: "d1", OriginalName: "names.txt", Kind: model.KindText}
	block := doc.AddBlock(model.BlockParagraph, "Contact Joan Garcia Lopez today")

	entities := []*model.PIIEntity{
		{ID: "e1", Token: "PERSON_5000", Type: model.TypePerson, DocumentID: "d1", BlockID: block.ID, Start: 8, Length: 11, TextOriginal: "Joan Garcia", Status: model.StatusApproved},
		{ID: "e2", Token: "PERSON_5001", Type: model.TypePerson, DocumentID: "d1", BlockID: block.ID, Start: 13, Length: 12, TextOriginal: "Garcia Lopez", Status: model.StatusApproved},
	}
	return []*model.Document{doc}, entities
}

func TestBuildMappingMergesOverlaps(t *testing.T) {
	docs, entities := overlapFixture()
	m := BuildMapping(docs, entities, time.Now())

	if len(m.Entities) != 1 {
		t.Fatalf("expected one mapping entry, got %+v", m.Entities)
	}
	got := m.Entities[0]
	if got.Token != "PERSON_5000" || got.Original != "Joan Garcia Lopez" {
		t.Errorf("unexpected entry %+v", got)
	}
	if len(got.Merged) != 1 || got.Merged[0] != "PERSON_5001" {
		t.Errorf("merged = %v", got.Merged)
	}
}

func TestRedactWorksOnCopies(t *testing.T) {
	docs, entities := fixture()
	out := Redact(docs, entities)

	if got := out[0].Blocks[1].Text; got != "Contact PERSON_1000 at EMAIL_0001" {
		t.Fatalf("unexpected redacted text %q", got)
	}
	if docs[0].Blocks[1].Text != "Contact John at john@x.com" {
		t.Fatal("source document was mutated")
	}
}

func TestBuildMarkdown(t *testing.T) {
	docs, entities := fixture()
	md := BuildMarkdown(Redact(docs, entities))
	want := "# Document: contract.txt\n\n## Contract\n\nContact PERSON_1000 at EMAIL_0001\n\n"
	if md != want {
		t.Fatalf("got %q, want %q", md, want)
	}
}

func TestBuildMappingApprovedOnly(t *testing.T) {
	docs, entities := fixture()
	m := BuildMapping(docs, entities, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))

	if len(m.Entities) != 2 {
		t.Fatalf("expected 2 mapping entries, got %d", len(m.Entities))
	}
	for _, e := range m.Entities {
		if e.Token == "LOCATION_5000" {
			t.Error("rejected entity present in mapping")
		}
	}
	if m.GeneratedAt != "2025-01-02T03:04:05Z" {
		t.Errorf("generatedAt = %s", m.GeneratedAt)
	}
	if len(m.Documents) != 1 || m.Documents[0].OriginalName != "contract.txt" {
		t.Errorf("documents = %+v", m.Documents)
	}
}

type memSink struct {
	puts   map[string][]byte
	err    error
	failOn string
	delErr error
}

func (s *memSink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.failOn != "" && strings.HasSuffix(name, s.failOn) {
		return "", errors.New("bucket unavailable")
	}
	if s.puts == nil {
		s.puts = make(map[string][]byte)
	}
	s.puts[name] = data
	return "mem://" + name, nil
}

func (s *memSink) Delete(_ context.Context, name string) error {
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.puts, name)
	return nil
}

func newPipeline(t *testing.T, sink *memSink) *Pipeline {
	return NewPipeline(newScanner(t), sink, &BlobMappingWriter{Sink: sink}, Options{}, tracenoop.NewTracerProvider().Tracer(""), logger.NewNop())
}

func TestPipelineExport(t *testing.T) {
	t.Run("Exported", func(t *testing.T) {
		sink := &memSink{}
		docs, entities := fixture()

		res, err := newPipeline(t, sink).Export(context.Background(), docs, entities)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		wantTrail := []State{StateReady, StateRedacting, StateVerifying, StateExported}
		if len(res.Trail) != len(wantTrail) {
			t.Fatalf("trail = %v", res.Trail)
		}
		for i := range wantTrail {
			if res.Trail[i] != wantTrail[i] {
				t.Fatalf("trail = %v", res.Trail)
			}
		}

		text := sink.puts[res.ExportID+"/document_anonimitzat.md"]
		if !strings.Contains(string(text), "PERSON_1000") || strings.Contains(string(text), "john@x.com") {
			t.Errorf("unexpected exported text %q", text)
		}

		var m Mapping
		if err := json.Unmarshal(sink.puts[res.ExportID+"/mapping_pii.json"], &m); err != nil {
			t.Fatalf("mapping not valid JSON: %v", err)
		}
		if len(m.Entities) != 2 {
			t.Errorf("mapping entities = %d", len(m.Entities))
		}
	})

	t.Run("PendingRefused", func(t *testing.T) {
		sink := &memSink{}
		docs, entities := fixture()
		entities[2].Status = model.StatusPending

		res, err := newPipeline(t, sink).Export(context.Background(), docs, entities)
		if !errors.Is(err, ErrPendingEntities) {
			t.Fatalf("expected ErrPendingEntities, got %v", err)
		}
		if res.State != StateBlocked || res.Pending != 1 || len(sink.puts) != 0 {
			t.Fatalf("unexpected result %+v", res)
		}
		if !IsBlocking(err) {
			t.Error("pending refusal should be blocking")
		}
	})

	t.Run("ResidualLeakBlocks", func(t *testing.T) {
		sink := &memSink{}
		docs, entities := fixture()
		docs[0].AddBlock(model.BlockParagraph, "Pay to ES91 2100 0418 4502 0005 1332 today")

		res, err := newPipeline(t, sink).Export(context.Background(), docs, entities)
		var leakErr *LeakError
		if !errors.As(err, &leakErr) {
			t.Fatalf("expected LeakError, got %v", err)
		}
		if res.State != StateBlocked || len(sink.puts) != 0 {
			t.Fatalf("artifacts written despite leak: %+v", sink.puts)
		}
		found := false
		for _, l := range leakErr.Leaks {
			if l.Type == model.TypeIBAN && l.Line == 7 {
				found = true
			}
		}
		if !found {
			t.Errorf("IBAN leak not reported: %+v", leakErr.Leaks)
		}
		if strings.Contains(err.Error(), "2100") {
			t.Error("leak error must not echo matched text")
		}
	})

	t.Run("SinkFailure", func(t *testing.T) {
		sink := &memSink{err: errors.New("disk full")}
		docs, entities := fixture()

		res, err := newPipeline(t, sink).Export(context.Background(), docs, entities)
		if err == nil || IsBlocking(err) {
			t.Fatalf("expected sink error, got %v", err)
		}
		if res.State != StateBlocked {
			t.Errorf("state = %s", res.State)
		}
	})

	t.Run("OverlappingApprovedSpans", func(t *testing.T) {
		sink := &memSink{}
		docs, entities := overlapFixture()

		res, err := newPipeline(t, sink).Export(context.Background(), docs, entities)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		text := string(sink.puts[res.ExportID+"/document_anonimitzat.md"])
		if !strings.Contains(text, "Contact PERSON_5000 today") {
			t.Errorf("unexpected exported text %q", text)
		}
		for _, word := range []string{"Joan", "Garcia", "Lopez"} {
			if strings.Contains(text, word) {
				t.Errorf("approved text %q left in export", word)
			}
		}

		var m Mapping
		if err := json.Unmarshal(sink.puts[res.ExportID+"/mapping_pii.json"], &m); err != nil {
			t.Fatalf("mapping not valid JSON: %v", err)
		}
		for _, e := range m.Entities {
			if !strings.Contains(text, e.Token) {
				t.Errorf("mapping lists %s which is absent from the export", e.Token)
			}
		}
	})

	t.Run("TextFailureWithdrawsMapping", func(t *testing.T) {
		sink := &memSink{failOn: "document_anonimitzat.md"}
		docs, entities := fixture()

		res, err := newPipeline(t, sink).Export(context.Background(), docs, entities)
		if err == nil || IsBlocking(err) {
			t.Fatalf("expected sink error, got %v", err)
		}
		if res.State != StateBlocked || res.MappingLocation != "" {
			t.Errorf("unexpected result %+v", res)
		}
		if len(sink.puts) != 0 {
			t.Errorf("artifacts left behind: %v", len(sink.puts))
		}
	})

	t.Run("WithdrawFailureReported", func(t *testing.T) {
		sink := &memSink{failOn: "document_anonimitzat.md", delErr: errors.New("access denied")}
		docs, entities := fixture()

		res, err := newPipeline(t, sink).Export(context.Background(), docs, entities)
		if err == nil || !strings.Contains(err.Error(), "withdraw mapping") {
			t.Fatalf("expected withdraw error, got %v", err)
		}
		if res.MappingLocation == "" {
			t.Error("orphaned mapping location should stay reported")
		}
	})
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}

	loc, err := sink.Put(context.Background(), "exp1/out.md", contentTypeMarkdown, []byte("hello"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if loc != filepath.Join(dir, "exp1", "out.md") {
		t.Errorf("location = %s", loc)
	}
	data, _ := os.ReadFile(loc)
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	if _, err := sink.Put(context.Background(), "../escape.md", contentTypeMarkdown, nil); err == nil {
		t.Error("expected error for non-local name")
	}

	if err := sink.Delete(context.Background(), "exp1/out.md"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(loc); !os.IsNotExist(err) {
		t.Errorf("artifact still present: %v", err)
	}
	if err := sink.Delete(context.Background(), "exp1/out.md"); err != nil {
		t.Errorf("deleting a missing artifact failed: %v", err)
	}
}
