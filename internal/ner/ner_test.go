package ner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/doc-sentinel/internal/jobs"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fixture() []*model.Document {
	d1 := model.NewDocument("a.txt", model.KindText)
	d1.AddBlock(model.BlockParagraph, "Joan Garcia viu a Girona")
	d1.AddBlock(model.BlockParagraph, "Treballa a Acme")
	d2 := model.NewDocument("b.txt", model.KindText)
	d2.AddBlock(model.BlockParagraph, "Maria")
	return []*model.Document{d1, d2}
}

func TestConcatenate(t *testing.T) {
	docs := fixture()
	c := Concatenate(docs)

	want := "Joan Garcia viu a Girona\nTreballa a Acme\n---\nMaria"
	if c.Text != want {
		t.Fatalf("Text = %q", c.Text)
	}
	if c.Blocks() != 3 {
		t.Fatalf("Blocks = %d", c.Blocks())
	}
}

func TestLocate(t *testing.T) {
	docs := fixture()
	c := Concatenate(docs)

	t.Run("first block", func(t *testing.T) {
		loc, ok := c.Locate(18, 6)
		if !ok || loc.BlockID != docs[0].Blocks[0].ID || loc.Start != 18 || loc.Length != 6 {
			t.Fatalf("unexpected %+v %v", loc, ok)
		}
	})

	t.Run("second block", func(t *testing.T) {
		start := strings.Index(c.Text, "Acme")
		loc, ok := c.Locate(start, 4)
		if !ok || loc.BlockID != docs[0].Blocks[1].ID || loc.Start != 11 {
			t.Fatalf("unexpected %+v %v", loc, ok)
		}
	})

	t.Run("second document", func(t *testing.T) {
		start := strings.Index(c.Text, "Maria")
		loc, ok := c.Locate(start, 5)
		if !ok || loc.DocumentID != docs[1].ID || loc.Start != 0 {
			t.Fatalf("unexpected %+v %v", loc, ok)
		}
	})

	t.Run("cross boundary", func(t *testing.T) {
		if _, ok := c.Locate(20, 10); ok {
			t.Error("span crossing blocks was accepted")
		}
	})

	t.Run("separator", func(t *testing.T) {
		start := strings.Index(c.Text, "---")
		if _, ok := c.Locate(start, 3); ok {
			t.Error("span on separator was accepted")
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, ok := c.Locate(len(c.Text)-1, 5); ok {
			t.Error("span past the end was accepted")
		}
		if _, ok := c.Locate(0, 0); ok {
			t.Error("empty span was accepted")
		}
	})
}

func TestLocateRuneBoundary(t *testing.T) {
	doc := model.NewDocument("c.txt", model.KindText)
	doc.AddBlock(model.BlockParagraph, "Adreça Núria")
	c := Concatenate([]*model.Document{doc})

	if _, ok := c.Locate(5, 2); ok {
		t.Error("span splitting a rune was accepted")
	}
	start := strings.Index(c.Text, "Núria")
	if _, ok := c.Locate(start, len("Núria")); !ok {
		t.Error("valid multibyte span rejected")
	}
}

func TestMapLabel(t *testing.T) {
	tests := map[string]model.PIIType{
		"PER":    model.TypePerson,
		"B-PER":  model.TypePerson,
		"i-loc":  model.TypeLocation,
		"ORG":    model.TypeOrganization,
		"MISC":   model.TypeMisc,
		"WEIRD":  model.TypeMisc,
		"PERSON": model.TypePerson,
	}
	for in, want := range tests {
		if got := MapLabel(in); got != want {
			t.Errorf("MapLabel(%q) = %s, want %s", in, got, want)
		}
	}
}

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Key(namespace, input string) string { return namespace + ":" + input }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) Set(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = data
	return nil
}

func newDispatcher(t *testing.T, handler jobs.HandlerFunc) *jobs.Dispatcher {
	t.Helper()
	runner := jobs.NewLocalRunner(1, 4, map[jobs.Kind]jobs.Handler{jobs.KindNER: handler}, nil, logger.NewNop())
	d := jobs.NewDispatcher(runner, logger.NewNop())
	t.Cleanup(func() { d.Close() })
	return d
}

// spanHandler reports the given words wherever they occur in the payload
func spanHandler(calls *int, words map[string]string) jobs.HandlerFunc {
	var mu sync.Mutex
	return func(_ context.Context, payload json.RawMessage) (any, error) {
		mu.Lock()
		*calls++
		mu.Unlock()

		var req jobs.NERPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		res := jobs.NERResult{}
		for word, label := range words {
			if i := strings.Index(req.Text, word); i >= 0 {
				res.Entities = append(res.Entities, jobs.NERSpan{
					Start: i, Length: len(word), Type: label, Text: word, Confidence: 0.9,
				})
			}
		}
		return res, nil
	}
}

func TestAdapterDetect(t *testing.T) {
	docs := fixture()
	calls := 0
	d := newDispatcher(t, spanHandler(&calls, map[string]string{
		"Joan Garcia": "PER",
		"Acme":        "ORG",
		"Maria":       "B-PER",
		"Girona\nTre": "LOC",
	}))

	a := NewAdapter(d, nil, Options{Enabled: true, TokenBase: 5000, Timeout: time.Second}, nil, logger.NewNop())
	entities, err := a.Detect(context.Background(), docs)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities (cross-boundary dropped), got %d", len(entities))
	}

	byText := map[string]*model.PIIEntity{}
	for _, e := range entities {
		byText[e.TextOriginal] = e
		if e.Source != model.SourceExternal || e.Status != model.StatusPending {
			t.Errorf("unexpected source/status %s/%s", e.Source, e.Status)
		}
		block := blockOf(docs, e.BlockID)
		if err := e.Validate(block.Text); err != nil {
			t.Errorf("invalid entity %s: %v", e.TextOriginal, err)
		}
		if !strings.HasSuffix(e.Token, "_5000") && !strings.HasSuffix(e.Token, "_5001") && !strings.HasSuffix(e.Token, "_5002") {
			t.Errorf("token %s not from the external range", e.Token)
		}
	}

	acme := byText["Acme"]
	if acme == nil || acme.Type != model.TypeOrganization || acme.BlockID != docs[0].Blocks[1].ID || acme.Start != 11 {
		t.Errorf("unexpected Acme entity %+v", acme)
	}
	if maria := byText["Maria"]; maria == nil || maria.DocumentID != docs[1].ID {
		t.Errorf("unexpected Maria entity %+v", maria)
	}
}

func blockOf(docs []*model.Document, id string) *model.Block {
	for _, d := range docs {
		if b := d.Block(id); b != nil {
			return b
		}
	}
	return nil
}

func TestAdapterMinScore(t *testing.T) {
	calls := 0
	d := newDispatcher(t, spanHandler(&calls, map[string]string{"Maria": "PER"}))
	a := NewAdapter(d, nil, Options{Enabled: true, TokenBase: 5000, MinScore: 0.95}, nil, logger.NewNop())

	entities, err := a.Detect(context.Background(), fixture())
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 0 {
		t.Errorf("low-score span kept: %d entities", len(entities))
	}
}

func TestAdapterDegrades(t *testing.T) {
	t.Run("job failure", func(t *testing.T) {
		d := newDispatcher(t, func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("model crashed")
		})
		a := NewAdapter(d, nil, Options{Enabled: true, TokenBase: 5000}, nil, logger.NewNop())
		entities, err := a.Detect(context.Background(), fixture())
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if len(entities) != 0 {
			t.Error("entities returned on failure")
		}
	})

	t.Run("no runner", func(t *testing.T) {
		a := NewAdapter(nil, nil, Options{Enabled: true}, nil, logger.NewNop())
		if _, err := a.Detect(context.Background(), fixture()); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		d := newDispatcher(t, func(ctx context.Context, _ json.RawMessage) (any, error) {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
			return jobs.NERResult{}, nil
		})
		a := NewAdapter(d, nil, Options{Enabled: true, Timeout: 20 * time.Millisecond}, nil, logger.NewNop())
		if _, err := a.Detect(context.Background(), fixture()); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		a := NewAdapter(nil, nil, Options{Enabled: false}, nil, logger.NewNop())
		entities, err := a.Detect(context.Background(), fixture())
		if err != nil || len(entities) != 0 {
			t.Errorf("disabled adapter returned %d entities, %v", len(entities), err)
		}
	})
}

func TestAdapterCache(t *testing.T) {
	calls := 0
	d := newDispatcher(t, spanHandler(&calls, map[string]string{"Joan Garcia": "PER"}))
	c := newMemCache()
	a := NewAdapter(d, c, Options{Enabled: true, TokenBase: 5000}, nil, logger.NewNop())

	docs := fixture()
	first, err := a.Detect(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Detect(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Errorf("expected one job, got %d", calls)
	}
	if len(first) != 1 || len(second) != 1 || second[0].TextOriginal != "Joan Garcia" {
		t.Fatalf("cached detection differs: %d vs %d", len(first), len(second))
	}
	for _, v := range c.data {
		if strings.Contains(string(v), "Joan") {
			t.Error("cache entry holds original text")
		}
	}
}

func TestAdapterCacheWriteFailure(t *testing.T) {
	calls := 0
	d := newDispatcher(t, spanHandler(&calls, map[string]string{"Joan Garcia": "PER"}))
	c := newMemCache()
	c.setErr = errors.New("connection refused")

	core, logs := observer.New(zap.WarnLevel)
	a := NewAdapter(d, c, Options{Enabled: true, TokenBase: 5000}, nil, &logger.Logger{Logger: zap.New(core)})

	entities, err := a.Detect(context.Background(), fixture())
	if err != nil {
		t.Fatalf("cache failure must not fail detection: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(entities))
	}

	warned := logs.FilterMessage("Failed to cache NER result").All()
	if len(warned) != 1 {
		t.Fatalf("expected one cache warning, got %d", len(warned))
	}
	for _, f := range warned[0].Context {
		if strings.Contains(f.String, "Joan") {
			t.Error("cache warning carries original text")
		}
	}
}

func TestDetectAsync(t *testing.T) {
	calls := 0
	d := newDispatcher(t, spanHandler(&calls, map[string]string{"Maria": "PER"}))
	a := NewAdapter(d, nil, Options{Enabled: true, TokenBase: 5000}, nil, logger.NewNop())

	select {
	case res := <-a.DetectAsync(context.Background(), fixture()):
		if res.Err != nil || len(res.Entities) != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DetectAsync never completed")
	}
}

const testVocab = "[PAD]\n[UNK]\n[CLS]\n[SEP]\njoan\nJoan\nGar\n##cia\nviu\na\nGirona\n,\n"

func TestTokenizer(t *testing.T) {
	vocab, err := ReadVocab(strings.NewReader(testVocab))
	if err != nil {
		t.Fatal(err)
	}

	text := "Joan Garcia viu a Girona, Xyz"
	windows := NewTokenizer(vocab, 64).Tokenize(text)
	if len(windows) != 1 {
		t.Fatalf("expected one window, got %d", len(windows))
	}
	in := windows[0]

	// CLS Joan Gar ##cia viu a Girona , [UNK] SEP
	if len(in.InputIDs) != 10 {
		t.Fatalf("unexpected token count %d: %v", len(in.InputIDs), in.InputIDs)
	}
	if in.InputIDs[0] != vocab[tokenCLS] || in.InputIDs[9] != vocab[tokenSEP] {
		t.Error("missing special tokens")
	}
	if in.InputIDs[8] != vocab[tokenUNK] {
		t.Error("unknown word not mapped to [UNK]")
	}
	if got := text[in.Offsets[3][0]:in.Offsets[3][1]]; got != "cia" {
		t.Errorf("sub-token offset covers %q", got)
	}
}

func TestTokenizerWindows(t *testing.T) {
	vocab, err := ReadVocab(strings.NewReader(testVocab))
	if err != nil {
		t.Fatal(err)
	}
	windows := NewTokenizer(vocab, 5).Tokenize("viu a viu a viu a viu")
	if len(windows) < 2 {
		t.Fatalf("expected several windows, got %d", len(windows))
	}
	for _, w := range windows {
		if len(w.InputIDs) > 5 {
			t.Errorf("window exceeds max length: %d", len(w.InputIDs))
		}
	}
}

func TestReadVocabRequiresSpecialTokens(t *testing.T) {
	if _, err := ReadVocab(strings.NewReader("a\nb\n")); err == nil {
		t.Error("expected error for vocab without special tokens")
	}
}

func TestDecodeBIO(t *testing.T) {
	text := "Joan Garcia viu a Girona"
	preds := []TokenPrediction{
		{Label: "O", Span: [2]int{-1, -1}},
		{Label: "B-PER", Score: 0.9, Span: [2]int{0, 4}},
		{Label: "I-PER", Score: 0.7, Span: [2]int{5, 8}},
		{Label: "I-PER", Score: 0.8, Span: [2]int{8, 11}},
		{Label: "O", Score: 0.9, Span: [2]int{12, 15}},
		{Label: "O", Score: 0.9, Span: [2]int{16, 17}},
		{Label: "I-LOC", Score: 0.6, Span: [2]int{18, 24}},
	}

	spans := DecodeBIO(text, preds)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %+v", spans)
	}
	if spans[0].Text != "Joan Garcia" || spans[0].Type != "PER" {
		t.Errorf("unexpected first span %+v", spans[0])
	}
	if spans[0].Confidence < 0.79 || spans[0].Confidence > 0.81 {
		t.Errorf("confidence %f is not the mean", spans[0].Confidence)
	}
	if spans[1].Text != "Girona" || spans[1].Type != "LOC" {
		t.Errorf("unexpected second span %+v", spans[1])
	}
}

func TestSoftmax(t *testing.T) {
	idx, p := Softmax([]float32{0.1, 3, 0.2})
	if idx != 1 || p <= 0.5 || p > 1 {
		t.Errorf("Softmax = %d, %f", idx, p)
	}
	if idx, _ := Softmax(nil); idx != -1 {
		t.Error("empty logits should yield -1")
	}
}
