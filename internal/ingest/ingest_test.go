package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"github.com/segmentio/parquet-go"
)

type fakeOCR struct {
	text string
	err  error
}

func (f fakeOCR) Recognize(context.Context, string, string, []byte) (string, error) {
	return f.text, f.err
}

func load(t *testing.T, l *Loader, name, data string) *model.Document {
	t.Helper()
	doc, err := l.Load(context.Background(), Input{Name: name, Data: []byte(data)})
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", name, err)
	}
	return doc
}

func texts(doc *model.Document) []string {
	out := make([]string, len(doc.Blocks))
	for i, b := range doc.Blocks {
		out[i] = b.Text
	}
	return out
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"a.TXT":         FormatText,
		"notes.md":      FormatMarkdown,
		"data.csv":      FormatCSV,
		"x.json":        FormatJSON,
		"x.jsonl":       FormatJSONL,
		"t.parquet":     FormatParquet,
		"contract.docx": FormatDOCX,
		"deck.pptx":     FormatPPTX,
		"scan.JPEG":     FormatImage,
		"scan.png":      FormatImage,
		"report.pdf":    FormatUnknown,
		"no_extension":  FormatUnknown,
	}
	for name, want := range tests {
		if got := DetectFormat(name); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestLoadText(t *testing.T) {
	l := NewLoader(nil, logger.NewNop())
	doc := load(t, l, "a.txt", "Titular: Joan\r\n\n   \nIBAN ES9121000418450200051332\n")

	if doc.Kind != model.KindText || doc.OriginalName != "a.txt" {
		t.Errorf("unexpected document %s/%s", doc.Kind, doc.OriginalName)
	}
	got := texts(doc)
	if len(got) != 2 || got[0] != "Titular: Joan" || got[1] != "IBAN ES9121000418450200051332" {
		t.Errorf("unexpected blocks %q", got)
	}
	for _, b := range doc.Blocks {
		if b.Kind != model.BlockParagraph || b.DocumentID != doc.ID {
			t.Errorf("unexpected block %+v", b)
		}
	}
}

func TestLoadMarkdownHeadings(t *testing.T) {
	l := NewLoader(nil, logger.NewNop())
	doc := load(t, l, "a.md", "## Dades personals\nNom: Joan\n#\n")

	if len(doc.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(doc.Blocks))
	}
	if doc.Blocks[0].Kind != model.BlockHeading || doc.Blocks[0].Text != "Dades personals" {
		t.Errorf("unexpected heading %+v", doc.Blocks[0])
	}
	if doc.Blocks[1].Kind != model.BlockParagraph {
		t.Errorf("unexpected paragraph %+v", doc.Blocks[1])
	}
}

func TestLoadCSV(t *testing.T) {
	l := NewLoader(nil, logger.NewNop())
	doc := load(t, l, "people.csv", "name,email\nJoan,joan@example.com\nMaria\n")

	got := texts(doc)
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %q", got)
	}
	if got[0] != `{"name":"Joan","email":"joan@example.com"}` {
		t.Errorf("unexpected first row %s", got[0])
	}
	if got[1] != `{"name":"Maria","email":null}` {
		t.Errorf("unexpected short row %s", got[1])
	}
	if doc.Blocks[0].Kind != model.BlockTable {
		t.Errorf("expected table block, got %s", doc.Blocks[0].Kind)
	}
}

func TestLoadJSON(t *testing.T) {
	l := NewLoader(nil, logger.NewNop())

	t.Run("array", func(t *testing.T) {
		doc := load(t, l, "a.json", `[{"name": "Joan"}, {"name": "Maria"}]`)
		got := texts(doc)
		if len(got) != 2 || got[0] != `{"name":"Joan"}` {
			t.Errorf("unexpected blocks %q", got)
		}
	})

	t.Run("object", func(t *testing.T) {
		doc := load(t, l, "a.json", `{"name": "Joan"}`)
		if len(doc.Blocks) != 1 {
			t.Errorf("expected one block, got %d", len(doc.Blocks))
		}
	})

	t.Run("lines", func(t *testing.T) {
		doc := load(t, l, "a.jsonl", "{\"a\": 1}\n\n{\"a\": 2}\n")
		got := texts(doc)
		if len(got) != 2 || got[1] != `{"a":2}` {
			t.Errorf("unexpected blocks %q", got)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := l.Load(context.Background(), Input{Name: "a.json", Data: []byte("{oops")}); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestLoadParquet(t *testing.T) {
	type person struct {
		Name string `parquet:"name"`
		Age  int64  `parquet:"age"`
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, []person{{Name: "Joan", Age: 41}, {Name: "Maria", Age: 35}}); err != nil {
		t.Fatalf("failed to write parquet: %v", err)
	}

	l := NewLoader(nil, logger.NewNop())
	doc := load(t, l, "people.parquet", buf.String())
	if len(doc.Blocks) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(doc.Blocks))
	}

	var row map[string]any
	if err := json.Unmarshal([]byte(doc.Blocks[0].Text), &row); err != nil {
		t.Fatalf("row is not JSON: %v", err)
	}
	if row["name"] != "Joan" || row["age"] != float64(41) {
		t.Errorf("unexpected row %v", row)
	}
}

func zipFiles(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLoadDOCX(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Contracte</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Titular: </w:t></w:r><w:r><w:t>Joan Garcia</w:t></w:r></w:p>
<w:p></w:p>
</w:body></w:document>`
	data := zipFiles(t, map[string]string{"word/document.xml": body})

	l := NewLoader(nil, logger.NewNop())
	doc, err := l.Load(context.Background(), Input{Name: "c.docx", Data: data})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %q", texts(doc))
	}
	if doc.Blocks[0].Kind != model.BlockHeading || doc.Blocks[0].Text != "Contracte" {
		t.Errorf("unexpected heading %+v", doc.Blocks[0])
	}
	if doc.Blocks[1].Text != "Titular: Joan Garcia" {
		t.Errorf("unexpected paragraph %q", doc.Blocks[1].Text)
	}
}

func TestLoadPPTX(t *testing.T) {
	slide := func(texts ...string) string {
		s := `<p:sld xmlns:p="p" xmlns:a="a"><p:txBody>`
		for _, x := range texts {
			s += "<a:p><a:r><a:t>" + x + "</a:t></a:r></a:p>"
		}
		return s + `</p:txBody></p:sld>`
	}
	data := zipFiles(t, map[string]string{
		"ppt/slides/slide10.xml": slide("Last"),
		"ppt/slides/slide2.xml":  slide("Second", " "),
		"ppt/slides/slide1.xml":  slide("First &amp; one"),
		"ppt/notesSlides/x.xml":  slide("ignored"),
	})

	l := NewLoader(nil, logger.NewNop())
	doc, err := l.Load(context.Background(), Input{Name: "d.pptx", Data: data})
	if err != nil {
		t.Fatal(err)
	}
	got := texts(doc)
	want := []string{"First & one", "Second", "Last"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadImage(t *testing.T) {
	tests := []struct {
		name string
		ocr  OCR
		want string
	}{
		{"recognized", fakeOCR{text: "DNI 12345678Z"}, "DNI 12345678Z"},
		{"ocr failure", fakeOCR{err: errors.New("engine down")}, ""},
		{"no ocr", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(tt.ocr, logger.NewNop())
			doc := load(t, l, "scan.png", "\x89PNG")
			if doc.Kind != model.KindImage || len(doc.Blocks) != 1 {
				t.Fatalf("unexpected document %+v", doc)
			}
			b := doc.Blocks[0]
			if b.Kind != model.BlockImageText || b.Text != tt.want {
				t.Errorf("unexpected block %+v", b)
			}
		})
	}
}

func TestLoadAllSkipsFailures(t *testing.T) {
	l := NewLoader(nil, logger.NewNop())
	docs := l.LoadAll(context.Background(), []Input{
		{Name: "a.txt", Data: []byte("hola")},
		{Name: "b.pdf", Data: []byte("%PDF")},
		{Name: "c.json", Data: []byte("{broken")},
	}, "Nom: Joan")

	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	raw := docs[1]
	if raw.OriginalName != RawTextName || raw.Kind != model.KindRawText || raw.Blocks[0].Text != "Nom: Joan" {
		t.Errorf("unexpected raw document %+v", raw)
	}
}

func TestUnsupported(t *testing.T) {
	l := NewLoader(nil, logger.NewNop())
	_, err := l.Load(context.Background(), Input{Name: "x.exe"})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestRawTextBlank(t *testing.T) {
	if RawText("  \n ") != nil {
		t.Error("blank raw text produced a document")
	}
}
