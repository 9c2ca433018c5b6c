package redaction

import (
	"context"
	"testing"

	"github.com/raaihank/doc-sentinel/internal/config"
)

func TestNewSinksFile(t *testing.T) {
	cfg := config.GetDefaults().Export
	cfg.Dir = t.TempDir()

	text, mapping, err := NewSinks(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewSinks failed: %v", err)
	}
	if _, ok := text.(*FileSink); !ok {
		t.Errorf("expected file text sink, got %T", text)
	}
	blob, ok := mapping.(*BlobMappingWriter)
	if !ok || blob.Sink != text {
		t.Errorf("expected mapping to share the file sink, got %T", mapping)
	}
}

func TestNewSinksUnsupported(t *testing.T) {
	cfg := config.GetDefaults().Export
	cfg.Dir = t.TempDir()
	cfg.TextSink = "ftp"

	if _, _, err := NewSinks(context.Background(), cfg); err == nil {
		t.Error("expected error for unsupported sink")
	}
}
