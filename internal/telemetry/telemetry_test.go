package telemetry

import (
	"context"
	"testing"

	"github.com/raaihank/doc-sentinel/internal/config"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if p.Enabled {
		t.Fatal("provider should be disabled")
	}

	ctx, span := p.Tracer().Start(context.Background(), "noop")
	p.RecordDetections(ctx, "pattern", 3)
	p.RecordExport(ctx, "exported", 0)
	p.RecordJob(ctx, "ner", true, 12.5)
	span.End()
	p.Shutdown(ctx)
}

func TestNilProviderSafe(t *testing.T) {
	var p *Provider
	p.RecordDetections(context.Background(), "pattern", 1)
	p.RecordExport(context.Background(), "blocked", 2)
	p.Shutdown(context.Background())
	if p.Tracer() == nil {
		t.Fatal("nil provider should still return a tracer")
	}
}
