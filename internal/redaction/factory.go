package redaction

import (
	"context"
	"fmt"

	"github.com/raaihank/doc-sentinel/internal/config"
)

// Sink kinds accepted in export configuration
const (
	SinkFile     = "file"
	SinkMinIO    = "minio"
	SinkS3       = "s3"
	SinkDynamoDB = "dynamodb"
)

// NewSinks builds the text sink and mapping writer selected by cfg. The
// mapping may use DynamoDB; the text sink may not.
func NewSinks(ctx context.Context, cfg config.ExportConfig) (ArtifactSink, MappingWriter, error) {
	textSink, err := newBlobSink(ctx, cfg, cfg.TextSink)
	if err != nil {
		return nil, nil, fmt.Errorf("text sink: %w", err)
	}

	if cfg.MappingSink == SinkDynamoDB {
		writer, err := NewDynamoMappingWriter(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, nil, fmt.Errorf("mapping sink: %w", err)
		}
		return textSink, writer, nil
	}

	mappingSink := textSink
	if cfg.MappingSink != cfg.TextSink {
		mappingSink, err = newBlobSink(ctx, cfg, cfg.MappingSink)
		if err != nil {
			return nil, nil, fmt.Errorf("mapping sink: %w", err)
		}
	}
	return textSink, &BlobMappingWriter{Sink: mappingSink}, nil
}

func newBlobSink(ctx context.Context, cfg config.ExportConfig, kind string) (ArtifactSink, error) {
	switch kind {
	case SinkFile, "":
		return NewFileSink(cfg.Dir)
	case SinkMinIO:
		sink, err := NewMinioSink(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := sink.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return sink, nil
	case SinkS3:
		return NewS3Sink(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported sink %q", kind)
	}
}
