package redaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	contentTypeMarkdown = "text/markdown; charset=utf-8"
	contentTypeJSON     = "application/json"
)

// ArtifactSink stores one named artifact and returns where it went
type ArtifactSink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, name string) error
}

// MappingWriter persists a token mapping for one export
type MappingWriter interface {
	WriteMapping(ctx context.Context, exportID, name string, m *Mapping) (string, error)
	DeleteMapping(ctx context.Context, exportID, name string, m *Mapping) error
}

// BlobMappingWriter stores the mapping as an indented JSON document
type BlobMappingWriter struct {
	Sink ArtifactSink
}

func (w *BlobMappingWriter) WriteMapping(ctx context.Context, exportID, name string, m *Mapping) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mapping: %w", err)
	}
	return w.Sink.Put(ctx, exportID+"/"+name, contentTypeJSON, data)
}

func (w *BlobMappingWriter) DeleteMapping(ctx context.Context, exportID, name string, _ *Mapping) error {
	return w.Sink.Delete(ctx, exportID+"/"+name)
}

// FileSink writes artifacts under a local directory
type FileSink struct {
	dir string
}

// NewFileSink creates the directory if needed
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Put writes through a temp file and renames so readers never see a
// partial artifact.
func (s *FileSink) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return path, nil
}

// Delete removes an artifact; a missing one is not an error
func (s *FileSink) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

func (s *FileSink) path(name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid artifact name: %s", name)
	}
	return filepath.Join(s.dir, rel), nil
}
