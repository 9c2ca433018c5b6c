//go:build !onnx
// +build !onnx

package ner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/raaihank/doc-sentinel/internal/logger"
)

// ErrONNXUnsupported is returned when the binary was built without the onnx tag
var ErrONNXUnsupported = errors.New("onnx backend not compiled in (build with -tags onnx)")

// ONNXHandler is unavailable without the 'onnx' build tag
type ONNXHandler struct{}

// NewONNXHandler always fails in builds without the 'onnx' tag
func NewONNXHandler(modelPath, vocabPath string, labels []string, maxLength int, log *logger.Logger) (*ONNXHandler, error) {
	return nil, ErrONNXUnsupported
}

func (h *ONNXHandler) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	return nil, ErrONNXUnsupported
}

func (h *ONNXHandler) Close() error { return nil }
