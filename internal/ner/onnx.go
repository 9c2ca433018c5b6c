//go:build onnx
// +build onnx

package ner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/raaihank/doc-sentinel/internal/jobs"
	"github.com/raaihank/doc-sentinel/internal/logger"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXHandler runs a BERT token-classification model in process as the
// handler for NER jobs.
type ONNXHandler struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	tokenizer  *Tokenizer
	labels     []string
	mu         sync.Mutex
	logger     *logger.Logger
}

// NewONNXHandler loads the model and vocabulary. Requires build tag 'onnx'.
func NewONNXHandler(modelPath, vocabPath string, labels []string, maxLength int, log *logger.Logger) (*ONNXHandler, error) {
	log = log.WithComponent("ner_onnx")

	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx runtime init failed: %w", err)
		}
	}

	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect onnx model: %w", err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("onnx model %s reports no outputs", modelPath)
	}

	inputNames := make([]string, 0, len(inputsInfo))
	for _, ii := range inputsInfo {
		inputNames = append(inputNames, ii.Name)
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx session creation failed: %w", err)
	}

	log.Info("ONNX NER model ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
		zap.Int("labels", len(labels)))

	return &ONNXHandler{
		session:    sess,
		inputNames: inputNames,
		tokenizer:  NewTokenizer(vocab, maxLength),
		labels:     labels,
		logger:     log,
	}, nil
}

// Handle implements jobs.Handler for NER payloads
func (h *ONNXHandler) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	var req jobs.NERPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode ner payload: %w", err)
	}

	result := jobs.NERResult{Entities: []jobs.NERSpan{}}
	for _, window := range h.tokenizer.Tokenize(req.Text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		preds, err := h.classify(window)
		if err != nil {
			return nil, err
		}
		result.Entities = append(result.Entities, DecodeBIO(req.Text, preds)...)
	}
	return result, nil
}

func (h *ONNXHandler) classify(in *TokenizedInput) ([]TokenPrediction, error) {
	seqLen := int64(len(in.InputIDs))
	shape := ort.NewShape(1, seqLen)

	ids, err := ort.NewTensor(shape, in.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer ids.Destroy()
	mask, err := ort.NewTensor(shape, in.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer mask.Destroy()
	types, err := ort.NewTensor(shape, in.TokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer types.Destroy()

	inputs := make([]ort.Value, 0, len(h.inputNames))
	for _, name := range h.inputNames {
		n := strings.ToLower(name)
		switch {
		case strings.Contains(n, "mask"):
			inputs = append(inputs, mask)
		case strings.Contains(n, "type") || strings.Contains(n, "segment"):
			inputs = append(inputs, types)
		default:
			inputs = append(inputs, ids)
		}
	}

	outputs := make([]ort.Value, 1)
	h.mu.Lock()
	err = h.session.Run(inputs, outputs)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := logits.GetShape()
	if len(outShape) != 3 || outShape[1] != seqLen {
		return nil, fmt.Errorf("unsupported output shape %v", outShape)
	}
	numLabels := int(outShape[2])
	if numLabels != len(h.labels) {
		return nil, fmt.Errorf("model has %d labels, %d configured", numLabels, len(h.labels))
	}

	data := logits.GetData()
	preds := make([]TokenPrediction, seqLen)
	for i := range preds {
		best, score := Softmax(data[i*numLabels : (i+1)*numLabels])
		preds[i] = TokenPrediction{Label: h.labels[best], Score: score, Span: in.Offsets[i]}
	}
	return preds, nil
}

// Close releases the session and runtime
func (h *ONNXHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != nil {
		h.session.Destroy()
		h.session = nil
	}
	return ort.DestroyEnvironment()
}
