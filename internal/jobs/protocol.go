// Package jobs is the asynchronous job protocol used for OCR and NER: a
// request carries a correlation id and exactly one response with the same
// id completes it.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDispatcherClosed = errors.New("job dispatcher closed")
	ErrJobFailed        = errors.New("job failed")
	ErrUnknownKind      = errors.New("no handler for job kind")
)

// Kind names the work a job performs
type Kind string

const (
	KindOCR Kind = "ocr"
	KindNER Kind = "ner"
)

// Request is a job submission
type Request struct {
	ID      string          `json:"jobId"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Response completes the request with the same ID
type Response struct {
	ID      string          `json:"jobId"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OCRPayload carries raster image data
type OCRPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Image    []byte `json:"image"`
}

// OCRResult is the recognized text
type OCRResult struct {
	Text string `json:"text"`
}

// NERPayload carries the text to analyze
type NERPayload struct {
	Text string `json:"text"`
}

// NERSpan is an entity reported against the submitted text. Offsets are
// byte offsets.
type NERSpan struct {
	Start      int     `json:"start"`
	Length     int     `json:"length"`
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NERResult is the list of spans found
type NERResult struct {
	Entities []NERSpan `json:"entities"`
}

// NewRequest builds a request with a fresh correlation id
func NewRequest(kind Kind, payload any) (Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Request{ID: uuid.NewString(), Kind: kind, Payload: data}, nil
}

// Succeeded builds a success response
func Succeeded(id string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return Failed(id, fmt.Errorf("marshal result: %w", err))
	}
	return Response{ID: id, Success: true, Result: data}
}

// Failed builds a failure response
func Failed(id string, err error) Response {
	return Response{ID: id, Success: false, Error: err.Error()}
}

// Decode unpacks a successful response into T
func Decode[T any](resp Response) (T, error) {
	var out T
	if !resp.Success {
		return out, fmt.Errorf("%w: %s", ErrJobFailed, resp.Error)
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return out, fmt.Errorf("decode job %s result: %w", resp.ID, err)
	}
	return out, nil
}
