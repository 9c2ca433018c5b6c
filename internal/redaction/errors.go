package redaction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// ErrPendingEntities is returned when export is attempted before review ends
var ErrPendingEntities = errors.New("export refused: entities still pending review")

// Leak is a structured PII match found in already redacted output.
// Only the location is kept; the matched text never leaves the verifier.
type Leak struct {
	Type   model.PIIType `json:"type"`
	Offset int           `json:"offset"`
	Length int           `json:"length"`
	Line   int           `json:"line"`
}

// LeakError blocks an export that failed residual verification
type LeakError struct {
	Leaks []Leak
}

func (e *LeakError) Error() string {
	parts := make([]string, 0, len(e.Leaks))
	for _, l := range e.Leaks {
		parts = append(parts, fmt.Sprintf("%s@line %d", l.Type, l.Line))
	}
	return fmt.Sprintf("export blocked: %d residual PII match(es): %s", len(e.Leaks), strings.Join(parts, ", "))
}
