package redaction

import (
	"strings"

	"github.com/raaihank/doc-sentinel/internal/privacy"
)

// Scanner finds structured PII in arbitrary text
type Scanner interface {
	Scan(text string) []privacy.Match
}

// Verify re-runs the scanner over exported text and reports every match
func Verify(scanner Scanner, text string) []Leak {
	var leaks []Leak
	for _, m := range scanner.Scan(text) {
		leaks = append(leaks, Leak{
			Type:   m.Type,
			Offset: m.Start,
			Length: m.End - m.Start,
			Line:   strings.Count(text[:m.Start], "\n") + 1,
		})
	}
	return leaks
}
