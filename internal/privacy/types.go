package privacy

import (
	"regexp"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// DetectionRule represents a single structured PII pattern
type DetectionRule struct {
	Type    model.PIIType
	Pattern *regexp.Regexp
}

// Match is a raw pattern hit inside a string. Offsets are byte offsets.
type Match struct {
	Type  model.PIIType `json:"type"`
	Start int           `json:"start"`
	End   int           `json:"end"`
}

// Detector is implemented by every synchronous detector
type Detector interface {
	Name() string
	Detect(docs []*model.Document) []*model.PIIEntity
}

const (
	patternConfidence   = 0.99
	heuristicConfidence = 0.6
)

// GetDefaultRules returns the structured PII rules in registration order
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{Type: model.TypeIBAN, Pattern: regexp.MustCompile(`(?i)\bES\d{2}\s?(?:\d{4}\s?){4}\d{0,4}\b`)},
		{Type: model.TypeNIF, Pattern: regexp.MustCompile(`(?i)\b\d{8}[A-HJ-NP-TV-Z]\b`)},
		{Type: model.TypeNIE, Pattern: regexp.MustCompile(`(?i)\b[XYZ]\d{7}[A-HJ-NP-TV-Z]\b`)},
		{Type: model.TypeCIF, Pattern: regexp.MustCompile(`(?i)\b[ABCDEFGHJKLMNPQRSUVW]\d{7}[0-9A-J]\b`)},
		{Type: model.TypePhone, Pattern: regexp.MustCompile(`\b(?:\+34\s?)?[6-9]\d{8}\b`)},
		{Type: model.TypeEmail, Pattern: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
		{Type: model.TypeCard, Pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	}
}
