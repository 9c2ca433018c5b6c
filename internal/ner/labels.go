package ner

import (
	"strings"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// MapLabel converts an engine label (PER, B-LOC, ORG, ...) to a PII type.
// Unknown labels become MISC.
func MapLabel(label string) model.PIIType {
	l := strings.ToUpper(strings.TrimSpace(label))
	if len(l) > 2 && (l[:2] == "B-" || l[:2] == "I-") {
		l = l[2:]
	}

	switch l {
	case "PER", "PERSON":
		return model.TypePerson
	case "LOC", "LOCATION", "GPE":
		return model.TypeLocation
	case "ORG", "ORGANIZATION":
		return model.TypeOrganization
	default:
		return model.TypeMisc
	}
}
