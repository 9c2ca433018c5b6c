package model

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// PIIType is the category of a detected span
type PIIType string

const (
	TypeIBAN         PIIType = "IBAN"
	TypeNIF          PIIType = "NIF"
	TypeNIE          PIIType = "NIE"
	TypeCIF          PIIType = "CIF"
	TypePhone        PIIType = "PHONE"
	TypeEmail        PIIType = "EMAIL"
	TypeCard         PIIType = "CARD"
	TypePerson       PIIType = "PERSON"
	TypeLocation     PIIType = "LOCATION"
	TypeOrganization PIIType = "ORGANIZATION"
	TypeMisc         PIIType = "MISC"
)

// Source names the detector that produced an entity
type Source string

const (
	SourcePattern   Source = "pattern"
	SourceHeuristic Source = "heuristic"
	SourceExternal  Source = "external"
)

// Priority orders sources when merging duplicates: pattern > external > heuristic
func (s Source) Priority() int {
	switch s {
	case SourcePattern:
		return 3
	case SourceExternal:
		return 2
	case SourceHeuristic:
		return 1
	default:
		return 0
	}
}

// Status is the review state of an entity
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Toggle flips approved and rejected. A pending entity resolves to approved;
// nothing ever returns to pending.
func (s Status) Toggle() Status {
	switch s {
	case StatusApproved:
		return StatusRejected
	case StatusRejected:
		return StatusApproved
	default:
		return StatusApproved
	}
}

// Resolved reports whether a reviewer decision exists
func (s Status) Resolved() bool {
	return s == StatusApproved || s == StatusRejected
}

// ErrInvalidSpan is returned when an entity does not fit its block
var ErrInvalidSpan = errors.New("entity span outside block text")

// PIIEntity is a detected span inside one block
type PIIEntity struct {
	ID           string  `json:"id"`
	Token        string  `json:"token"`
	Type         PIIType `json:"type"`
	DocumentID   string  `json:"docId"`
	BlockID      string  `json:"blockId"`
	Start        int     `json:"start"`
	Length       int     `json:"length"`
	TextOriginal string  `json:"textOriginal"`
	Confidence   float64 `json:"confidence"`
	Source       Source  `json:"source"`
	Status       Status  `json:"status"`
}

// End returns the exclusive end offset
func (e *PIIEntity) End() int {
	return e.Start + e.Length
}

// Overlaps reports whether both spans share at least one byte of the same block
func (e *PIIEntity) Overlaps(o *PIIEntity) bool {
	if e.BlockID != o.BlockID {
		return false
	}
	return e.Start < o.End() && o.Start < e.End()
}

// SameSpan reports whether both entities cover exactly the same bytes
func (e *PIIEntity) SameSpan(o *PIIEntity) bool {
	return e.DocumentID == o.DocumentID && e.BlockID == o.BlockID &&
		e.Start == o.Start && e.Length == o.Length
}

// Validate checks 0 <= start, start+length <= len(text) and that both
// ends fall on rune boundaries of text.
func (e *PIIEntity) Validate(text string) error {
	if e.Start < 0 || e.Length <= 0 || e.End() > len(text) {
		return fmt.Errorf("%w: start=%d length=%d block_len=%d", ErrInvalidSpan, e.Start, e.Length, len(text))
	}
	if !isRuneStart(text, e.Start) || !isRuneStart(text, e.End()) {
		return fmt.Errorf("%w: start=%d length=%d splits a rune", ErrInvalidSpan, e.Start, e.Length)
	}
	return nil
}

// Clone returns a copy of the entity
func (e *PIIEntity) Clone() *PIIEntity {
	cp := *e
	return &cp
}

func isRuneStart(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return utf8.RuneStart(s[i])
}
