package redaction

import (
	"time"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// Mapping links every approved token back to its original text. It is the
// only artifact that carries original PII.
type Mapping struct {
	GeneratedAt string            `json:"generatedAt"`
	Documents   []MappingDocument `json:"documents"`
	Entities    []MappingEntity   `json:"entities"`
}

// MappingDocument is the document metadata carried by the mapping
type MappingDocument struct {
	DocID        string             `json:"docId"`
	OriginalName string             `json:"originalName"`
	Type         model.DocumentKind `json:"type"`
}

// MappingEntity is one token to original pair
type MappingEntity struct {
	Token    string        `json:"token"`
	Type     model.PIIType `json:"type"`
	Original string        `json:"original"`
	DocID    string        `json:"docId"`
	BlockID  string        `json:"blockId"`
	Merged   []string      `json:"merged,omitempty"`
}

// BuildMapping lists the tokens that redaction substitutes, built from
// approved entities only. Overlapping approved spans collapse into one
// entry whose original is the whole replaced range; the absorbed tokens
// are listed under merged.
func BuildMapping(docs []*model.Document, entities []*model.PIIEntity, now time.Time) *Mapping {
	m := &Mapping{
		GeneratedAt: now.UTC().Format(time.RFC3339Nano),
		Documents:   make([]MappingDocument, 0, len(docs)),
		Entities:    make([]MappingEntity, 0, len(entities)),
	}

	byBlock := approvedByBlock(entities)
	seen := make(map[string]bool, len(byBlock))
	for _, doc := range docs {
		m.Documents = append(m.Documents, MappingDocument{
			DocID:        doc.ID,
			OriginalName: doc.OriginalName,
			Type:         doc.Kind,
		})
		for _, block := range doc.Blocks {
			seen[block.ID] = true
			for _, r := range mergeSpans(byBlock[block.ID], len(block.Text)) {
				entry := MappingEntity{
					Token:    r.lead.Token,
					Type:     r.lead.Type,
					Original: block.Text[r.start:r.end],
					DocID:    r.lead.DocumentID,
					BlockID:  block.ID,
				}
				for _, other := range r.members[1:] {
					entry.Merged = append(entry.Merged, other.Token)
				}
				m.Entities = append(m.Entities, entry)
			}
		}
	}

	// approved entities whose block is not part of docs keep their own text
	for _, e := range entities {
		if e.Status != model.StatusApproved || seen[e.BlockID] {
			continue
		}
		m.Entities = append(m.Entities, MappingEntity{
			Token:    e.Token,
			Type:     e.Type,
			Original: e.TextOriginal,
			DocID:    e.DocumentID,
			BlockID:  e.BlockID,
		})
	}
	return m
}
