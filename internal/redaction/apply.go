package redaction

import (
	"sort"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// replacement is one contiguous byte range substituted by a single token
type replacement struct {
	start, end int
	lead       *model.PIIEntity
	members    []*model.PIIEntity
}

// mergeSpans groups overlapping entities into replacements covering the
// union of their bytes. A group takes the token of the entity that wins
// display precedence. Spans are clipped to textLen; spans starting outside
// the text are dropped.
func mergeSpans(entities []*model.PIIEntity, textLen int) []replacement {
	sorted := make([]*model.PIIEntity, len(entities))
	copy(sorted, entities)
	model.SortForDisplay(sorted)

	var out []replacement
	for _, e := range sorted {
		if e.Start < 0 || e.Start > textLen {
			continue
		}
		end := e.End()
		if end > textLen {
			end = textLen
		}
		if n := len(out); n > 0 && e.Start < out[n-1].end {
			last := &out[n-1]
			if end > last.end {
				last.end = end
			}
			last.members = append(last.members, e)
			continue
		}
		out = append(out, replacement{start: e.Start, end: end, lead: e, members: []*model.PIIEntity{e}})
	}
	return out
}

// ApplyTokens substitutes tokens for entity spans, right to left so earlier
// offsets stay valid. Overlapping spans are merged and the whole union is
// replaced, so no byte of any given span survives.
func ApplyTokens(text string, entities []*model.PIIEntity) string {
	spans := mergeSpans(entities, len(text))
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].start > spans[j].start
	})

	for _, s := range spans {
		text = text[:s.start] + s.lead.Token + text[s.end:]
	}
	return text
}

// Redact returns deep copies of docs with every approved entity replaced by
// its token. The input documents are never modified.
func Redact(docs []*model.Document, entities []*model.PIIEntity) []*model.Document {
	byBlock := approvedByBlock(entities)

	out := make([]*model.Document, 0, len(docs))
	for _, doc := range docs {
		cp := doc.Clone()
		for _, block := range cp.Blocks {
			if ents := byBlock[block.ID]; len(ents) > 0 {
				block.Text = ApplyTokens(block.Text, ents)
			}
		}
		out = append(out, cp)
	}
	return out
}

func approvedByBlock(entities []*model.PIIEntity) map[string][]*model.PIIEntity {
	byBlock := make(map[string][]*model.PIIEntity)
	for _, e := range entities {
		if e.Status != model.StatusApproved {
			continue
		}
		byBlock[e.BlockID] = append(byBlock[e.BlockID], e)
	}
	return byBlock
}
