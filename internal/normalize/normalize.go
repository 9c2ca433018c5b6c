// Package normalize deduplicates detector output before it reaches review.
package normalize

import (
	"github.com/raaihank/doc-sentinel/internal/model"
)

type spanKey struct {
	docID   string
	blockID string
	start   int
	length  int
}

// Normalize groups entities by identical span. Same-type entities in a
// group collapse into one that keeps the highest confidence, with source
// priority breaking ties. When a span carries more than one type, every
// survivor is forced back to pending. Overlapping but non-identical spans
// pass through untouched.
//
// The result keeps first-seen order and never aliases the input entities.
func Normalize(entities []*model.PIIEntity) []*model.PIIEntity {
	groups := make(map[spanKey][]*model.PIIEntity)
	order := make([]spanKey, 0)

	for _, e := range entities {
		key := spanKey{e.DocumentID, e.BlockID, e.Start, e.Length}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = mergeInto(groups[key], e)
	}

	out := make([]*model.PIIEntity, 0, len(entities))
	for _, key := range order {
		group := groups[key]
		if len(group) > 1 {
			for _, e := range group {
				e.Status = model.StatusPending
			}
		}
		out = append(out, group...)
	}
	return out
}

// mergeInto folds e into the group entry of the same type, if any
func mergeInto(group []*model.PIIEntity, e *model.PIIEntity) []*model.PIIEntity {
	for i, existing := range group {
		if existing.Type != e.Type {
			continue
		}
		if better(e, existing) {
			group[i] = e.Clone()
		}
		return group
	}
	return append(group, e.Clone())
}

// better reports whether candidate should replace current
func better(candidate, current *model.PIIEntity) bool {
	if candidate.Confidence != current.Confidence {
		return candidate.Confidence > current.Confidence
	}
	return candidate.Source.Priority() > current.Source.Priority()
}
