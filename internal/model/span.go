package model

import "sort"

// SortForDisplay orders entities by start ascending, longer spans first on
// equal starts, then by id so the order is deterministic.
func SortForDisplay(entities []*PIIEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Length != b.Length {
			return a.Length > b.Length
		}
		return a.ID < b.ID
	})
}

// ResolveOverlaps returns the non-overlapping entities that win display
// precedence and the ones skipped because they start before the previous
// kept span ends. The input slice is not modified.
func ResolveOverlaps(entities []*PIIEntity) (kept, conflicts []*PIIEntity) {
	sorted := make([]*PIIEntity, len(entities))
	copy(sorted, entities)
	SortForDisplay(sorted)

	end := -1
	for _, e := range sorted {
		if e.Start < end {
			conflicts = append(conflicts, e)
			continue
		}
		kept = append(kept, e)
		end = e.End()
	}
	return kept, conflicts
}

// FilterByBlock returns the entities that belong to blockID
func FilterByBlock(entities []*PIIEntity, blockID string) []*PIIEntity {
	var out []*PIIEntity
	for _, e := range entities {
		if e.BlockID == blockID {
			out = append(out, e)
		}
	}
	return out
}
