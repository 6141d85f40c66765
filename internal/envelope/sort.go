package envelope

import (
	"sort"

	"finitefield.org/edu-storefront/internal/record"
)

// SortEntities orders items ascending by sortOrder when every item carries one. Otherwise items
// are ordered newest first by createdAt, with missing timestamps treated as the epoch.
func SortEntities(items []record.Record) {
	if len(items) < 2 {
		return
	}
	if everyHasSortOrder(items) {
		sort.SliceStable(items, func(i, j int) bool {
			a, _ := items[i].Float("sortOrder", "sort_order")
			b, _ := items[j].Float("sortOrder", "sort_order")
			return a < b
		})
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return createdAt(items[i]) > createdAt(items[j])
	})
}

func everyHasSortOrder(items []record.Record) bool {
	for _, item := range items {
		if _, ok := item.Float("sortOrder", "sort_order"); !ok {
			return false
		}
	}
	return true
}

func createdAt(item record.Record) int64 {
	ts := item.Time("createdAt", "created_at")
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli()
}
