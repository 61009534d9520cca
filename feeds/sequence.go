package feeds

import (
	"cmp"
	"slices"
	"strconv"

	"insightfeed/models"
)

// Sequence orders items newest first. Items created at the same instant are
// ordered by kind and then id so repeated cycles over the same records give
// the same order. The input slice is not modified.
func Sequence(items []models.FeedItem) []models.FeedItem {
	out := slices.Clone(items)
	slices.SortStableFunc(out, compareItems)
	return out
}

func compareItems(a, b models.FeedItem) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	return compareIDs(a.Id, b.Id)
}

// compareIDs orders numeric ids numerically and everything else lexically.
// Distinct ids of equal value, like "01" and "1", fall back to lexical order.
func compareIDs(a, b models.RecordID) int {
	na, errA := strconv.ParseInt(string(a), 10, 64)
	nb, errB := strconv.ParseInt(string(b), 10, 64)
	switch {
	case errA == nil && errB == nil:
		if c := cmp.Compare(na, nb); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return cmp.Compare(a, b)
}
