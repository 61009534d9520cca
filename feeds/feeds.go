package feeds

import (
	"github.com/samber/lo"

	"insightfeed/models"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Page is a slice of the feed after filtering
type Page struct {
	Items  []models.FeedItem `json:"items"`
	Cursor *string           `json:"cursor,omitempty"`
}

// Paginate returns up to limit filtered items following the item whose key is
// cursor. An unknown cursor starts from the top of the feed. items must
// already be in feed order.
func Paginate(items []models.FeedItem, cursor string, limit int, filters ...Filter) Page {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)

	matched := Apply(items, filters...)
	start := safeCursorIndex(matched, cursor)
	page := matched[start:]

	var nextCursor *string

	// Only set cursor if we have more results
	if len(page) > limit {
		page = page[:limit]
		key := page[len(page)-1].Key()
		nextCursor = &key
	}

	return Page{
		Items:  append(make([]models.FeedItem, 0, len(page)), page...),
		Cursor: nextCursor, // Will be nil if no more results
	}
}

// Apply returns the items every filter matches, in their original order
func Apply(items []models.FeedItem, filters ...Filter) []models.FeedItem {
	return lo.Filter(items, func(item models.FeedItem, _ int) bool {
		return lo.EveryBy(filters, func(f Filter) bool {
			return f.Match(item)
		})
	})
}

// safeCursorIndex returns the index after the item with key cursor.
// If the cursor is unknown, it returns 0.
func safeCursorIndex(items []models.FeedItem, cursor string) int {
	if cursor == "" {
		return 0
	}
	_, index, found := lo.FindIndexOf(items, func(item models.FeedItem) bool {
		return item.Key() == cursor
	})
	if !found {
		return 0
	}
	return index + 1
}
