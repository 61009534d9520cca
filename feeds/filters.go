package feeds

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"insightfeed/models"
)

// Filter decides whether an item belongs on a feed page
type Filter interface {
	Match(item models.FeedItem) bool
}

// KindFilter keeps items of the given kinds
type KindFilter struct {
	Kinds []models.Kind
}

func (f *KindFilter) Match(item models.FeedItem) bool {
	return len(f.Kinds) == 0 || lo.Contains(f.Kinds, item.Kind)
}

// StatusFilter keeps items with the given status
type StatusFilter struct {
	Status models.Status
}

func (f *StatusFilter) Match(item models.FeedItem) bool {
	return f.Status == "" || item.Status() == f.Status
}

// KeywordFilter filters items based on included and excluded keywords.
// Keywords match case-insensitively anywhere in the item text.
type KeywordFilter struct {
	IncludeKeywords []string
	ExcludeKeywords []string
}

func (f *KeywordFilter) Match(item models.FeedItem) bool {
	text := strings.ToLower(strings.Join([]string{
		item.Title,
		item.Subtitle,
		item.ContentPreview,
		lo.FromPtr(item.Result),
	}, "\n"))

	contains := func(keyword string) bool {
		return strings.Contains(text, keyword)
	}

	if len(f.IncludeKeywords) > 0 && !lo.SomeBy(f.IncludeKeywords, contains) {
		return false
	}
	return !lo.SomeBy(f.ExcludeKeywords, contains)
}

// ParseKeywords splits a comma separated keyword list into lower case terms
func ParseKeywords(s string) []string {
	var terms []string
	for _, keyword := range strings.Split(s, ",") {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" {
			terms = append(terms, keyword)
		}
	}
	return terms
}

// FilterOptions is the textual form of a filter set, as given on a query
// string or the command line
type FilterOptions struct {
	Kinds   string
	Status  string
	Include string
	Exclude string
}

// Filters builds the filters described by o
func (o FilterOptions) Filters() ([]Filter, error) {
	var filters []Filter

	if o.Kinds != "" {
		kinds := lo.Map(ParseKeywords(o.Kinds), func(k string, _ int) models.Kind {
			return models.Kind(k)
		})
		for _, kind := range kinds {
			if kind != models.KindTranscript && kind != models.KindLinkedIn {
				return nil, fmt.Errorf("unknown kind %q", kind)
			}
		}
		filters = append(filters, &KindFilter{Kinds: kinds})
	}

	if o.Status != "" {
		status := models.Status(strings.ToLower(strings.TrimSpace(o.Status)))
		if status != models.StatusProcessing && status != models.StatusCompleted {
			return nil, fmt.Errorf("unknown status %q", o.Status)
		}
		filters = append(filters, &StatusFilter{Status: status})
	}

	if o.Include != "" || o.Exclude != "" {
		filters = append(filters, &KeywordFilter{
			IncludeKeywords: ParseKeywords(o.Include),
			ExcludeKeywords: ParseKeywords(o.Exclude),
		})
	}

	return filters, nil
}

var _ Filter = (*KindFilter)(nil)
var _ Filter = (*StatusFilter)(nil)
var _ Filter = (*KeywordFilter)(nil)
