// Package feeds merges records from independent sources into one ordered feed
package feeds

import (
	"context"
	"time"

	"insightfeed/models"
)

// Source is one independent backend collection feeding the aggregator
type Source interface {
	// Name identifies the source in warnings and logs
	Name() string
	// Fetch returns the source's records projected into feed items
	Fetch(ctx context.Context) ([]models.FeedItem, error)
}

// Snapshot is the outcome of one aggregation cycle that produced a feed
type Snapshot struct {
	Items []models.FeedItem
	// Warning names the sources that failed this cycle, empty when all succeeded
	Warning   string
	Failures  []*SourceError
	FetchedAt time.Time
}

// Severity maps the snapshot to the message severity of a feed state
func (s *Snapshot) Severity() models.Severity {
	if s.Warning != "" {
		return models.SeverityWarning
	}
	return models.SeverityNone
}

// outcome is the settled result of a single source fetch
type outcome struct {
	source string
	items  []models.FeedItem
	err    error
}
