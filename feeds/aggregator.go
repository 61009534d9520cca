package feeds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"insightfeed/models"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insightfeed_aggregation_cycles_total",
		Help: "Aggregation cycles by result (clean, warning, fatal)",
	}, []string{"result"})

	feedItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "insightfeed_feed_items",
		Help: "Items in the latest aggregated feed by status",
	}, []string{"status"})
)

// Result of folding the per source outcomes of a cycle
type Result string

const (
	ResultClean   Result = "clean"
	ResultWarning Result = "warning"
	ResultFatal   Result = "fatal"
)

// Classify applies the combined error policy: every source failed is fatal,
// some failed is a warning, none failed is clean.
func Classify(sources, failed int) Result {
	switch {
	case sources > 0 && failed == sources:
		return ResultFatal
	case failed > 0:
		return ResultWarning
	default:
		return ResultClean
	}
}

// Aggregator fetches every source concurrently and merges the results
type Aggregator struct {
	sources []Source
	now     func() time.Time
}

func NewAggregator(sources ...Source) *Aggregator {
	return &Aggregator{
		sources: sources,
		now:     time.Now,
	}
}

// SourceNames lists the configured sources in fetch order
func (a *Aggregator) SourceNames() []string {
	return lo.Map(a.sources, func(s Source, _ int) string {
		return s.Name()
	})
}

// Refresh runs one aggregation cycle. It returns a *FatalError when every
// source failed, otherwise a snapshot holding the items of the sources that
// succeeded. Refresh keeps no state between calls.
func (a *Aggregator) Refresh(ctx context.Context) (*Snapshot, error) {
	outcomes := a.fetchAll(ctx)

	var items []models.FeedItem
	var failures []*SourceError
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, &SourceError{Source: o.source, Err: o.err})
			continue
		}
		items = append(items, o.items...)
	}

	result := Classify(len(outcomes), len(failures))
	cyclesTotal.WithLabelValues(string(result)).Inc()

	if result == ResultFatal {
		err := &FatalError{Failures: failures}
		log.WithFields(log.Fields{
			"sources": len(outcomes),
		}).WithError(err).Error("Aggregation cycle failed")
		return nil, err
	}

	snapshot := &Snapshot{
		Items:     Sequence(items),
		Failures:  failures,
		FetchedAt: a.now(),
	}
	if snapshot.Items == nil {
		snapshot.Items = []models.FeedItem{}
	}

	if result == ResultWarning {
		snapshot.Warning = warningMessage(failures)
		log.WithFields(log.Fields{
			"failed": len(failures),
			"items":  len(snapshot.Items),
		}).Warn(snapshot.Warning)
	}

	processing := lo.CountBy(snapshot.Items, func(i models.FeedItem) bool {
		return i.Status() == models.StatusProcessing
	})
	feedItems.WithLabelValues(string(models.StatusProcessing)).Set(float64(processing))
	feedItems.WithLabelValues(string(models.StatusCompleted)).Set(float64(len(snapshot.Items) - processing))

	log.WithFields(log.Fields{
		"items":      len(snapshot.Items),
		"processing": processing,
		"result":     result,
	}).Debug("Aggregation cycle complete")

	return snapshot, nil
}

// fetchAll waits for every source to settle. A failing source never cancels
// the others.
func (a *Aggregator) fetchAll(ctx context.Context) []outcome {
	outcomes := make([]outcome, len(a.sources))

	var wg sync.WaitGroup
	for i, source := range a.sources {
		wg.Add(1)
		go func(i int, source Source) {
			defer wg.Done()
			outcomes[i] = fetchOne(ctx, source)
		}(i, source)
	}
	wg.Wait()

	return outcomes
}

func fetchOne(ctx context.Context, source Source) (o outcome) {
	o.source = source.Name()
	defer func() {
		if r := recover(); r != nil {
			o.items = nil
			o.err = fmt.Errorf("panic while fetching: %v", r)
		}
	}()

	items, err := source.Fetch(ctx)
	if err != nil {
		o.err = err
		return o
	}
	o.items = items
	return o
}

func warningMessage(failures []*SourceError) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = f.Error()
	}
	return "showing partial results, " + strings.Join(parts, "; ")
}

// IsFatal reports whether err is an aggregation cycle where every source failed
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
