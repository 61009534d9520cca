package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"insightfeed/feeds"
	"insightfeed/models"
)

var skippedTicks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "insightfeed_poller_skipped_ticks_total",
	Help: "Timer ticks skipped because a refresh was already in flight",
})

// ErrClosed is returned by Refresh after the controller was closed
var ErrClosed = errors.New("feed controller closed")

// Mode says what triggered a refresh cycle
type Mode int

const (
	// Initial is the unconditional startup cycle
	Initial Mode = iota
	// Background is a timer driven cycle
	Background
	// Manual is a cycle requested by a user or caused by a submission
	Manual
)

func (m Mode) String() string {
	switch m {
	case Initial:
		return "initial"
	case Background:
		return "background"
	default:
		return "manual"
	}
}

// Refresher runs one aggregation cycle
type Refresher interface {
	Refresh(ctx context.Context) (*feeds.Snapshot, error)
}

// Config for a Controller
type Config struct {
	// Interval between background refreshes, DefaultInterval when zero
	Interval time.Duration
	// CycleTimeout bounds a single cycle, no bound when zero
	CycleTimeout time.Duration
	// OnChange receives every new snapshot. It is called outside the
	// controller's lock, in the order snapshots are produced.
	OnChange func(models.FeedState)
}

// Controller owns the current feed snapshot and the poll scheduler.
// Each finished cycle replaces the snapshot, the cycle that finishes last wins.
type Controller struct {
	refresher Refresher
	config    Config
	scheduler *Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                 sync.Mutex
	state              models.FeedState
	initialInflight    int
	backgroundInflight int
	closed             bool

	// notifyMu keeps OnChange calls in snapshot order
	notifyMu sync.Mutex
	version  uint64
	notified uint64
}

// NewController creates a controller with an empty feed and an idle scheduler
func NewController(refresher Refresher, config Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		refresher: refresher,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		state:     models.FeedState{Items: []models.FeedItem{}},
	}
	c.scheduler = NewScheduler(config.Interval, c.onTick)
	return c
}

// Start runs the startup cycle in the background
func (c *Controller) Start() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.Refresh(c.ctx, Initial); err != nil && !errors.Is(err, ErrClosed) {
			log.WithError(err).Warn("Startup refresh failed")
		}
	}()
}

// State returns the current snapshot
func (c *Controller) State() models.FeedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// SchedulerState reports whether background refreshes are armed
func (c *Controller) SchedulerState() State {
	return c.scheduler.State()
}

// Refresh runs one cycle and returns the snapshot it produced. A cycle where
// every source failed keeps the previous items, carries the fatal message and
// returns the *feeds.FatalError.
func (c *Controller) Refresh(ctx context.Context, mode Mode) (models.FeedState, error) {
	if !c.begin(mode) {
		return models.FeedState{}, ErrClosed
	}

	ctx, cancel := c.cycleContext(ctx)
	defer cancel()

	start := time.Now()
	snapshot, err := c.refresher.Refresh(ctx)

	fields := log.Fields{
		"mode":    mode.String(),
		"latency": time.Since(start),
	}

	state, applied := c.finish(mode, snapshot, err)
	if !applied {
		log.WithFields(fields).Debug("Discarding refresh result after close")
		return models.FeedState{}, ErrClosed
	}

	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Feed refresh failed")
		return state, err
	}

	fields["items"] = len(state.Items)
	fields["processing"] = state.Processing()
	log.WithFields(fields).Info("Feed refreshed")
	return state, nil
}

// Close stops the scheduler, cancels in-flight cycles and waits for them.
// No snapshot is published after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.scheduler.Stop()
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) cycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// Cycles end with the controller even when the caller's context lives on
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)

	if c.config.CycleTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, c.config.CycleTimeout)
		return ctx, func() {
			timeoutCancel()
			stop()
			cancel()
		}
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) onTick() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.initialInflight+c.backgroundInflight > 0 {
		c.mu.Unlock()
		skippedTicks.Inc()
		log.Debug("Refresh in flight, skipping timer tick")
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.Refresh(c.ctx, Background)
	}()
}

// begin marks a cycle as in flight and publishes the busy flags
func (c *Controller) begin(mode Mode) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if mode == Initial {
		c.initialInflight++
	} else {
		c.backgroundInflight++
	}
	c.wg.Add(1)
	state, version := c.replace(c.state)
	c.mu.Unlock()

	c.notify(state, version)
	return true
}

// finish applies the result of a cycle. It reports false when the controller
// was closed while the cycle ran.
func (c *Controller) finish(mode Mode, snapshot *feeds.Snapshot, err error) (models.FeedState, bool) {
	defer c.wg.Done()

	c.mu.Lock()
	if mode == Initial {
		c.initialInflight--
	} else {
		c.backgroundInflight--
	}
	if c.closed {
		c.mu.Unlock()
		return models.FeedState{}, false
	}

	next := c.state
	evaluate := false
	switch {
	case err != nil:
		// Previous items stay and the scheduler keeps its current state
		next.Message = err.Error()
		next.Severity = models.SeverityFatal
	default:
		next.Items = snapshot.Items
		next.Message = snapshot.Warning
		next.Severity = snapshot.Severity()
		next.UpdatedAt = snapshot.FetchedAt
		evaluate = true
	}

	state, version := c.replace(next)
	if evaluate {
		c.scheduler.Evaluate(state.Items)
	}
	c.mu.Unlock()

	c.notify(state, version)
	return state, true
}

// replace installs next as the current snapshot with fresh busy flags.
// c.mu must be held.
func (c *Controller) replace(next models.FeedState) (models.FeedState, uint64) {
	next.InitialLoading = c.initialInflight > 0
	next.BackgroundRefreshing = c.backgroundInflight > 0
	c.state = next.Clone()
	c.version++
	return c.state.Clone(), c.version
}

func (c *Controller) notify(state models.FeedState, version uint64) {
	if c.config.OnChange == nil {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	// A newer snapshot was already published
	if version <= c.notified {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.notified = version
	c.config.OnChange(state)
}
