package poller

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"insightfeed/models"
)

// DefaultInterval between background refreshes while items are processing
const DefaultInterval = 30 * time.Second

var (
	pollerArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "insightfeed_poller_armed",
		Help: "1 while the background refresh timer is armed",
	})

	pollerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insightfeed_poller_ticks_total",
		Help: "Background refresh timer ticks",
	})
)

// State of the poll scheduler
type State int

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// NeedsPolling reports whether any item is still waiting for its result
func NeedsPolling(items []models.FeedItem) bool {
	return lo.SomeBy(items, func(i models.FeedItem) bool {
		return i.Status() == models.StatusProcessing
	})
}

// Scheduler arms a recurring timer while the feed has processing items.
// At most one timer goroutine is live at any time.
type Scheduler struct {
	interval time.Duration
	fire     func()

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewScheduler creates an idle scheduler calling fire on every tick
func NewScheduler(interval time.Duration, fire func()) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		fire:     fire,
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Evaluate arms the scheduler when items contain processing work, replacing
// any live timer, and disarms it otherwise. It returns the new state.
func (s *Scheduler) Evaluate(items []models.FeedItem) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return s.state
	}

	if NeedsPolling(items) {
		s.arm()
	} else {
		s.disarm()
	}
	return s.state
}

// Stop disarms the scheduler for good and waits for the timer goroutine
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.disarm()
	s.mu.Unlock()

	s.wg.Wait()
}

// arm must be called with s.mu held
func (s *Scheduler) arm() {
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.state != Armed {
		log.WithFields(log.Fields{
			"interval": s.interval,
		}).Info("Items processing, background refresh armed")
	}
	s.state = Armed
	pollerArmed.Set(1)

	s.wg.Add(1)
	go s.run(ctx)
}

// disarm must be called with s.mu held
func (s *Scheduler) disarm() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state == Armed {
		log.Info("No items processing, background refresh disarmed")
	}
	s.state = Idle
	pollerArmed.Set(0)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A re-arm may race with the tick, the old timer must not fire
			if ctx.Err() != nil {
				return
			}
			pollerTicks.Inc()
			s.fire()
		}
	}
}
