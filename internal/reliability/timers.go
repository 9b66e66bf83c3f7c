package reliability

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// coalescingTimer replaces "schedule-once-if-not-scheduled" with a state
// flag plus a single underlying timer, the re-architecture spec.md §9
// calls for: the reactor only needs scheduleAfter/cancel, and repeated
// requests to fire within the same delay window collapse into one fire.
type coalescingTimer struct {
	mu        sync.Mutex
	delay     time.Duration
	fire      func()
	timer     *time.Timer
	scheduled bool
}

func newCoalescingTimer(delay time.Duration, fire func()) *coalescingTimer {
	return &coalescingTimer{delay: delay, fire: fire}
}

// request schedules fire to run after delay, unless a fire is already
// pending, in which case the request is a no-op.
func (c *coalescingTimer) request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduled {
		return
	}
	c.scheduled = true
	c.timer = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.scheduled = false
		c.mu.Unlock()
		c.fire()
	})
}

// cancel suppresses a pending fire, if any.
func (c *coalescingTimer) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.scheduled = false
}

// periodicTimer runs fire every period until stopped, the pattern the
// heartbeat/heartbeat_checker/relay_beacon timers in §4.6 share.
type periodicTimer struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// startPeriodicTimer launches fire's loop under eg so DataLink's reactor
// goroutines (heartbeat, heartbeat_checker, relay_beacon) are joined and
// their panics/errors surface through a single errgroup.Wait rather than
// leaking silently, the supervision SPEC_FULL.md's Concurrency section
// calls for.
func startPeriodicTimer(eg *errgroup.Group, period time.Duration, fire func()) *periodicTimer {
	t := &periodicTimer{ticker: time.NewTicker(period), stop: make(chan struct{})}
	eg.Go(func() error {
		for {
			select {
			case <-t.stop:
				return nil
			case <-t.ticker.C:
				fire()
			}
		}
	})
	return t
}

func (t *periodicTimer) Stop() {
	t.ticker.Stop()
	close(t.stop)
}
