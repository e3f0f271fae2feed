package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultWarnThreshold is the remaining time at which the one-shot
	// low-time warning fires.
	DefaultWarnThreshold = 5 * time.Minute
	// DefaultTickInterval is the countdown resolution.
	DefaultTickInterval = time.Second
)

// Countdown is the single ticking timer of a session. Remaining time is
// recomputed from the absolute deadline on every tick, so a reloaded
// session picks up exactly where the wall clock says it should.
type Countdown struct {
	deadline time.Time
	warnAt   time.Duration
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	onWarn   func(remaining time.Duration)
	onExpire func()

	mu     sync.Mutex
	warned bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newCountdown(deadline time.Time, warnAt, interval time.Duration, now func() time.Time, log zerolog.Logger, onWarn func(time.Duration), onExpire func()) *Countdown {
	if warnAt <= 0 {
		warnAt = DefaultWarnThreshold
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Countdown{
		deadline: deadline,
		warnAt:   warnAt,
		interval: interval,
		now:      now,
		log:      log.With().Str("component", "countdown").Logger(),
		onWarn:   onWarn,
		onExpire: onExpire,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the ticking goroutine. A session that loads with zero
// remaining time expires on the first tick without any candidate action.
func (c *Countdown) Start() {
	go c.run()
}

func (c *Countdown) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick handles one timer beat; returns true once the countdown is done.
func (c *Countdown) tick() bool {
	remaining := c.Remaining()

	if remaining <= 0 {
		c.Stop()
		c.log.Info().Msg("Time expired, triggering automatic submission")
		c.onExpire()
		return true
	}

	c.mu.Lock()
	shouldWarn := !c.warned && remaining <= c.warnAt
	if shouldWarn {
		c.warned = true
	}
	c.mu.Unlock()

	if shouldWarn {
		c.log.Info().Dur("remaining", remaining).Msg("Low-time warning")
		c.onWarn(remaining)
	}
	return false
}

// Remaining returns the time left, floored at zero.
func (c *Countdown) Remaining() time.Duration {
	r := c.deadline.Sub(c.now())
	if r < 0 {
		return 0
	}
	return r
}

// Stop halts ticking. Safe to call multiple times and from any goroutine;
// after Stop no further warning or expiry callbacks fire.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
