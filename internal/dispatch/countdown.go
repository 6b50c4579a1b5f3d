package dispatch

import (
	"sync"
	"time"
)

// Countdown tracks the remaining life of an offer from its creation timestamp
// and a fixed TTL. Remaining time is always recomputed from the wall clock,
// never decremented tick by tick, so a suspended or throttled timer cannot
// stretch the window. When the countdown reaches zero it fires the expiry
// callback exactly once; Stop prevents a fire after the owning dialog is gone.
type Countdown struct {
	createdAt time.Time
	ttl       time.Duration
	onExpire  func()

	// Now and TickInterval may be overridden before Start (tests inject a
	// fake clock and a short interval).
	Now          func() time.Time
	TickInterval time.Duration

	fireOnce sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

// NewCountdown creates a countdown for an offer created at createdAt with the
// given TTL. onExpire runs at most once, from the countdown's goroutine.
func NewCountdown(createdAt time.Time, ttl time.Duration, onExpire func()) *Countdown {
	return &Countdown{
		createdAt:    createdAt,
		ttl:          ttl,
		onExpire:     onExpire,
		Now:          time.Now,
		TickInterval: time.Second,
		stop:         make(chan struct{}),
	}
}

// Remaining returns the time left before expiry, clamped at zero.
func (c *Countdown) Remaining() time.Duration {
	left := c.ttl - c.Now().Sub(c.createdAt)
	if left < 0 {
		return 0
	}
	return left
}

// Fraction returns Remaining as a share of the TTL in [0, 1], for progress
// rendering.
func (c *Countdown) Fraction() float64 {
	if c.ttl <= 0 {
		return 0
	}
	return float64(c.Remaining()) / float64(c.ttl)
}

// Expired reports whether the offer's TTL has fully elapsed.
func (c *Countdown) Expired() bool {
	return c.Remaining() == 0
}

// Start launches the ticking goroutine. An already-expired countdown fires
// immediately instead of counting from the full TTL (stale client state).
func (c *Countdown) Start() {
	go c.run()
}

func (c *Countdown) run() {
	if c.Expired() {
		c.fire()
		return
	}
	t := time.NewTicker(c.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if c.Expired() {
				c.fire()
				return
			}
		}
	}
}

// Stop halts the countdown; the expiry callback will not fire afterwards
// unless it already has. Safe to call more than once.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Countdown) fire() {
	// Re-check stop to avoid firing against a disposed dialog: Stop and the
	// final tick can race.
	select {
	case <-c.stop:
		return
	default:
	}
	c.fireOnce.Do(c.onExpire)
}
