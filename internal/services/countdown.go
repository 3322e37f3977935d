package services

import (
	"sync"
	"time"

	"posterBack/internal/models"
)

// CountdownClock drives the discount-expiry countdown of one purchase
// screen. It is the only owner of the countdown timer: a second Start
// toward the same deadline returns the running handle untouched, so
// repeated triggers can never leak parallel tickers.
type CountdownClock struct {
	mu      sync.Mutex
	running *CountdownHandle

	// tick interval, overridable in tests
	Tick time.Duration
}

// CountdownHandle is one running countdown.
type CountdownHandle struct {
	deadline time.Time

	mu   sync.Mutex
	last models.CountdownValue

	stop chan struct{}
	once sync.Once
}

// Value returns the most recent tick value.
func (h *CountdownHandle) Value() models.CountdownValue {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Start begins ticking once per second toward deadline, reporting each tick
// through onTick. The final tick is an exact zero, after which the countdown
// stops on its own. Starting again toward the same deadline returns the
// running handle; a different deadline (the screen survived past midnight)
// replaces the running countdown.
func (c *CountdownClock) Start(deadline time.Time, onTick func(models.CountdownValue)) *CountdownHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != nil {
		if c.running.deadline.Equal(deadline) {
			return c.running
		}
		old := c.running
		old.once.Do(func() { close(old.stop) })
		c.running = nil
	}

	h := &CountdownHandle{
		deadline: deadline,
		stop:     make(chan struct{}),
	}
	h.last = models.CountdownUntil(deadline, time.Now())
	c.running = h

	interval := c.Tick
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case now := <-ticker.C:
				v := models.CountdownUntil(deadline, now)
				h.mu.Lock()
				h.last = v
				h.mu.Unlock()
				if onTick != nil {
					onTick(v)
				}
				if v.Zero() {
					c.Stop(h)
					return
				}
			}
		}
	}()
	return h
}

// Stop halts the given countdown. Safe to call more than once, and a no-op
// for handles that are not the current one.
func (c *CountdownClock) Stop(h *CountdownHandle) {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	c.mu.Lock()
	if c.running == h {
		c.running = nil
	}
	c.mu.Unlock()
}
