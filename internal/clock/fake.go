package clock

import (
	"context"
	"time"
)

type FakeClock struct {
	now   time.Time
	slept []time.Duration
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Sleep advances the fake time instead of blocking.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.now = c.now.Add(d)
		c.slept = append(c.slept, d)
	}
	return nil
}

// SleptDurations reports every delay passed to Sleep, in order.
func (c *FakeClock) SleptDurations() []time.Duration {
	return c.slept
}

func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
