// Package clock maps discrete simulation ticks to story time. The scheduler
// advances the tick; every other component reads derived time from here.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock converts the current tick into simulated wall time using a fixed
// minutes-per-tick scale factor. Safe for concurrent use: the scheduler is
// the only writer, agents and the dispatcher read.
type Clock struct {
	start          time.Time
	minutesPerTick float64
	tick           atomic.Int64
}

// New creates a clock anchored at start. minutesPerTick is the scale factor
// from one tick to story minutes.
func New(start time.Time, minutesPerTick float64) *Clock {
	return &Clock{start: start, minutesPerTick: minutesPerTick}
}

// SetTick advances the clock to the given tick index.
func (c *Clock) SetTick(tick int64) {
	c.tick.Store(tick)
}

// Tick returns the current tick index.
func (c *Clock) Tick() int64 {
	return c.tick.Load()
}

// Now returns the story time at the current tick.
func (c *Clock) Now() time.Time {
	return c.TimeAt(c.tick.Load())
}

// TimeAt returns the story time at an arbitrary tick.
func (c *Clock) TimeAt(tick int64) time.Time {
	minutes := float64(tick) * c.minutesPerTick
	return c.start.Add(time.Duration(minutes * float64(time.Minute)))
}

// HourOfDay returns the story hour (0-23) at the current tick. Activation
// thresholds are indexed by this value.
func (c *Clock) HourOfDay() int {
	return c.Now().Hour()
}
