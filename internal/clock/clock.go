// Package clock abstracts the few time operations the poll loops need so
// that tests can simulate hours of polling instantly.
//
// Production code receives Real(). Tests receive a *FakeClock whose Sleep
// advances the fake time immediately instead of blocking. Every loop in
// this module is single threaded, so an auto-advancing fake is enough to
// make them deterministic.
package clock

import (
	"sync"
	"time"
)

// Clock is the injected time source.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// FakeClock is a Clock for tests. Time only moves when Sleep or Advance is
// called. Hooks registered with OnSleep run after every Sleep, with the new
// fake time, which lets a test make the "other side" of a protocol act at a
// precise point of the simulated timeline.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  int
	hooks   []func(now time.Time)
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep advances the fake time by d and runs the sleep hooks. Non-positive
// durations still count as a sleep but do not move time.
func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	if d > 0 {
		c.current = c.current.Add(d)
	}
	c.sleeps++
	now := c.current
	hooks := append([]func(time.Time){}, c.hooks...)
	c.mu.Unlock()

	for _, hook := range hooks {
		hook(now)
	}
}

// Advance moves the fake time forward without counting a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// OnSleep registers a hook called after every Sleep. Hooks must not call
// Sleep themselves.
func (c *FakeClock) OnSleep(hook func(now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Sleeps returns how many times Sleep was called.
func (c *FakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}
