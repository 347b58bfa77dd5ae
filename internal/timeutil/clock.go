// Package timeutil provides a testable abstraction over the clocks that drive
// the control loops.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides the time operations used by the phase loop and recorders.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// NewTicker returns a Ticker that fires with the given period.
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks at a fixed cadence.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time

	// Stop turns off the ticker. No ticks are delivered after Stop returns.
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewTicker returns a ticker backed by time.Ticker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock is a manually driven clock. Tickers created from it only fire
// when the test calls Tick, which makes every tick of a loop observable.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
	created chan *MockTicker
}

// NewMockClock creates a MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{
		now:     t,
		created: make(chan *MockTicker, 16),
	}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t on the mocked timeline.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward without firing any ticker.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewTicker creates a MockTicker. The ticker is also announced on the channel
// returned by Tickers so tests can pick it up once the loop has started.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	t := &MockTicker{
		clock:    c,
		interval: d,
		ch:       make(chan time.Time),
		stopped:  make(chan struct{}),
	}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	select {
	case c.created <- t:
	default:
	}
	return t
}

// Tickers returns a channel that yields every ticker created from this clock.
func (c *MockClock) Tickers() <-chan *MockTicker {
	return c.created
}

// MockTicker is a ticker fired by hand.
type MockTicker struct {
	clock    *MockClock
	interval time.Duration
	ch       chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

// C returns the tick channel.
func (t *MockTicker) C() <-chan time.Time { return t.ch }

// Interval returns the period the ticker was created with.
func (t *MockTicker) Interval() time.Duration { return t.interval }

// Stop turns off the ticker and releases any blocked Tick call.
func (t *MockTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Stopped reports whether Stop has been called.
func (t *MockTicker) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Tick advances the owning clock by one interval and delivers a tick. It
// blocks until the tick is received, so when Tick returns for the (n+1)th
// time the consumer has finished handling the nth tick. It returns false if
// the ticker was stopped before the tick could be delivered.
func (t *MockTicker) Tick() bool {
	t.clock.Advance(t.interval)
	now := t.clock.Now()
	select {
	case <-t.stopped:
		return false
	default:
	}
	select {
	case t.ch <- now:
		return true
	case <-t.stopped:
		return false
	}
}
