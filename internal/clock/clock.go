// Package clock abstracts the time operations used by pollers and alert
// timers so tests can drive them deterministically.
package clock

import "time"

// Clock is injected wherever code would otherwise call time.Now,
// time.AfterFunc, or time.NewTicker.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. The fake clock calls f
	// synchronously from Advance.
	AfterFunc(d time.Duration, f func()) *Timer
	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the call. It reports false if the call already ran or
// was already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers ticks on C. C has capacity 1; ticks are dropped when
// the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
