// Package throttle implements a leading-edge rate limiter: the first call in
// a window runs, every other call until the window expires is dropped (not
// queued).
package throttle

import (
	"sync"
	"time"
)

// Limiter remembers when it last fired. The zero value is not usable; call
// New.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
	fired  bool
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the given window. A non-positive window lets
// every call through.
func New(window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{window: window, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow reports whether a call arriving now may run, and if so starts a new
// cooldown window. A call arriving exactly when the window expires is
// allowed.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.fired && now.Sub(l.last) < l.window {
		return false
	}
	l.last = now
	l.fired = true
	return true
}

// Do runs fn if Allow permits and reports whether it ran.
func (l *Limiter) Do(fn func()) bool {
	if !l.Allow() {
		return false
	}
	fn()
	return true
}

// Reset forgets the last firing so the next call runs.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.fired = false
	l.mu.Unlock()
}
