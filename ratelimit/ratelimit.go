// Package ratelimit provides fixed-window attempt limiters keyed by an
// opaque string such as a client IP.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// Remaining is the number of further attempts permitted in the current
	// window.
	Remaining int
	// RetryAfter is the time until the window resets. It is only meaningful
	// when Allowed is false.
	RetryAfter time.Duration
}

// Limiter counts an attempt for key and reports whether it is permitted.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// FixedWindow is an in-memory Limiter. Each key may make Limit attempts
// per Window; the window starts at the key's first attempt.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

type window struct {
	count   int
	resetAt time.Time
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) {
		f.now = now
	}
}

// NewFixedWindow returns a limiter allowing limit attempts per period and
// starts a goroutine that drops expired windows. Call Close to stop it.
func NewFixedWindow(limit int, period time.Duration, opts ...Option) *FixedWindow {
	f := &FixedWindow{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if period > 0 {
		go f.sweepLoop()
	}
	return f
}

// Allow implements Limiter. It never returns an error.
func (f *FixedWindow) Allow(_ context.Context, key string) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	w, ok := f.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(f.period)}
		f.windows[key] = w
	}
	if w.count >= f.limit {
		return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: f.limit - w.count}, nil
}

// Reset forgets all attempts for key.
func (f *FixedWindow) Reset(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, key)
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (f *FixedWindow) Close() error {
	f.once.Do(func() { close(f.stop) })
	return nil
}

func (f *FixedWindow) sweepLoop() {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.sweep()
		}
	}
}

func (f *FixedWindow) sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for key, w := range f.windows {
		if !now.Before(w.resetAt) {
			delete(f.windows, key)
		}
	}
}

// len reports the number of tracked keys.
func (f *FixedWindow) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}
