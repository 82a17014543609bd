package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

/* Fixed-window rate limiter
 * Every key gets a counter per aligned window (now truncated to the window length).
 * The counter lives in a Store so several processes can share one budget.
 */

// Window identifies one counting window of a key
type Window struct {
	Key    string
	Start  time.Time
	Length time.Duration
}

// End returns when the window closes
func (w Window) End() time.Time {
	return w.Start.Add(w.Length)
}

// Index returns the window number since the unix epoch
func (w Window) Index() int64 {
	return w.Start.UnixMilli() / w.Length.Milliseconds()
}

// Store increments the hit counter of a window and returns the new count
type Store interface {
	Increment(ctx context.Context, w Window) (int64, error)
}

// Result is the outcome of one Allow call
type Result struct {
	Allowed   bool      `json:"allowed"`
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter returns how long until the window resets, rounded up to whole seconds
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

// Limiter allows up to limit hits per key per window
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
	clock  clockwork.Clock
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock, used by tests
func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// WithPrefix namespaces keys so several limiters can share one store
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// New creates a Limiter. A limit <= 0 disables limiting.
func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}

	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Limit returns the configured hits per window
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the configured window length
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow counts one hit for key and reports whether it fits the budget
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.clock.Now()
	w := Window{
		Key:    l.prefix + key,
		Start:  now.Truncate(l.window),
		Length: l.window,
	}

	if l.limit <= 0 {
		return Result{Allowed: true, ResetAt: w.End()}, nil
	}

	count, err := l.store.Increment(ctx, w)
	if err != nil {
		return Result{}, fmt.Errorf("incrementing rate limit counter: %w", err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   int(count) <= l.limit,
		Count:     int(count),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   w.End(),
	}, nil
}
