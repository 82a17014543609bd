package monitor

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/webhook"
)

const (
	// DefaultCapacity is the number of attempts kept in memory
	DefaultCapacity = 1000

	// DefaultSlowThreshold marks an attempt as slow
	DefaultSlowThreshold = 5 * time.Second
)

// Stats are aggregates over the buffered attempts, recomputed on every call.
// Delivery health (requests, success rate, latency, slow count, retries) covers
// outbound attempts only; inbound admissions are counted on their own.
type Stats struct {
	Window              time.Duration  `json:"-"`
	WindowSeconds       float64        `json:"window_seconds"`
	TotalRequests       int            `json:"total_requests"`
	TotalAttempts       int            `json:"total_attempts"`
	SuccessRate         float64        `json:"success_rate"`
	AverageResponseTime time.Duration  `json:"-"`
	AverageResponseMs   float64        `json:"average_response_ms"`
	ErrorsByKind        map[string]int `json:"errors_by_kind"`
	SlowRequestCount    int            `json:"slow_request_count"`
	Retries             int            `json:"retries"`
	ByDirection         map[string]int `json:"by_direction"`
	InboundRequests     int            `json:"inbound_requests"`
	InboundRejected     int            `json:"inbound_rejected"`
}

// Errors returns the attempt count for one error kind
func (s Stats) Errors(kind webhook.ErrorKind) int {
	return s.ErrorsByKind[kind.String()]
}

// Monitor records every delivery attempt, inbound and outbound, in a ring buffer
type Monitor struct {
	ring          *Ring[webhook.Attempt]
	clock         clockwork.Clock
	slowThreshold time.Duration
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock replaces the wall clock, used by tests
func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithSlowThreshold sets the latency above which an attempt counts as slow
func WithSlowThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.slowThreshold = d
		}
	}
}

// New creates a Monitor keeping the last capacity attempts
func New(capacity int, opts ...Option) *Monitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	m := &Monitor{
		ring:          NewRing[webhook.Attempt](capacity),
		clock:         clockwork.NewRealClock(),
		slowThreshold: DefaultSlowThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Record stores one attempt. A zero timestamp is set to now.
func (m *Monitor) Record(a webhook.Attempt) {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.clock.Now()
	}
	m.ring.Write(a)
}

// Recent returns up to n of the newest attempts, oldest first
func (m *Monitor) Recent(n int) []webhook.Attempt {
	return m.ring.Last(n)
}

// Stats aggregates attempts recorded within window; 0 covers the whole buffer
func (m *Monitor) Stats(window time.Duration) Stats {
	attempts := m.ring.ReadAll()

	var since time.Time
	if window > 0 {
		since = m.clock.Now().Add(-window)
	}

	stats := Stats{
		Window:        window,
		WindowSeconds: window.Seconds(),
		ErrorsByKind:  make(map[string]int),
		ByDirection:   make(map[string]int),
	}

	var totalDuration time.Duration
	succeeded := 0
	for _, a := range attempts {
		if window > 0 && a.Timestamp.Before(since) {
			continue
		}

		stats.ByDirection[a.Direction.String()]++
		if !a.Success && a.ErrorKind != webhook.NoError {
			stats.ErrorsByKind[a.ErrorKind.String()]++
		}

		if a.Direction == webhook.Inbound {
			stats.InboundRequests++
			if !a.Success {
				stats.InboundRejected++
			}
			continue
		}

		stats.TotalAttempts++
		totalDuration += a.Duration
		if a.Duration > m.slowThreshold {
			stats.SlowRequestCount++
		}
		if a.RetryIndex > 0 {
			stats.Retries++
		}
		if a.Final {
			stats.TotalRequests++
			if a.Success {
				succeeded++
			}
		}
	}

	stats.SuccessRate = 1
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.TotalRequests)
	}
	if stats.TotalAttempts > 0 {
		stats.AverageResponseTime = totalDuration / time.Duration(stats.TotalAttempts)
		stats.AverageResponseMs = float64(stats.AverageResponseTime) / float64(time.Millisecond)
	}

	return stats
}

// Capacity returns the ring buffer capacity
func (m *Monitor) Capacity() int {
	return m.ring.Capacity()
}

// TotalRecorded returns the number of attempts ever recorded, evicted ones included
func (m *Monitor) TotalRecorded() int64 {
	return m.ring.Total()
}
