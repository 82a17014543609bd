package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/monitor"
	"github.com/rs/zerolog"
)

// DefaultWindow is the stats window evaluated when none is configured
const DefaultWindow = 15 * time.Minute

// StatsSource provides the stats alerts are computed from
type StatsSource interface {
	Stats(window time.Duration) monitor.Stats
}

/* Engine evaluates monitor stats against thresholds and keeps the raised alerts.
 * An alert is not re-inserted while an unacknowledged alert with the same title exists.
 * Alerts never expire on their own, they are removed by Clear.
 */
type Engine struct {
	mu         sync.RWMutex
	alerts     []Alert
	source     StatsSource
	thresholds Thresholds
	window     time.Duration
	clock      clockwork.Clock
	logger     zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithWindow sets the stats window evaluated on every run
func WithWindow(window time.Duration) Option {
	return func(e *Engine) {
		e.window = window
	}
}

// WithClock replaces the wall clock, used by tests
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine reading stats from source
func NewEngine(source StatsSource, thresholds Thresholds, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		thresholds: thresholds,
		window:     DefaultWindow,
		clock:      clockwork.NewRealClock(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate checks current stats and stores new alerts, returning only the inserted ones.
// Invalid thresholds are logged and evaluation is skipped.
func (e *Engine) Evaluate(ctx context.Context) []Alert {
	if ctx.Err() != nil {
		return nil
	}

	if err := e.thresholds.Validate(); err != nil {
		e.logger.Error().Err(err).Msg("skipping alert evaluation, invalid thresholds")
		return nil
	}

	raised := Check(e.source.Stats(e.window), e.thresholds)
	if len(raised) == 0 {
		return nil
	}

	now := e.clock.Now()

	e.mu.Lock()
	var inserted []Alert
	for _, a := range raised {
		if e.hasUnacknowledgedLocked(a.Title) {
			continue
		}
		a.ID = uuid.NewString()
		a.CreatedAt = now
		e.alerts = append(e.alerts, a)
		inserted = append(inserted, a)
	}
	e.mu.Unlock()

	for _, a := range inserted {
		e.logger.Warn().
			Str("alert_id", a.ID).
			Str("kind", string(a.Kind)).
			Str("severity", a.Severity.String()).
			Bool("action_required", a.ActionRequired).
			Msg(a.Title + ": " + a.Message)
	}

	return inserted
}

func (e *Engine) hasUnacknowledgedLocked(title string) bool {
	for _, a := range e.alerts {
		if !a.Acknowledged && a.Title == title {
			return true
		}
	}
	return false
}

// Alerts returns every stored alert, newest first
func (e *Engine) Alerts() []Alert {
	return e.list(func(Alert) bool { return true })
}

// Unacknowledged returns alerts still waiting for an operator, newest first
func (e *Engine) Unacknowledged() []Alert {
	return e.list(func(a Alert) bool { return !a.Acknowledged })
}

func (e *Engine) list(keep func(Alert) bool) []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Alert, 0, len(e.alerts))
	for i := len(e.alerts) - 1; i >= 0; i-- {
		if keep(e.alerts[i]) {
			out = append(out, e.alerts[i])
		}
	}
	return out
}

// Acknowledge marks one alert as seen
func (e *Engine) Acknowledge(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.alerts {
		if e.alerts[i].ID == id {
			if !e.alerts[i].Acknowledged {
				now := e.clock.Now()
				e.alerts[i].Acknowledged = true
				e.alerts[i].AcknowledgedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

// AcknowledgeAll marks every alert as seen and returns how many changed
func (e *Engine) AcknowledgeAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	n := 0
	for i := range e.alerts {
		if !e.alerts[i].Acknowledged {
			e.alerts[i].Acknowledged = true
			e.alerts[i].AcknowledgedAt = &now
			n++
		}
	}
	return n
}

// Clear removes every alert
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = nil
}

// Start evaluates on every interval tick until ctx is done or stop is called.
// stop blocks until the loop has exited and is safe to call more than once.
func (e *Engine) Start(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := e.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.Evaluate(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
