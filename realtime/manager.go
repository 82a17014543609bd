package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultReopenDelay is the wait before reopening a failed channel
	DefaultReopenDelay = time.Second

	// DefaultMaxReopenDelay caps the doubling reopen delay
	DefaultMaxReopenDelay = 30 * time.Second
)

// State of a shared channel
type State int

const (
	Opening State = iota + 1
	Active
	Failed
	TearingDown
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Failed:
		return "failed"
	case TearingDown:
		return "tearing_down"
	default:
		return "unknown"
	}
}

// entry is one shared channel; refCount is len(callbacks)
type entry struct {
	key       string
	spec      ChannelSpec
	handle    Channel
	callbacks map[uint64]Callback
	createdAt time.Time
	state     State
	cancel    context.CancelFunc
	failures  int
}

// KeyStats describes one shared channel
type KeyStats struct {
	Key       string    `json:"key"`
	RefCount  int       `json:"ref_count"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats is a snapshot of the registry
type Stats struct {
	Channels          int        `json:"channels"`
	Subscribers       int        `json:"subscribers"`
	ChannelsOpened    int64      `json:"channels_opened"`
	CreationsInWindow int        `json:"creations_in_window"`
	Storms            int64      `json:"storms"`
	Keys              []KeyStats `json:"keys"`
}

/* Manager shares one provider channel per key between all subscribers.
 * The first Subscribe of a key opens the channel in the background,
 * later ones only attach a callback, the last unsubscribe closes it.
 */
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	provider Provider
	storm    *stormDetector
	clock    clockwork.Clock
	logger   zerolog.Logger
	nextID   uint64
	opened   int64
	closed   bool

	reopenDelay    time.Duration
	maxReopenDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock, used by tests
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStormDetection sets the rolling window and the creation count that counts as a storm
func WithStormDetection(window time.Duration, threshold int) Option {
	return func(m *Manager) {
		m.storm = newStormDetector(window, threshold)
	}
}

// WithReopenBackoff sets the first and the maximum delay before a failed channel
// is opened again for its remaining subscribers
func WithReopenBackoff(initial, ceiling time.Duration) Option {
	return func(m *Manager) {
		if initial > 0 {
			m.reopenDelay = initial
		}
		if ceiling >= initial {
			m.maxReopenDelay = ceiling
		}
	}
}

// NewManager creates a Manager opening channels through provider
func NewManager(provider Provider, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		entries:  make(map[string]*entry),
		provider: provider,
		storm:    newStormDetector(DefaultStormWindow, DefaultStormThreshold),
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
		ctx:      ctx,
		cancel:   cancel,

		reopenDelay:    DefaultReopenDelay,
		maxReopenDelay: DefaultMaxReopenDelay,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Subscribe attaches spec.Callback to the shared channel of key and returns
// an idempotent unsubscribe function. It never blocks on the network.
func (m *Manager) Subscribe(key string, spec Spec) (unsubscribe func()) {
	if key == "" {
		key = KeyFor(spec)
	}
	now := m.clock.Now()

	if started, inWindow := m.storm.record(now); started {
		m.logger.Warn().
			Str("key", key).
			Int("creations", inWindow).
			Msg("subscription storm detected, a caller is probably re-subscribing on every render")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn().Str("key", key).Msg("subscribe on closed realtime manager")
		return func() {}
	}

	m.nextID++
	id := m.nextID

	e, ok := m.entries[key]
	if !ok {
		e = &entry{
			key: key,
			spec: ChannelSpec{
				Key:      key,
				Resource: spec.Resource,
				Filter:   spec.Filter,
				Event:    spec.Event,
			},
			callbacks: make(map[uint64]Callback),
			createdAt: now,
		}
		m.entries[key] = e
	}
	e.callbacks[id] = spec.Callback
	if e.state == 0 || e.state == Failed {
		m.openLocked(e)
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.unsubscribe(e, id)
		})
	}
}

// openLocked starts opening the provider channel of e in the background
func (m *Manager) openLocked(e *entry) {
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	e.state = Opening
	e.cancel = cancel
	m.opened++

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ch, err := m.provider.Open(ctx, e.spec, func(c Change) {
			m.deliver(e, c)
		})

		m.mu.Lock()
		if e.state == TearingDown {
			m.mu.Unlock()
			// torn down while opening, nobody owns the late handle
			if ch != nil {
				m.closeHandle(e.key, ch)
			}
			return
		}
		if err != nil {
			e.state = Failed
			e.failures++
			delay := m.reopenDelayFor(e.failures)
			m.mu.Unlock()
			m.logger.Error().Err(err).Str("key", e.key).Dur("retry_in", delay).Msg("opening realtime channel")
			m.reopenAfter(ctx, e, delay)
			return
		}
		e.handle = ch
		e.state = Active
		e.failures = 0
		m.mu.Unlock()

		m.logger.Debug().Str("key", e.key).Msg("realtime channel active")
	}()
}

// reopenAfter waits delay, then opens e again if it still has subscribers.
// ctx is the failed open's context, canceled by teardown, Close or a newer open.
func (m *Manager) reopenAfter(ctx context.Context, e *entry, delay time.Duration) {
	timer := m.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.Chan():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || e.state != Failed || len(e.callbacks) == 0 || m.entries[e.key] != e {
		return
	}
	m.openLocked(e)
}

func (m *Manager) reopenDelayFor(failures int) time.Duration {
	delay := m.reopenDelay
	for i := 1; i < failures && delay < m.maxReopenDelay; i++ {
		delay *= 2
	}
	return min(delay, m.maxReopenDelay)
}

func (m *Manager) unsubscribe(e *entry, id uint64) {
	m.mu.Lock()
	if _, ok := e.callbacks[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(e.callbacks, id)
	if len(e.callbacks) > 0 {
		m.mu.Unlock()
		return
	}

	if m.entries[e.key] == e {
		delete(m.entries, e.key)
	}
	handle := m.teardownLocked(e)
	m.mu.Unlock()

	if handle != nil {
		m.closeHandle(e.key, handle)
	}
}

// teardownLocked marks e as gone and returns the handle the caller must close
func (m *Manager) teardownLocked(e *entry) Channel {
	e.state = TearingDown
	if e.cancel != nil {
		e.cancel()
	}
	handle := e.handle
	e.handle = nil
	return handle
}

func (m *Manager) closeHandle(key string, ch Channel) {
	if err := ch.Close(); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("closing realtime channel")
	}
}

// deliver fans a change out to the current callbacks, outside the registry lock
func (m *Manager) deliver(e *entry, c Change) {
	m.mu.RLock()
	if e.state == TearingDown {
		m.mu.RUnlock()
		return
	}
	ids := make([]uint64, 0, len(e.callbacks))
	for id := range e.callbacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	callbacks := make([]Callback, 0, len(ids))
	for _, id := range ids {
		if cb := e.callbacks[id]; cb != nil {
			callbacks = append(callbacks, cb)
		}
	}
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(c)
	}
}

// Stats returns a snapshot of the shared channels
func (m *Manager) Stats() Stats {
	inWindow, storms := m.storm.snapshot(m.clock.Now())

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Channels:          len(m.entries),
		ChannelsOpened:    m.opened,
		CreationsInWindow: inWindow,
		Storms:            storms,
		Keys:              make([]KeyStats, 0, len(m.entries)),
	}
	for _, e := range m.entries {
		stats.Subscribers += len(e.callbacks)
		stats.Keys = append(stats.Keys, KeyStats{
			Key:       e.key,
			RefCount:  len(e.callbacks),
			State:     e.state.String(),
			CreatedAt: e.createdAt,
		})
	}
	sort.Slice(stats.Keys, func(i, j int) bool { return stats.Keys[i].Key < stats.Keys[j].Key })

	return stats
}

// Close tears down every channel and waits for pending opens
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	handles := make(map[string]Channel)
	for key, e := range m.entries {
		if h := m.teardownLocked(e); h != nil {
			handles[key] = h
		}
		delete(m.entries, key)
	}
	m.mu.Unlock()

	m.cancel()
	for key, h := range handles {
		m.closeHandle(key, h)
	}
	m.wg.Wait()
}
