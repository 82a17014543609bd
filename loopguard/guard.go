package loopguard

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/ratelimit"
	"github.com/rs/zerolog"
)

// SourceHeader carries the id of the service that produced a request
const SourceHeader = "X-Webhook-Source"

// Config holds the guard policy
type Config struct {
	SoftLimit     int
	HardLimit     int
	QuietWindow   time.Duration
	ThrottleDelay time.Duration
	// Source is our own X-Webhook-Source value; requests echoing it are rejected
	Source string
}

// DefaultConfig returns the stock policy
func DefaultConfig() Config {
	return Config{
		SoftLimit:     3,
		HardLimit:     6,
		QuietWindow:   2 * time.Minute,
		ThrottleDelay: 500 * time.Millisecond,
	}
}

// Validate checks the policy is coherent
func (c Config) Validate() error {
	if c.SoftLimit < 1 {
		return fmt.Errorf("soft limit must be at least 1, got %d", c.SoftLimit)
	}
	if c.HardLimit < c.SoftLimit {
		return fmt.Errorf("hard limit %d is below soft limit %d", c.HardLimit, c.SoftLimit)
	}
	if c.QuietWindow <= 0 {
		return fmt.Errorf("quiet window must be positive, got %s", c.QuietWindow)
	}
	if c.ThrottleDelay < 0 {
		return fmt.Errorf("throttle delay cannot be negative")
	}
	return nil
}

// ConversationLimiter caps throughput per conversation
type ConversationLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

/* Guard decides whether an inbound message is processed, slowed down or rejected.
 * Counters live in memory and are forgotten after the quiet window, so a restart
 * only loses soft state.
 */
type Guard struct {
	mu      sync.Mutex
	records map[string]*Record
	cfg     Config
	limiter ConversationLimiter
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// Option configures a Guard
type Option func(*Guard)

// WithClock replaces the wall clock, used by tests
func WithClock(clock clockwork.Clock) Option {
	return func(g *Guard) {
		g.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// New creates a Guard. limiter may be nil to disable the conversation cap.
func New(cfg Config, limiter ConversationLimiter, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating loop guard config: %w", err)
	}

	g := &Guard{
		records: make(map[string]*Record),
		cfg:     cfg,
		limiter: limiter,
		clock:   clockwork.NewRealClock(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Fingerprint builds the identity of a message from its stable ids, never from content.
// The conversation id is length-prefixed so no pair of ids can collide with another.
func Fingerprint(messageID, conversationID string) string {
	return strconv.Itoa(len(conversationID)) + ":" + conversationID + "/" + messageID
}

// Admit counts one sighting of the message and returns the verdict
func (g *Guard) Admit(ctx context.Context, in Input, header http.Header) Admission {
	if g.cfg.Source != "" && header.Get(SourceHeader) == g.cfg.Source {
		g.logger.Warn().
			Str("instance", in.InstanceLabel).
			Str("conversation_id", in.ConversationID).
			Msg("rejecting self-originated webhook")
		return Admission{Decision: Reject, Reason: ReasonSelfOriginated, RetryAfter: g.cfg.QuietWindow}
	}

	adm := g.count(in)
	limited, retryAfter := g.conversationLimited(ctx, in)

	switch {
	case adm.AttemptCount > g.cfg.HardLimit:
		adm.Decision = Reject
		adm.Reason = ReasonLoopDetected
		adm.RetryAfter = g.cfg.QuietWindow
		g.logger.Warn().
			Str("fingerprint", adm.Fingerprint).
			Str("instance", in.InstanceLabel).
			Int("attempt_count", adm.AttemptCount).
			Msg("probable webhook loop, rejecting")
	case limited:
		adm.Decision = Reject
		adm.Reason = ReasonConversationLimit
		adm.RetryAfter = retryAfter
		g.logger.Warn().
			Str("conversation_id", in.ConversationID).
			Str("instance", in.InstanceLabel).
			Msg("conversation rate limit exceeded")
	case adm.AttemptCount > g.cfg.SoftLimit:
		adm.Decision = Throttle
		adm.Reason = ReasonRepeated
		adm.Delay = g.cfg.ThrottleDelay * time.Duration(adm.AttemptCount-g.cfg.SoftLimit)
	default:
		adm.Decision = Accept
	}

	return adm
}

// count sweeps expired records and increments the record of the fingerprint
func (g *Guard) count(in Input) Admission {
	if in.MessageID == "" {
		g.logger.Debug().Str("instance", in.InstanceLabel).Msg("message without stable id, treating as unique")
		return Admission{
			Fingerprint:  "random/" + uuid.NewString(),
			AttemptCount: 1,
			Reason:       ReasonNoStableID,
		}
	}

	fp := Fingerprint(in.MessageID, in.ConversationID)
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepLocked(now)

	rec, ok := g.records[fp]
	if !ok {
		rec = &Record{Fingerprint: fp, FirstSeenAt: now}
		g.records[fp] = rec
	}
	rec.AttemptCount++
	rec.LastSeenAt = now

	return Admission{Fingerprint: fp, AttemptCount: rec.AttemptCount}
}

func (g *Guard) sweepLocked(now time.Time) {
	for fp, rec := range g.records {
		if now.Sub(rec.LastSeenAt) >= g.cfg.QuietWindow {
			delete(g.records, fp)
		}
	}
}

// conversationLimited consults the per-conversation limiter, failing open on backend errors
func (g *Guard) conversationLimited(ctx context.Context, in Input) (bool, time.Duration) {
	if g.limiter == nil || in.ConversationID == "" {
		return false, 0
	}

	res, err := g.limiter.Allow(ctx, in.ConversationID)
	if err != nil {
		g.logger.Error().Err(err).Str("conversation_id", in.ConversationID).Msg("conversation rate limiter unavailable, allowing")
		return false, 0
	}
	if res.Allowed {
		return false, 0
	}
	return true, res.RetryAfter(g.clock.Now())
}

// Len returns the number of tracked fingerprints
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// Lookup returns a copy of the record of a fingerprint
func (g *Guard) Lookup(fingerprint string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[fingerprint]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
