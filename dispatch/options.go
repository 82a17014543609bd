package dispatch

import (
	"context"
	"net/http"
	"time"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 750 * time.Millisecond
	DefaultTimeout    = 5 * time.Second

	DefaultExponentialBackoff = true
)

// Sleeper waits d or until ctx is done, returning ctx.Err() in the latter case
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures one logical send
type Option func(*options)

type options struct {
	maxRetries     int
	baseDelay      time.Duration
	exponential    bool
	timeout        time.Duration
	idempotencyKey string
	eventID        string
	headers        http.Header
	bearerToken    string
	source         string
	signingSecret  []byte
	instanceLabel  string
	completion     func(Response, error)
	sleep          Sleeper
}

func defaultOptions() options {
	return options{
		maxRetries:  DefaultMaxRetries,
		baseDelay:   DefaultBaseDelay,
		exponential: DefaultExponentialBackoff,
		timeout:     DefaultTimeout,
		headers:     make(http.Header),
	}
}

// WithMaxRetries sets how many retries follow the first attempt
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithBaseDelay sets the delay before the first retry
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.baseDelay = d
		}
	}
}

// WithExponentialBackoff doubles the delay on every retry when enabled
func WithExponentialBackoff(enabled bool) Option {
	return func(o *options) {
		o.exponential = enabled
	}
}

// WithTimeout sets the hard timeout of each attempt
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithIdempotencyKey overrides the derived idempotency key
func WithIdempotencyKey(key string) Option {
	return func(o *options) {
		o.idempotencyKey = key
	}
}

// WithEventID sets the logical event id the idempotency key is derived from
func WithEventID(id string) Option {
	return func(o *options) {
		o.eventID = id
	}
}

// WithHeader adds an extra request header
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.headers.Set(key, value)
	}
}

// WithBearerToken sets the Authorization header
func WithBearerToken(token string) Option {
	return func(o *options) {
		o.bearerToken = token
	}
}

// WithSource sets the X-Webhook-Source header
func WithSource(source string) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithSigningSecret signs the body into X-Hub-Signature-256
func WithSigningSecret(secret string) Option {
	return func(o *options) {
		o.signingSecret = []byte(secret)
	}
}

// WithInstanceLabel tags recorded attempts with the WhatsApp instance
func WithInstanceLabel(label string) Option {
	return func(o *options) {
		o.instanceLabel = label
	}
}

// WithCompletion registers a hook called once a background send finishes
func WithCompletion(fn func(Response, error)) Option {
	return func(o *options) {
		o.completion = fn
	}
}

// WithSleeper replaces how backoff delays are waited
func WithSleeper(s Sleeper) Option {
	return func(o *options) {
		o.sleep = s
	}
}

// Backoff returns the delay before attempt (attempt >= 1)
func Backoff(base time.Duration, attempt int, exponential bool) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if !exponential {
		return base
	}

	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return base * time.Duration(1<<shift)
}
