package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/webhook"
	"github.com/marcelsud/webhook-guard/webhook/signature"
	"github.com/rs/zerolog"
)

const (
	// maxResponseBytes caps how much of a response body is kept
	maxResponseBytes = 1 << 20

	// maxMessageBytes caps the response excerpt carried by a DeliveryError
	maxMessageBytes = 256

	// DefaultWorkers bounds concurrent background sends
	DefaultWorkers = 32
)

// Recorder receives every attempt
type Recorder interface {
	Record(webhook.Attempt)
}

// Response is the successful outcome of a logical send
type Response struct {
	StatusCode     int
	Header         http.Header
	Body           []byte
	Attempts       int
	IdempotencyKey string
	Duration       time.Duration
}

// Config configures a Dispatcher
type Config struct {
	Client        *http.Client
	Recorder      Recorder
	Logger        zerolog.Logger
	Clock         clockwork.Clock
	Workers       int
	RatePerSecond float64 // per destination host, 0 disables pacing
	Burst         int
	Defaults      []Option // applied before the options of each send
}

/* Dispatcher posts JSON events with a hard per-attempt timeout,
 * retry with backoff and an idempotency key shared by all attempts of one send.
 * Attempts of one send are strictly sequential.
 */
type Dispatcher struct {
	client   *http.Client
	recorder Recorder
	logger   zerolog.Logger
	clock    clockwork.Clock
	pacer    *pacer
	defaults []Option

	background *background
}

// New creates a Dispatcher
func New(cfg Config) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	d := &Dispatcher{
		client:   cfg.Client,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		pacer:    newPacer(cfg.RatePerSecond, cfg.Burst),
		defaults: cfg.Defaults,
	}
	d.background = newBackground(cfg.Workers)

	return d
}

// Send delivers payload to url. payload is sent as is when it is []byte or
// json.RawMessage and JSON encoded otherwise. Delivery failures are returned
// as *webhook.DeliveryError.
func (d *Dispatcher) Send(ctx context.Context, url string, payload any, opts ...Option) (Response, error) {
	o := d.resolve(opts)

	body, err := encode(payload)
	if err != nil {
		return Response{}, &webhook.DeliveryError{Kind: webhook.ClientError, Message: "encoding payload", Err: err}
	}

	key := resolveKey(url, o)
	sendID := uuid.NewString()
	start := d.clock.Now()

	var last attemptResult
	attempts := 0
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, Backoff(o.baseDelay, attempt, o.exponential)); err != nil {
				return Response{}, d.canceled(attempts, key, err)
			}
		}

		if err := d.pacer.wait(ctx, url); err != nil {
			return Response{}, d.canceled(attempts, key, err)
		}

		last = d.attempt(ctx, url, body, key, o)
		attempts++

		final := last.kind == webhook.NoError || !last.kind.Retryable() || attempt == o.maxRetries
		d.record(webhook.Attempt{
			SendID:        sendID,
			Timestamp:     last.startedAt,
			Direction:     webhook.Outbound,
			Success:       last.kind == webhook.NoError,
			HTTPStatus:    last.status,
			Duration:      last.duration,
			ErrorKind:     last.kind,
			RetryIndex:    attempt,
			Final:         final,
			InstanceLabel: o.instanceLabel,
		})

		if last.kind == webhook.NoError {
			return Response{
				StatusCode:     last.status,
				Header:         last.header,
				Body:           last.body,
				Attempts:       attempts,
				IdempotencyKey: key,
				Duration:       d.clock.Since(start),
			}, nil
		}

		d.logger.Debug().
			Str("url", url).
			Int("retry_index", attempt).
			Int("status", last.status).
			Str("error_kind", last.kind.String()).
			Msg("webhook attempt failed")

		if final {
			break
		}
	}

	return Response{}, &webhook.DeliveryError{
		Kind:           last.kind,
		StatusCode:     last.status,
		Message:        last.message,
		Attempts:       attempts,
		IdempotencyKey: key,
		Err:            last.err,
	}
}

func (d *Dispatcher) resolve(opts []Option) options {
	o := defaultOptions()
	for _, opt := range d.defaults {
		opt(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sleep == nil {
		o.sleep = clockSleeper(d.clock)
	}
	return o
}

func (d *Dispatcher) record(a webhook.Attempt) {
	if d.recorder != nil {
		d.recorder.Record(a)
	}
}

func (d *Dispatcher) canceled(attempts int, key string, err error) *webhook.DeliveryError {
	return &webhook.DeliveryError{
		Kind:           webhook.Canceled,
		Message:        "send canceled",
		Attempts:       attempts,
		IdempotencyKey: key,
		Err:            err,
	}
}

type attemptResult struct {
	startedAt time.Time
	duration  time.Duration
	status    int
	header    http.Header
	body      []byte
	kind      webhook.ErrorKind
	message   string
	err       error
}

// attempt performs one HTTP call bounded by the per-attempt timeout
func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte, key string, o options) (res attemptResult) {
	res.startedAt = d.clock.Now()
	defer func() {
		res.duration = d.clock.Since(res.startedAt)
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		res.kind = webhook.ClientError
		res.message = "building request"
		res.err = err
		return res
	}
	setHeaders(req, body, key, o)

	resp, err := d.client.Do(req)
	if err != nil {
		res.kind = classifyTransportError(ctx, err)
		res.message = err.Error()
		res.err = err
		return res
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	res.status = resp.StatusCode
	res.header = resp.Header
	res.body = data
	res.kind = webhook.ClassifyStatus(resp.StatusCode)
	if res.kind != webhook.NoError {
		res.message = excerpt(resp.StatusCode, data)
	} else if readErr != nil {
		d.logger.Warn().Err(readErr).Str("url", url).Msg("reading webhook response body")
	}

	return res
}

func setHeaders(req *http.Request, body []byte, key string, o options) {
	for k, values := range o.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", key)
	if o.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+o.bearerToken)
	}
	if o.source != "" {
		req.Header.Set("X-Webhook-Source", o.source)
	}
	if len(o.signingSecret) > 0 {
		req.Header.Set(signature.HeaderName, signature.Sign(o.signingSecret, body).String())
	}
}

// classifyTransportError tells a caller cancellation from a timeout or a network failure
func classifyTransportError(parent context.Context, err error) webhook.ErrorKind {
	if errors.Is(parent.Err(), context.Canceled) {
		return webhook.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return webhook.TimeoutError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return webhook.TimeoutError
	}
	return webhook.NetworkError
}

func excerpt(status int, body []byte) string {
	msg := http.StatusText(status)
	if len(body) == 0 {
		return msg
	}
	if len(body) > maxMessageBytes {
		body = body[:maxMessageBytes]
	}
	return fmt.Sprintf("%s: %s", msg, bytes.TrimSpace(body))
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case nil:
		return []byte("null"), nil
	default:
		return json.Marshal(p)
	}
}

func clockSleeper(clock clockwork.Clock) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		timer := clock.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			return nil
		}
	}
}
