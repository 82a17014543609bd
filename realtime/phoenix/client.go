package phoenix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marcelsud/webhook-guard/realtime"
	"github.com/rs/zerolog"
)

const (
	DefaultHeartbeat   = 30 * time.Second
	DefaultJoinTimeout = 10 * time.Second
	minBackoff         = time.Second
	maxBackoff         = 30 * time.Second
	defaultSchema      = "public"
)

// ErrClosed is returned by Open after Close
var ErrClosed = errors.New("realtime client closed")

/* Client is a realtime.Provider speaking the Phoenix channels protocol.
 * All channels share one websocket; the socket reconnects with exponential
 * backoff and re-joins every live topic.
 */
type Client struct {
	endpoint    string
	apiKey      string
	dialer      *websocket.Dialer
	logger      zerolog.Logger
	heartbeat   time.Duration
	joinTimeout time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]*channel

	writeMu sync.Mutex
	ref     atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
	started   atomic.Bool
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHeartbeat sets the heartbeat interval
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) {
		c.heartbeat = d
	}
}

// WithJoinTimeout bounds how long Open waits for the join reply
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.joinTimeout = d
	}
}

// WithBackoff sets the reconnect backoff bounds
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = initial
		c.maxBackoff = ceiling
	}
}

// New creates a Client for a realtime websocket endpoint, e.g.
// wss://<project>.supabase.co/realtime/v1/websocket
func New(endpoint, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("realtime url must use ws or wss, got %q", u.Scheme)
	}
	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(context.Background())
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	c := &Client{
		endpoint:    u.String(),
		apiKey:      apiKey,
		dialer:      &dialer,
		logger:      zerolog.Nop(),
		heartbeat:   DefaultHeartbeat,
		joinTimeout: DefaultJoinTimeout,
		minBackoff:  minBackoff,
		maxBackoff:  maxBackoff,
		topics:      make(map[string]*channel),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Open joins a topic for spec and waits for the join reply
func (c *Client) Open(ctx context.Context, spec realtime.ChannelSpec, deliver func(realtime.Change)) (realtime.Channel, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}

	ch := &channel{
		client:  c,
		topic:   topicPrefix + spec.Key,
		spec:    spec,
		deliver: deliver,
		joined:  make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.topics[ch.topic]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("topic %s already joined", ch.topic)
	}
	c.topics[ch.topic] = ch
	conn := c.conn
	c.mu.Unlock()

	c.start()
	if conn != nil {
		if err := c.join(conn, ch); err != nil {
			c.logger.Warn().Err(err).Str("topic", ch.topic).Msg("sending join, will retry on reconnect")
		}
	}

	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()

	select {
	case <-ch.joined:
		return ch, nil
	case <-ctx.Done():
		c.unregister(ch)
		return nil, fmt.Errorf("joining %s: %w", ch.topic, ctx.Err())
	case <-c.ctx.Done():
		c.unregister(ch)
		return nil, ErrClosed
	case <-timer.C:
		c.unregister(ch)
		return nil, fmt.Errorf("joining %s: timed out after %s", ch.topic, c.joinTimeout)
	}
}

// Close stops the socket loop. Open channels stop receiving changes.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	if c.started.Load() {
		<-c.done
	}
	return nil
}

// Topics returns the number of joined topics
func (c *Client) Topics() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

func (c *Client) start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run()
	})
}

// run keeps the socket connected until Close
func (c *Client) run() {
	defer close(c.done)

	backoff := c.minBackoff
	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(c.ctx, c.endpoint, nil)
		if err != nil {
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("realtime connect failed")
			if !c.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff

		c.mu.Lock()
		c.conn = conn
		live := make([]*channel, 0, len(c.topics))
		for _, ch := range c.topics {
			live = append(live, ch)
		}
		c.mu.Unlock()

		c.logger.Info().Int("topics", len(live)).Msg("realtime socket connected")
		for _, ch := range live {
			if err := c.join(conn, ch); err != nil {
				c.logger.Warn().Err(err).Str("topic", ch.topic).Msg("re-joining topic")
			}
		}

		stopHeartbeat := make(chan struct{})
		go c.heartbeatLoop(conn, stopHeartbeat)

		c.readLoop(conn)

		close(stopHeartbeat)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn().Dur("backoff", backoff).Msg("realtime socket lost, reconnecting")
		if !c.sleep(backoff) {
			return
		}
	}
}

func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("realtime read error")
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("invalid realtime frame")
			continue
		}
		c.route(msg)
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(conn, heartbeatTopic, eventHeartbeat, struct{}{}); err != nil {
				c.logger.Warn().Err(err).Msg("sending realtime heartbeat")
				return
			}
		}
	}
}

func (c *Client) route(msg message) {
	c.mu.Lock()
	ch := c.topics[msg.Topic]
	c.mu.Unlock()
	if ch == nil {
		return
	}

	switch msg.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			c.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("invalid realtime reply")
			return
		}
		if msg.Ref == nil || *msg.Ref != ch.joinRef() {
			return
		}
		if reply.Status != "ok" {
			c.logger.Error().Str("topic", msg.Topic).RawJSON("response", orNull(reply.Response)).Msg("realtime join refused")
			return
		}
		ch.markJoined()
	case eventChanges:
		var payload changesPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("invalid realtime change")
			return
		}
		ch.deliver(realtime.Change{
			Resource:        payload.Data.Table,
			Schema:          payload.Data.Schema,
			Event:           payload.Data.Type,
			Record:          payload.Data.Record,
			OldRecord:       payload.Data.OldRecord,
			CommitTimestamp: payload.Data.CommitTimestamp,
		})
	case eventError, eventClose:
		c.logger.Warn().Str("topic", msg.Topic).Str("event", msg.Event).Msg("realtime channel interrupted")
	}
}

func (c *Client) join(conn *websocket.Conn, ch *channel) error {
	event := ch.spec.Event
	if event == "" {
		event = "*"
	}
	payload := joinPayload{
		Config: joinConfig{
			PostgresChanges: []postgresChange{{
				Event:  event,
				Schema: defaultSchema,
				Table:  ch.spec.Resource,
				Filter: ch.spec.Filter,
			}},
		},
		AccessToken: c.apiKey,
	}

	ref := c.nextRef()
	ch.setJoinRef(ref)
	return c.sendRef(conn, ch.topic, eventJoin, payload, ref)
}

func (c *Client) unregister(ch *channel) {
	c.mu.Lock()
	if c.topics[ch.topic] == ch {
		delete(c.topics, ch.topic)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.send(conn, ch.topic, eventLeave, struct{}{}); err != nil {
			c.logger.Debug().Err(err).Str("topic", ch.topic).Msg("sending leave")
		}
	}
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Client) send(conn *websocket.Conn, topic, event string, payload any) error {
	return c.sendRef(conn, topic, event, payload, c.nextRef())
}

func (c *Client) sendRef(conn *websocket.Conn, topic, event string, payload any, ref string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	data, err := json.Marshal(message{Topic: topic, Event: event, Payload: body, Ref: &ref})
	if err != nil {
		return fmt.Errorf("marshaling %s frame: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	return nil
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

// channel is one joined topic
type channel struct {
	client  *Client
	topic   string
	spec    realtime.ChannelSpec
	deliver func(realtime.Change)

	mu       sync.Mutex
	ref      string
	joined   chan struct{}
	joinOnce sync.Once
	closed   atomic.Bool
}

func (ch *channel) setJoinRef(ref string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.ref = ref
}

func (ch *channel) joinRef() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.ref
}

func (ch *channel) markJoined() {
	ch.joinOnce.Do(func() { close(ch.joined) })
}

// Close leaves the topic
func (ch *channel) Close() error {
	if !ch.closed.CompareAndSwap(false, true) {
		return nil
	}
	ch.client.unregister(ch)
	return nil
}
