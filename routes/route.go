package routes

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/marcelsud/webhook-guard/dispatch"
	"github.com/marcelsud/webhook-guard/webhook/payload"
	"github.com/marcelsud/webhook-guard/webhook/signature"
)

// Well-known route ids
const (
	Inbound = "inbound" // accepted inbound messages are forwarded here
	Usage   = "usage"   // recorded callback stats are replicated here
)

/* Route represents a webhook destination (usually an N8N webhook node)
 * Zero values fall back to the dispatcher defaults
 */
type Route struct {
	RouteID       string
	TargetURL     string
	MaxRetries    *int
	BaseDelay     time.Duration
	Exponential   *bool // nil keeps the dispatcher default
	Timeout       time.Duration
	Source        string   // sent as X-Webhook-Source
	BearerToken   string   // sent as Authorization: Bearer
	SigningSecret string   // hex secret, signs the body into X-Hub-Signature-256
	EventTypes    []string // event types to forward (e.g. ["message.received", "usage.*"]); empty forwards all
}

// Validate checks if the route configuration is valid
func (r *Route) Validate() error {
	if r.RouteID == "" {
		return fmt.Errorf("route_id cannot be empty")
	}
	if r.TargetURL == "" {
		return fmt.Errorf("target_url cannot be empty for route %s", r.RouteID)
	}
	u, err := url.Parse(r.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target_url must be an absolute http(s) URL for route %s", r.RouteID)
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative for route %s", r.RouteID)
	}
	if r.BaseDelay < 0 {
		return fmt.Errorf("base_delay cannot be negative for route %s", r.RouteID)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative for route %s", r.RouteID)
	}
	if r.SigningSecret != "" && len(r.SigningSecret) < 2*signature.MinSecretBytes {
		return fmt.Errorf("signing_secret must be at least %d hex characters for route %s", 2*signature.MinSecretBytes, r.RouteID)
	}
	for _, eventType := range r.EventTypes {
		if err := payload.ValidateEventType(strings.TrimSuffix(eventType, ".*")); err != nil {
			return fmt.Errorf("invalid event_type '%s' for route %s: %w", eventType, r.RouteID, err)
		}
	}
	return nil
}

// Accepts reports whether an event type should be forwarded on this route.
// A trailing ".*" matches every type under that prefix.
func (r *Route) Accepts(eventType string) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, pattern := range r.EventTypes {
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
			continue
		}
		if pattern == eventType {
			return true
		}
	}
	return false
}

// ExponentialBackoff reports whether retries of this route double their delay
func (r *Route) ExponentialBackoff() bool {
	if r.Exponential == nil {
		return dispatch.DefaultExponentialBackoff
	}
	return *r.Exponential
}

// DispatchOptions converts the route settings into dispatcher options
func (r *Route) DispatchOptions() []dispatch.Option {
	var opts []dispatch.Option
	if r.MaxRetries != nil {
		opts = append(opts, dispatch.WithMaxRetries(*r.MaxRetries))
	}
	if r.BaseDelay > 0 {
		opts = append(opts, dispatch.WithBaseDelay(r.BaseDelay))
	}
	if r.Exponential != nil {
		opts = append(opts, dispatch.WithExponentialBackoff(*r.Exponential))
	}
	if r.Timeout > 0 {
		opts = append(opts, dispatch.WithTimeout(r.Timeout))
	}
	if r.Source != "" {
		opts = append(opts, dispatch.WithSource(r.Source))
	}
	if r.BearerToken != "" {
		opts = append(opts, dispatch.WithBearerToken(r.BearerToken))
	}
	if r.SigningSecret != "" {
		opts = append(opts, dispatch.WithSigningSecret(r.SigningSecret))
	}
	return opts
}
