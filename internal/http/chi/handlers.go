package chi

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/alert"
	"github.com/marcelsud/webhook-guard/dispatch"
	"github.com/marcelsud/webhook-guard/internal/logger"
	"github.com/marcelsud/webhook-guard/loopguard"
	"github.com/marcelsud/webhook-guard/monitor"
	"github.com/marcelsud/webhook-guard/ratelimit"
	"github.com/marcelsud/webhook-guard/realtime"
	"github.com/marcelsud/webhook-guard/routes"
	"github.com/marcelsud/webhook-guard/usage"
	"github.com/marcelsud/webhook-guard/webhook"
	"github.com/rs/zerolog"
)

/* Narrow views of the components, satisfied by
 * loopguard.Guard, dispatch.Dispatcher, monitor.Monitor, alert.Engine,
 * realtime.Manager and ratelimit.Limiter
 */

type Admitter interface {
	Admit(ctx context.Context, in loopguard.Input, header http.Header) loopguard.Admission
}

type Forwarder interface {
	Go(url string, payload any, opts ...dispatch.Option) bool
}

type Monitor interface {
	Record(webhook.Attempt)
	Stats(window time.Duration) monitor.Stats
}

type AlertStore interface {
	Evaluate(ctx context.Context) []alert.Alert
	Alerts() []alert.Alert
	Unacknowledged() []alert.Alert
	Acknowledge(id string) error
	AcknowledgeAll() int
	Clear()
}

type Subscriptions interface {
	Subscribe(key string, spec realtime.Spec) func()
	Stats() realtime.Stats
}

type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// Deps holds everything the handlers need. Metrics may be nil.
type Deps struct {
	Logger          zerolog.Logger
	Clock           clockwork.Clock
	Guard           Admitter
	Forwarder       Forwarder
	Monitor         Monitor
	Alerts          AlertStore
	Subscriptions   Subscriptions
	Usage           usage.UseCase
	CallbackLimiter Limiter
	Routes          *routes.Loader
	Metrics         http.Handler

	Log            logger.Options
	RequestTimeout time.Duration

	HubVerifyToken string
	HubAppSecrets  []string // any of them may sign inbound bodies
	CallbackSecret string   // bearer token required on callbacks when set

	RealtimeToken     string   // required on /v1/realtime when set
	RealtimeResources []string // tables clients may stream
	RealtimeOrigins   []string // accepted websocket origins, empty means same origin
}

// Handlers sets up the service routes
func Handlers(ctx context.Context, deps Deps) *chi.Mux {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}

	requestLogger := httplog.NewLogger("webhook-guard", logger.HTTPOptions(deps.Log))

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		// long-lived websocket, no request timeout
		r.Method(http.MethodGet, "/realtime", getRealtime(ctx, deps))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(deps.RequestTimeout))

			r.Method(http.MethodGet, "/webhooks/inbound", getHubVerification(deps.HubVerifyToken))
			r.Method(http.MethodPost, "/webhooks/inbound", postInbound(deps))
			r.Method(http.MethodGet, "/webhooks/stats", getStats(deps.Monitor))

			r.Method(http.MethodPost, "/callbacks/messages", postCallback(deps))
			r.Method(http.MethodGet, "/instances/{id}/stats", getInstanceStats(deps.Usage))

			r.Method(http.MethodGet, "/alerts", getAlerts(deps.Alerts))
			r.Method(http.MethodPost, "/alerts/ack", ackAllAlerts(deps.Alerts))
			r.Method(http.MethodPost, "/alerts/{id}/ack", ackAlert(deps.Alerts))
			r.Method(http.MethodDelete, "/alerts", clearAlerts(deps.Alerts))

			r.Method(http.MethodGet, "/realtime/stats", getRealtimeStats(deps.Subscriptions))
			r.Method(http.MethodGet, "/routes", getRoutes(deps.Routes))
		})
	})

	return r
}

// errorResponse is the JSON error envelope
type errorResponse struct {
	Error        string   `json:"error"`
	Reason       string   `json:"reason,omitempty"`
	AttemptCount int      `json:"attempt_count,omitempty"`
	Missing      []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// setRetryAfter writes the hint in whole seconds, at least 1
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
