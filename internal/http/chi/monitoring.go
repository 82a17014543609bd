package chi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-guard/alert"
	"github.com/marcelsud/webhook-guard/routes"
)

const defaultStatsWindow = 15 * time.Minute

// routeResponse represents a route in the API, secrets omitted
type routeResponse struct {
	RouteID     string   `json:"route_id"`
	TargetURL   string   `json:"target_url"`
	MaxRetries  *int     `json:"max_retries,omitempty"`
	BaseDelayMs int64    `json:"base_delay_ms,omitempty"`
	Exponential bool     `json:"exponential"`
	TimeoutMs   int64    `json:"timeout_ms,omitempty"`
	Source      string   `json:"source,omitempty"`
	Signed      bool     `json:"signed"`
	EventTypes  []string `json:"event_types,omitempty"`
}

type alertsResponse struct {
	Alerts []alert.Alert `json:"alerts"`
	Raised int           `json:"raised"`
}

// getStats handles GET /v1/webhooks/stats?window=15m
func getStats(m Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		window := defaultStatsWindow
		if raw := r.URL.Query().Get("window"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d < 0 {
				http.Error(w, "invalid window", http.StatusBadRequest)
				return
			}
			window = d
		}
		writeJSON(w, http.StatusOK, m.Stats(window))
	})
}

// getAlerts handles GET /v1/alerts, evaluating before listing
func getAlerts(store AlertStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raised := store.Evaluate(r.Context())

		list := store.Alerts()
		if r.URL.Query().Get("unacknowledged") == "true" {
			list = store.Unacknowledged()
		}
		if list == nil {
			list = []alert.Alert{}
		}
		writeJSON(w, http.StatusOK, alertsResponse{Alerts: list, Raised: len(raised)})
	})
}

// ackAlert handles POST /v1/alerts/{id}/ack
func ackAlert(store AlertStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Acknowledge(id); err != nil {
			if errors.Is(err, alert.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "alert not found"})
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"acknowledged": id})
	})
}

// ackAllAlerts handles POST /v1/alerts/ack
func ackAllAlerts(store AlertStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"acknowledged": store.AcknowledgeAll()})
	})
}

// clearAlerts handles DELETE /v1/alerts
func clearAlerts(store AlertStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store.Clear()
		w.WriteHeader(http.StatusNoContent)
	})
}

// getRealtimeStats handles GET /v1/realtime/stats
func getRealtimeStats(subs Subscriptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, subs.Stats())
	})
}

// getRoutes handles GET /v1/routes
func getRoutes(routeLoader *routes.Loader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allRoutes := routeLoader.List()

		responses := make([]routeResponse, 0, len(allRoutes))
		for _, route := range allRoutes {
			responses = append(responses, routeResponse{
				RouteID:     route.RouteID,
				TargetURL:   route.TargetURL,
				MaxRetries:  route.MaxRetries,
				BaseDelayMs: route.BaseDelay.Milliseconds(),
				Exponential: route.ExponentialBackoff(),
				TimeoutMs:   route.Timeout.Milliseconds(),
				Source:      route.Source,
				Signed:      route.SigningSecret != "",
				EventTypes:  route.EventTypes,
			})
		}

		writeJSON(w, http.StatusOK, responses)
	})
}
