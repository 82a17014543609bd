package chi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-guard/dispatch"
	"github.com/marcelsud/webhook-guard/routes"
	"github.com/marcelsud/webhook-guard/usage"
	"github.com/marcelsud/webhook-guard/webhook/payload"
)

type instanceStatsResponse struct {
	InstanceID string       `json:"instance_id"`
	Total      int64        `json:"total"`
	Stats      []usage.Stat `json:"stats"`
}

// postCallback handles POST /v1/callbacks/messages
func postCallback(deps Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if deps.CallbackSecret != "" && !validBearer(r, deps.CallbackSecret) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var cb usage.Callback
		if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if missing := cb.Missing(); len(missing) > 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields", Missing: missing})
			return
		}

		if deps.CallbackLimiter != nil {
			res, err := deps.CallbackLimiter.Allow(r.Context(), "callback:"+cb.InstanceID)
			if err != nil {
				deps.Logger.Warn().Err(err).Str("instance", cb.InstanceID).Msg("callback rate limiter unavailable, allowing")
			} else if !res.Allowed {
				setRetryAfter(w, res.RetryAfter(deps.Clock.Now()))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
				return
			}
		}

		stat, err := deps.Usage.RecordCallback(r.Context(), cb)
		if err != nil {
			var missing *usage.MissingFieldsError
			switch {
			case errors.As(err, &missing):
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields", Missing: missing.Fields})
			case errors.Is(err, usage.ErrInstanceNotFound):
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "instance not found"})
			default:
				deps.Logger.Error().Err(err).Str("instance", cb.InstanceID).Msg("recording callback")
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		replicateStat(deps, stat)
		writeJSON(w, http.StatusOK, stat)
	})
}

func replicateStat(deps Deps, stat usage.Stat) {
	route, err := deps.Routes.Get(routes.Usage)
	if err != nil || !route.Accepts(payload.TypeUsageRecorded) {
		return
	}

	event, err := payload.NewEvent(stat.ID, payload.TypeUsageRecorded, stat.CreatedAt, stat)
	if err != nil {
		deps.Logger.Error().Err(err).Msg("building usage event")
		return
	}

	opts := append(route.DispatchOptions(),
		dispatch.WithEventID(stat.ID),
		dispatch.WithInstanceLabel(stat.InstanceID),
	)
	deps.Forwarder.Go(route.TargetURL, event, opts...)
}

// getInstanceStats handles GET /v1/instances/{id}/stats?limit=
func getInstanceStats(uc usage.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		stats, total, err := uc.RecentStats(r.Context(), id, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if stats == nil {
			stats = []usage.Stat{}
		}
		writeJSON(w, http.StatusOK, instanceStatsResponse{InstanceID: id, Total: total, Stats: stats})
	})
}

func validBearer(r *http.Request, secret string) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
