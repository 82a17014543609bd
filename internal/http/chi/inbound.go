package chi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/dispatch"
	"github.com/marcelsud/webhook-guard/loopguard"
	"github.com/marcelsud/webhook-guard/routes"
	"github.com/marcelsud/webhook-guard/webhook"
	"github.com/marcelsud/webhook-guard/webhook/payload"
	"github.com/marcelsud/webhook-guard/webhook/signature"
)

const maxInboundBytes = 1 << 20

// forwardedMessage is the data of a message.received event
type forwardedMessage struct {
	Source       string          `json:"source"`
	Event        string          `json:"event"`
	Message      payload.Message `json:"message"`
	AttemptCount int             `json:"attempt_count"`
	Throttled    bool            `json:"throttled,omitempty"`
}

// getHubVerification handles GET /v1/webhooks/inbound
func getHubVerification(verifyToken string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		token := q.Get("hub.verify_token")
		if verifyToken == "" ||
			q.Get("hub.mode") != "subscribe" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
			http.Error(w, "verification failed", http.StatusForbidden)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
	})
}

// postInbound handles POST /v1/webhooks/inbound
func postInbound(deps Deps) http.Handler {
	secrets := make([][]byte, 0, len(deps.HubAppSecrets))
	for _, s := range deps.HubAppSecrets {
		secrets = append(secrets, []byte(s))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := deps.Clock.Now()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboundBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if header := r.Header.Get(signature.HeaderName); header != "" && len(secrets) > 0 {
			ok, err := signature.VerifyMultiple(secrets, body, header)
			if err != nil || !ok {
				deps.Logger.Warn().Err(err).Msg("inbound signature mismatch")
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		in, err := payload.ParseInbound(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !in.IsMessage() {
			writeOK(w)
			return
		}

		for _, msg := range in.Messages {
			if msg.FromMe {
				continue
			}

			adm := deps.Guard.Admit(r.Context(), loopguard.Input{
				MessageID:      msg.MessageID,
				ConversationID: msg.ConversationID,
				InstanceLabel:  msg.Instance,
			}, r.Header)

			elapsed := deps.Clock.Since(start)
			if adm.Decision == loopguard.Reject {
				recordInbound(deps, msg, adm, elapsed, http.StatusTooManyRequests)
				setRetryAfter(w, adm.RetryAfter)
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:        "webhook rejected",
					Reason:       adm.Reason,
					AttemptCount: adm.AttemptCount,
				})
				return
			}

			if adm.Decision == loopguard.Throttle {
				if err := wait(r.Context(), deps.Clock, adm.Delay); err != nil {
					return
				}
			}

			recordInbound(deps, msg, adm, elapsed, http.StatusOK)
			forwardInbound(deps, in, msg, adm)
		}

		writeOK(w)
	})
}

func forwardInbound(deps Deps, in payload.Inbound, msg payload.Message, adm loopguard.Admission) {
	route, err := deps.Routes.Get(routes.Inbound)
	if err != nil {
		deps.Logger.Debug().Str("instance", msg.Instance).Msg("no inbound route, message not forwarded")
		return
	}
	if !route.Accepts(payload.TypeMessageReceived) {
		return
	}

	event, err := payload.NewEvent(adm.Fingerprint, payload.TypeMessageReceived, deps.Clock.Now(), forwardedMessage{
		Source:       in.Source.String(),
		Event:        in.Event,
		Message:      msg,
		AttemptCount: adm.AttemptCount,
		Throttled:    adm.Decision == loopguard.Throttle,
	})
	if err != nil {
		deps.Logger.Error().Err(err).Msg("building inbound event")
		return
	}

	opts := append(route.DispatchOptions(),
		dispatch.WithEventID(adm.Fingerprint),
		dispatch.WithInstanceLabel(msg.Instance),
	)
	deps.Forwarder.Go(route.TargetURL, event, opts...)
}

// recordInbound logs the admission decision; elapsed excludes any throttle wait
func recordInbound(deps Deps, msg payload.Message, adm loopguard.Admission, elapsed time.Duration, status int) {
	a := webhook.Attempt{
		SendID:        adm.Fingerprint,
		Timestamp:     deps.Clock.Now(),
		Direction:     webhook.Inbound,
		Success:       adm.Decision != loopguard.Reject,
		HTTPStatus:    status,
		Duration:      elapsed,
		RetryIndex:    max(adm.AttemptCount-1, 0),
		Final:         true,
		InstanceLabel: msg.Instance,
	}
	if !a.Success {
		a.ErrorKind = webhook.LoopDetected
	}
	deps.Monitor.Record(a)
}

// wait blocks for d or until ctx is done
func wait(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
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

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
