package chi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marcelsud/webhook-guard/realtime"
)

const (
	realtimeBuffer     = 64
	realtimeWriteWait  = 10 * time.Second
	realtimePingPeriod = 30 * time.Second
)

// newUpgrader accepts the listed origins; none listed keeps the same-origin check
func newUpgrader(origins []string) websocket.Upgrader {
	u := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(origins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		}
	}
	return u
}

// getRealtime handles GET /v1/realtime?resource=&filter=&event=
// Every client asking for the same key shares one upstream channel.
// Browsers cannot set headers on websockets, so the token may come as access_token.
func getRealtime(ctx context.Context, deps Deps) http.Handler {
	upgrader := newUpgrader(deps.RealtimeOrigins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if deps.RealtimeToken != "" && !validBearer(r, deps.RealtimeToken) &&
			subtle.ConstantTimeCompare([]byte(q.Get("access_token")), []byte(deps.RealtimeToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		resource := q.Get("resource")
		if resource == "" {
			http.Error(w, "resource is required", http.StatusBadRequest)
			return
		}
		if !slices.Contains(deps.RealtimeResources, resource) {
			http.Error(w, "resource not allowed", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		changes := make(chan realtime.Change, realtimeBuffer)
		spec := realtime.Spec{
			Resource: resource,
			Filter:   q.Get("filter"),
			Event:    q.Get("event"),
			Callback: func(c realtime.Change) {
				select {
				case changes <- c:
				default:
					deps.Logger.Warn().Str("resource", resource).Msg("realtime client too slow, dropping change")
				}
			},
		}
		key := realtime.KeyFor(spec)
		unsubscribe := deps.Subscriptions.Subscribe(key, spec)
		defer unsubscribe()

		// reader: only control frames and close are expected
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := deps.Clock.NewTicker(realtimePingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(realtimeWriteWait))
				return
			case <-closed:
				return
			case c := <-changes:
				conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
				if err := conn.WriteJSON(c); err != nil {
					deps.Logger.Debug().Err(err).Str("key", key).Msg("realtime client write failed")
					return
				}
			case <-ping.Chan():
				conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
