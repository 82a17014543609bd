package routes_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/marcelsud/webhook-guard/dispatch"
	"github.com/marcelsud/webhook-guard/routes"
	"github.com/marcelsud/webhook-guard/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRoutes = `
routes:
  - route_id: "inbound"
    target_url: "https://n8n.example.com/webhook/inbound"
    max_retries: 3
    base_delay: "500ms"
    exponential: true
    timeout: "4s"
    source: "webhook-guard"
    bearer_token: "n8n-token"
    event_types: ["message.*"]
  - route_id: "usage"
    target_url: "https://n8n.example.com/webhook/usage"
`

func TestLoader_Load(t *testing.T) {
	t.Run("success - valid routes file", func(t *testing.T) {
		tmpFile, err := os.CreateTemp("", "routes-*.yaml")
		require.NoError(t, err)
		defer os.Remove(tmpFile.Name())

		_, err = tmpFile.WriteString(validRoutes)
		require.NoError(t, err)
		tmpFile.Close()

		loader := routes.NewLoader()
		require.NoError(t, loader.Load(tmpFile.Name()))

		inbound, err := loader.Get(routes.Inbound)
		require.NoError(t, err)
		require.NotNil(t, inbound.MaxRetries)
		assert.Equal(t, 3, *inbound.MaxRetries)
		assert.Equal(t, 500*time.Millisecond, inbound.BaseDelay)
		assert.Equal(t, 4*time.Second, inbound.Timeout)
		require.NotNil(t, inbound.Exponential)
		assert.True(t, *inbound.Exponential)

		usage, err := loader.Get(routes.Usage)
		require.NoError(t, err)
		assert.Nil(t, usage.MaxRetries)
		assert.Zero(t, usage.Timeout)
		assert.Nil(t, usage.Exponential)
		assert.True(t, usage.ExponentialBackoff())

		list := loader.List()
		require.Len(t, list, 2)
		assert.Equal(t, "inbound", list[0].RouteID)
		assert.Equal(t, "usage", list[1].RouteID)
	})

	t.Run("error - missing file", func(t *testing.T) {
		err := routes.NewLoader().Load("/nonexistent/routes.yaml")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading routes file")
	})

	t.Run("error - invalid yaml", func(t *testing.T) {
		err := routes.NewLoader().Parse([]byte("routes: [unclosed"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing routes YAML")
	})

	t.Run("error - duplicate route id", func(t *testing.T) {
		err := routes.NewLoader().Parse([]byte(`
routes:
  - route_id: "a"
    target_url: "https://x.example.com"
  - route_id: "a"
    target_url: "https://y.example.com"
`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate route_id")
	})

	t.Run("error - bad duration keeps nothing", func(t *testing.T) {
		loader := routes.NewLoader()
		err := loader.Parse([]byte(`
routes:
  - route_id: "ok"
    target_url: "https://x.example.com"
  - route_id: "bad"
    target_url: "https://y.example.com"
    timeout: "soon"
`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing timeout")
		assert.False(t, loader.Exists("ok"))
	})
}

func TestLoader_Get(t *testing.T) {
	loader := routes.NewLoader()
	require.NoError(t, loader.Parse([]byte(validRoutes)))

	t.Run("error - unknown route", func(t *testing.T) {
		_, err := loader.Get("missing")

		assert.ErrorIs(t, err, routes.ErrNotFound)
	})
}

func TestRoute_Validate(t *testing.T) {
	retries := -1

	tests := []struct {
		name    string
		route   routes.Route
		wantErr string
	}{
		{"error - empty id", routes.Route{TargetURL: "https://x.example.com"}, "route_id cannot be empty"},
		{"error - empty url", routes.Route{RouteID: "a"}, "target_url cannot be empty"},
		{"error - relative url", routes.Route{RouteID: "a", TargetURL: "/hook"}, "absolute http(s) URL"},
		{"error - negative retries", routes.Route{RouteID: "a", TargetURL: "https://x.example.com", MaxRetries: &retries}, "max_retries cannot be negative"},
		{"error - short secret", routes.Route{RouteID: "a", TargetURL: "https://x.example.com", SigningSecret: "abc"}, "signing_secret"},
		{"error - bad event type", routes.Route{RouteID: "a", TargetURL: "https://x.example.com", EventTypes: []string{"bad type"}}, "invalid event_type"},
		{"success - minimal", routes.Route{RouteID: "a", TargetURL: "http://localhost:5678/webhook"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.route.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRoute_Accepts(t *testing.T) {
	r := routes.Route{EventTypes: []string{"message.*", "usage.recorded"}}

	assert.True(t, r.Accepts("message.received"))
	assert.True(t, r.Accepts("usage.recorded"))
	assert.False(t, r.Accepts("usage.deleted"))
	assert.False(t, r.Accepts("messages"))
	assert.True(t, (&routes.Route{}).Accepts("anything"))
}

func TestRoute_DispatchOptions(t *testing.T) {
	t.Run("success - route headers reach the destination", func(t *testing.T) {
		secret, err := signature.GenerateSecret(signature.MinSecretBytes)
		require.NoError(t, err)

		var got http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Clone()
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		route := routes.Route{
			RouteID:       "inbound",
			TargetURL:     srv.URL,
			Source:        "webhook-guard",
			BearerToken:   "n8n-token",
			SigningSecret: secret,
		}
		require.NoError(t, route.Validate())

		d := dispatch.New(dispatch.Config{})
		res, err := d.Send(context.Background(), route.TargetURL, map[string]string{"a": "b"}, route.DispatchOptions()...)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, "Bearer n8n-token", got.Get("Authorization"))
		assert.Equal(t, "webhook-guard", got.Get("X-Webhook-Source"))
		assert.NotEmpty(t, got.Get(signature.HeaderName))
	})

	t.Run("success - exponential false keeps the delay fixed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		loader := routes.NewLoader()
		require.NoError(t, loader.Parse([]byte(`
routes:
  - route_id: "inbound"
    target_url: "`+srv.URL+`"
    max_retries: 3
    base_delay: "10ms"
    exponential: false
`)))
		route, err := loader.Get(routes.Inbound)
		require.NoError(t, err)
		require.NotNil(t, route.Exponential)
		assert.False(t, route.ExponentialBackoff())

		var delays []time.Duration
		sleep := func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}

		d := dispatch.New(dispatch.Config{})
		_, err = d.Send(context.Background(), route.TargetURL, map[string]string{"a": "b"},
			append(route.DispatchOptions(), dispatch.WithSleeper(sleep))...)

		require.Error(t, err)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}, delays)
	})

	t.Run("success - zero route adds nothing", func(t *testing.T) {
		assert.Empty(t, (&routes.Route{}).DispatchOptions())
	})
}
