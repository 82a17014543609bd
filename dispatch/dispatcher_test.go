package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-guard/monitor"
	"github.com/marcelsud/webhook-guard/webhook"
	"github.com/marcelsud/webhook-guard/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceServer answers with the given statuses in order, repeating the last one
func sequenceServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n > len(statuses) {
			n = len(statuses)
		}
		w.WriteHeader(statuses[n-1])
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

// recordingSleeper returns immediately and keeps the requested delays
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestDispatcher_Send_ServerErrorsThenSuccess(t *testing.T) {
	srv, calls := sequenceServer(t, 500, 500, 200)
	mon := monitor.New(100)
	d := New(Config{Recorder: mon})

	resp, err := d.Send(context.Background(), srv.URL, map[string]string{"event": "x"},
		WithMaxRetries(2), WithSleeper(noSleep))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	stats := mon.Stats(0)
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Equal(t, 2, stats.Errors(webhook.ServerError))

	recent := mon.Recent(3)
	for i, a := range recent {
		assert.Equal(t, i, a.RetryIndex)
		assert.Equal(t, recent[0].SendID, a.SendID)
		assert.Equal(t, webhook.Outbound, a.Direction)
	}
	assert.True(t, recent[2].Final)
	assert.False(t, recent[1].Final)
}

func TestDispatcher_Send_RetryBound(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max retries %d", retries), func(t *testing.T) {
			srv, calls := sequenceServer(t, 503)
			mon := monitor.New(100)
			d := New(Config{Recorder: mon})

			_, err := d.Send(context.Background(), srv.URL, []byte(`{}`),
				WithMaxRetries(retries), WithSleeper(noSleep))

			require.Error(t, err)
			de, ok := webhook.AsDeliveryError(err)
			require.True(t, ok)
			assert.Equal(t, webhook.ServerError, de.Kind)
			assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
			assert.Equal(t, retries+1, de.Attempts)
			assert.Equal(t, int32(retries+1), calls.Load())
			assert.LessOrEqual(t, mon.Stats(0).TotalAttempts, retries+1)
			assert.Equal(t, 0.0, mon.Stats(0).SuccessRate)
		})
	}
}

func TestDispatcher_Send_Backoff(t *testing.T) {
	t.Run("exponential delays double", func(t *testing.T) {
		srv, _ := sequenceServer(t, 500)
		sleeper := &recordingSleeper{}
		d := New(Config{})

		_, err := d.Send(context.Background(), srv.URL, []byte(`{}`),
			WithMaxRetries(3), WithBaseDelay(100*time.Millisecond), WithSleeper(sleeper.Sleep))
		require.Error(t, err)

		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
		}, sleeper.Delays())
	})

	t.Run("fixed delays", func(t *testing.T) {
		srv, _ := sequenceServer(t, 500)
		sleeper := &recordingSleeper{}
		d := New(Config{})

		_, err := d.Send(context.Background(), srv.URL, []byte(`{}`),
			WithMaxRetries(3), WithBaseDelay(100*time.Millisecond),
			WithExponentialBackoff(false), WithSleeper(sleeper.Sleep))
		require.Error(t, err)

		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			100 * time.Millisecond,
			100 * time.Millisecond,
		}, sleeper.Delays())
	})
}

func TestBackoff(t *testing.T) {
	base := 750 * time.Millisecond
	assert.Equal(t, time.Duration(0), Backoff(base, 0, true))
	for k := 1; k <= 6; k++ {
		assert.Equal(t, base*time.Duration(1<<(k-1)), Backoff(base, k, true), "attempt %d", k)
		assert.Equal(t, base, Backoff(base, k, false), "attempt %d", k)
	}
}

func TestDispatcher_Send_Classification(t *testing.T) {
	t.Run("400 is attempted exactly once", func(t *testing.T) {
		srv, calls := sequenceServer(t, 400)
		mon := monitor.New(100)
		d := New(Config{Recorder: mon})

		_, err := d.Send(context.Background(), srv.URL, []byte(`{}`),
			WithMaxRetries(5), WithSleeper(noSleep))

		require.Error(t, err)
		assert.ErrorIs(t, err, webhook.ErrClient)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, mon.Stats(0).TotalAttempts)
	})

	t.Run("404 is terminal", func(t *testing.T) {
		srv, calls := sequenceServer(t, 404)
		d := New(Config{})

		_, err := d.Send(context.Background(), srv.URL, []byte(`{}`), WithSleeper(noSleep))
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("408 and 429 are retried", func(t *testing.T) {
		srv, calls := sequenceServer(t, 408, 429, 204)
		d := New(Config{})

		resp, err := d.Send(context.Background(), srv.URL, []byte(`{}`),
			WithMaxRetries(2), WithSleeper(noSleep))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("timeout is retryable and classified", func(t *testing.T) {
		release := make(chan struct{})
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })

		mon := monitor.New(10)
		d := New(Config{Recorder: mon})

		_, err := d.Send(context.Background(), srv.URL, []byte(`{}`),
			WithTimeout(50*time.Millisecond), WithMaxRetries(1), WithSleeper(noSleep))

		require.Error(t, err)
		assert.ErrorIs(t, err, webhook.ErrTimeout)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, 2, mon.Stats(0).Errors(webhook.TimeoutError))
	})

	t.Run("network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		d := New(Config{})
		_, err := d.Send(context.Background(), url, []byte(`{}`),
			WithMaxRetries(1), WithSleeper(noSleep))

		require.Error(t, err)
		assert.ErrorIs(t, err, webhook.ErrNetwork)
		de, _ := webhook.AsDeliveryError(err)
		assert.Equal(t, 2, de.Attempts)
	})
}

func TestDispatcher_Send_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	mon := monitor.New(10)
	d := New(Config{Recorder: mon})

	done := make(chan error, 1)
	go func() {
		_, err := d.Send(ctx, srv.URL, []byte(`{}`), WithMaxRetries(3), WithBaseDelay(time.Hour))
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, webhook.ErrCanceled)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not stop after cancellation")
	}

	assert.LessOrEqual(t, mon.Stats(0).TotalAttempts, 1)
}

func TestDispatcher_Send_Headers(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := New(Config{Defaults: []Option{WithSource("webhook-guard")}})
	resp, err := d.Send(context.Background(), srv.URL, map[string]string{"a": "b"},
		WithBearerToken("secret-token"),
		WithEventID("evt-1"),
		WithHeader("X-Instance", "inst-1"),
		WithSigningSecret("app-secret"))
	require.NoError(t, err)

	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "Bearer secret-token", got.Get("Authorization"))
	assert.Equal(t, "webhook-guard", got.Get("X-Webhook-Source"))
	assert.Equal(t, "inst-1", got.Get("X-Instance"))
	assert.Equal(t, resp.IdempotencyKey, got.Get("X-Idempotency-Key"))
	assert.JSONEq(t, `{"a":"b"}`, string(body))

	ok, err := signature.Verify([]byte("app-secret"), body, got.Get(signature.HeaderName))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDispatcher_IdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("X-Idempotency-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := New(Config{})
	ctx := context.Background()

	t.Run("same destination and event share a key", func(t *testing.T) {
		r1, err := d.Send(ctx, srv.URL, []byte(`{}`), WithEventID("evt-42"))
		require.NoError(t, err)
		r2, err := d.Send(ctx, srv.URL, []byte(`{"other":"body"}`), WithEventID("evt-42"))
		require.NoError(t, err)

		assert.Equal(t, r1.IdempotencyKey, r2.IdempotencyKey)
		assert.Equal(t, IdempotencyKey(srv.URL, "evt-42"), r1.IdempotencyKey)
	})

	t.Run("different events get different keys", func(t *testing.T) {
		r1, err := d.Send(ctx, srv.URL, []byte(`{}`), WithEventID("evt-1"))
		require.NoError(t, err)
		r2, err := d.Send(ctx, srv.URL, []byte(`{}`), WithEventID("evt-2"))
		require.NoError(t, err)
		assert.NotEqual(t, r1.IdempotencyKey, r2.IdempotencyKey)
	})

	t.Run("caller key wins", func(t *testing.T) {
		r, err := d.Send(ctx, srv.URL, []byte(`{}`), WithEventID("evt-1"), WithIdempotencyKey("mine"))
		require.NoError(t, err)
		assert.Equal(t, "mine", r.IdempotencyKey)
	})

	t.Run("retries reuse the key", func(t *testing.T) {
		flaky, _ := sequenceServer(t, 500, 200)
		var seen []string
		var smu sync.Mutex
		capture := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			smu.Lock()
			seen = append(seen, r.Header.Get("X-Idempotency-Key"))
			smu.Unlock()
			resp, err := http.Post(flaky.URL, "application/json", nil)
			if err != nil {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			resp.Body.Close()
			w.WriteHeader(resp.StatusCode)
		}))
		t.Cleanup(capture.Close)

		_, err := d.Send(ctx, capture.URL, []byte(`{}`), WithSleeper(noSleep))
		require.NoError(t, err)
		require.Len(t, seen, 2)
		assert.Equal(t, seen[0], seen[1])
	})
}

func TestDispatcher_Go(t *testing.T) {
	t.Run("completes in the background", func(t *testing.T) {
		srv, _ := sequenceServer(t, 200)
		d := New(Config{})

		done := make(chan error, 1)
		ok := d.Go(srv.URL, []byte(`{}`), WithCompletion(func(_ Response, err error) {
			done <- err
		}))
		require.True(t, ok)

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("completion not called")
		}
	})

	t.Run("saturated pool drops the send", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })

		d := New(Config{Workers: 1})
		require.True(t, d.Go(srv.URL, []byte(`{}`)))

		var dropped error
		ok := d.Go(srv.URL, []byte(`{}`), WithCompletion(func(_ Response, err error) {
			dropped = err
		}))
		assert.False(t, ok)
		assert.True(t, errors.Is(dropped, ErrSaturated))
	})

	t.Run("shutdown cancels in-flight sends", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(srv.Close)

		d := New(Config{})
		done := make(chan error, 1)
		require.True(t, d.Go(srv.URL, []byte(`{}`), WithTimeout(time.Minute), WithCompletion(func(_ Response, err error) {
			done <- err
		})))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, d.Shutdown(ctx))

		err := <-done
		assert.ErrorIs(t, err, webhook.ErrCanceled)

		var afterErr error
		assert.False(t, d.Go(srv.URL, []byte(`{}`), WithCompletion(func(_ Response, err error) { afterErr = err })))
		assert.ErrorIs(t, afterErr, ErrShutdown)
	})
}
