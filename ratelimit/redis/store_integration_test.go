//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/ratelimit"
	"github.com/marcelsud/webhook-guard/ratelimit/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Integration(t *testing.T) {
	ctx := context.Background()

	client, cleanup := SetupRedisClient(t, ctx)
	defer cleanup()

	t.Run("counts hits within a window", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Minute))
		l := ratelimit.New(redis.NewStore(client), 2, time.Minute, ratelimit.WithClock(clock))

		res, err := l.Allow(ctx, "conv-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		res, err = l.Allow(ctx, "conv-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		res, err = l.Allow(ctx, "conv-a")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 3, res.Count)
	})

	t.Run("two limiters share one budget", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Minute))
		a := ratelimit.New(redis.NewStore(client), 1, time.Minute, ratelimit.WithClock(clock))
		b := ratelimit.New(redis.NewStore(client), 1, time.Minute, ratelimit.WithClock(clock))

		res, err := a.Allow(ctx, "conv-b")
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		res, err = b.Allow(ctx, "conv-b")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})

	t.Run("counter key expires with its window", func(t *testing.T) {
		start := time.Now().Truncate(time.Minute)
		w := ratelimit.Window{Key: "conv-c", Start: start, Length: time.Minute}

		_, err := redis.NewStore(client).Increment(ctx, w)
		require.NoError(t, err)

		ttl, err := client.PTTL(ctx, fmt.Sprintf("ratelimit:conv-c:%d", w.Index())).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute+time.Second)
	})
}
