package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-guard/ratelimit"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of ratelimit.Store
 * One string counter per window: ratelimit:{key}:{window index}
 * INCR and PEXPIREAT run in a single MULTI so a counter never outlives its window
 */

const keyPrefix = "ratelimit"

// expiryGrace keeps a closed window around briefly for clock skew between processes
const expiryGrace = time.Second

type Store struct {
	client *redis.Client
}

// NewStore creates a Store on an existing client
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Increment implements ratelimit.Store
func (s *Store) Increment(ctx context.Context, w ratelimit.Window) (int64, error) {
	key := windowKey(w)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpireAt(ctx, key, w.End().Add(expiryGrace))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing window %s: %w", key, err)
	}

	return incr.Val(), nil
}

func windowKey(w ratelimit.Window) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, w.Key, w.Index())
}
