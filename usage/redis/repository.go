package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-guard/usage"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of usage.Repository
 * Instances live in hashes, stats are appended to one stream per instance
 * Daily reply counters are kept in a hash per instance
 */

const (
	instancePrefix = "instance"     // Hash naming: instance:{id}
	statsPrefix    = "usage:stats"  // Stream naming: usage:stats:{instance_id}
	dailyPrefix    = "usage:daily"  // Hash naming: usage:daily:{instance_id}, field YYYY-MM-DD
	maxStreamLen   = int64(100_000) // approximate cap per instance stream
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository and checks the connection
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{client: client}, nil
}

// NewRepositoryFromClient wraps an existing client, sharing its pool
func NewRepositoryFromClient(client *redis.Client) *Repository {
	return &Repository{client: client}
}

// UpsertInstance stores or replaces an instance hash
func (r *Repository) UpsertInstance(ctx context.Context, instance usage.Instance) error {
	err := r.client.HSet(ctx, instanceKey(instance.ID), map[string]interface{}{
		"id":           instance.ID,
		"user_id":      instance.UserID,
		"name":         instance.Name,
		"phone_number": instance.PhoneNumber,
		"status":       instance.Status,
		"created_at":   instance.CreatedAt.Unix(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing instance: %w", err)
	}
	return nil
}

// GetInstance reads an instance hash
func (r *Repository) GetInstance(ctx context.Context, id string) (usage.Instance, error) {
	data, err := r.client.HGetAll(ctx, instanceKey(id)).Result()
	if err != nil {
		return usage.Instance{}, fmt.Errorf("getting instance: %w", err)
	}
	if len(data) == 0 {
		return usage.Instance{}, fmt.Errorf("%w: %s", usage.ErrInstanceNotFound, id)
	}

	return usage.Instance{
		ID:          data["id"],
		UserID:      data["user_id"],
		Name:        data["name"],
		PhoneNumber: data["phone_number"],
		Status:      data["status"],
		CreatedAt:   time.Unix(parseInt64(data["created_at"]), 0),
	}, nil
}

// StoreStat appends a stat to the instance stream and bumps the daily counter
func (r *Repository) StoreStat(ctx context.Context, stat usage.Stat) error {
	body, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("marshaling stat: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: statsKey(stat.InstanceID),
			MaxLen: maxStreamLen,
			Approx: true,
			Values: map[string]interface{}{
				"stat_id": stat.ID,
				"stat":    string(body),
			},
		})
		pipe.HIncrBy(ctx, dailyKey(stat.InstanceID), stat.Timestamp.UTC().Format(time.DateOnly), 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("adding stat to stream: %w", err)
	}
	return nil
}

// ListStats returns up to limit stats, newest first
func (r *Repository) ListStats(ctx context.Context, instanceID string, limit int) ([]usage.Stat, error) {
	msgs, err := r.client.XRevRangeN(ctx, statsKey(instanceID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading stats stream: %w", err)
	}

	stats := make([]usage.Stat, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["stat"].(string)
		if !ok {
			continue
		}
		var stat usage.Stat
		if err := json.Unmarshal([]byte(raw), &stat); err != nil {
			return nil, fmt.Errorf("unmarshaling stat %s: %w", msg.ID, err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// CountStats returns how many stats the instance stream holds
func (r *Repository) CountStats(ctx context.Context, instanceID string) (int64, error) {
	n, err := r.client.XLen(ctx, statsKey(instanceID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("counting stats: %w", err)
	}
	return n, nil
}

// DailyCounts returns the per-day reply counters of an instance
func (r *Repository) DailyCounts(ctx context.Context, instanceID string) (map[string]int64, error) {
	data, err := r.client.HGetAll(ctx, dailyKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting daily counters: %w", err)
	}
	counts := make(map[string]int64, len(data))
	for day, v := range data {
		counts[day] = parseInt64(v)
	}
	return counts, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// Helper functions
func instanceKey(id string) string {
	return fmt.Sprintf("%s:%s", instancePrefix, id)
}

func statsKey(instanceID string) string {
	return fmt.Sprintf("%s:%s", statsPrefix, instanceID)
}

func dailyKey(instanceID string) string {
	return fmt.Sprintf("%s:%s", dailyPrefix, instanceID)
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
