package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/cache"
)

// DefaultInstanceTTL bounds how long a resolved instance is trusted.
const DefaultInstanceTTL = 5 * time.Minute

// UseCase defines the callback bookkeeping operations
type UseCase interface {
	RecordCallback(ctx context.Context, cb Callback) (Stat, error)
	RegisterInstance(ctx context.Context, instance Instance) error
	GetInstance(ctx context.Context, id string) (Instance, error)
	RecentStats(ctx context.Context, instanceID string, limit int) ([]Stat, int64, error)
	InvalidateInstance(id string)
}

type Service struct {
	Repo      Repository
	instances *cache.TTL[string, Instance]
	clock     clockwork.Clock
}

type Option func(*serviceOptions)

type serviceOptions struct {
	ttl   time.Duration
	clock clockwork.Clock
}

// WithInstanceTTL sets how long instance lookups are cached
func WithInstanceTTL(ttl time.Duration) Option {
	return func(o *serviceOptions) { o.ttl = ttl }
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *serviceOptions) { o.clock = clock }
}

// NewService creates a usage service backed by repo
func NewService(repo Repository, opts ...Option) *Service {
	o := serviceOptions{ttl: DefaultInstanceTTL, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		Repo:      repo,
		instances: cache.NewTTL[string, Instance](o.ttl, cache.WithClock(o.clock)),
		clock:     o.clock,
	}
}

// RecordCallback validates a callback, resolves its instance and stores the stat
func (s *Service) RecordCallback(ctx context.Context, cb Callback) (Stat, error) {
	if missing := cb.Missing(); len(missing) > 0 {
		return Stat{}, &MissingFieldsError{Fields: missing}
	}

	instance, err := s.GetInstance(ctx, cb.InstanceID)
	if err != nil {
		return Stat{}, err
	}

	now := s.clock.Now()
	userID := instance.UserID
	if userID == "" {
		userID = cb.UserID
	}

	stat := Stat{
		ID:                uuid.New().String(),
		InstanceID:        instance.ID,
		UserID:            userID,
		PhoneNumber:       cb.PhoneNumber,
		MessageID:         cb.MessageID,
		OriginalMessageID: cb.OriginalMessageID,
		ResponseText:      cb.ResponseText,
		Timestamp:         cb.timestamp(now),
		CreatedAt:         now,
	}

	if err := s.Repo.StoreStat(ctx, stat); err != nil {
		return Stat{}, fmt.Errorf("storing usage stat: %w", err)
	}

	return stat, nil
}

// RegisterInstance stores an instance and refreshes the cached copy
func (s *Service) RegisterInstance(ctx context.Context, instance Instance) error {
	if err := instance.Validate(); err != nil {
		return fmt.Errorf("validating instance: %w", err)
	}
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = s.clock.Now()
	}

	if err := s.Repo.UpsertInstance(ctx, instance); err != nil {
		return fmt.Errorf("registering instance: %w", err)
	}
	s.instances.Set(instance.ID, instance)
	return nil
}

// GetInstance resolves an instance through the cache.
// Concurrent lookups of the same id share one repository read.
func (s *Service) GetInstance(ctx context.Context, id string) (Instance, error) {
	instance, err := s.instances.GetOrLoad(ctx, id, func(ctx context.Context) (Instance, error) {
		return s.Repo.GetInstance(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return Instance{}, err
		}
		return Instance{}, fmt.Errorf("resolving instance: %w", err)
	}
	return instance, nil
}

// RecentStats lists the newest stats of an instance and its total count
func (s *Service) RecentStats(ctx context.Context, instanceID string, limit int) ([]Stat, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	stats, err := s.Repo.ListStats(ctx, instanceID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing usage stats: %w", err)
	}
	total, err := s.Repo.CountStats(ctx, instanceID)
	if err != nil {
		return nil, 0, fmt.Errorf("counting usage stats: %w", err)
	}
	return stats, total, nil
}

// InvalidateInstance drops the cached copy of an instance
func (s *Service) InvalidateInstance(id string) {
	s.instances.Delete(id)
}
