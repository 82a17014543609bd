package usage

import "context"

/* Small interfaces, composed below
 * Instances are read on every callback and written rarely
 */

// InstanceReader resolves instances by id
type InstanceReader interface {
	// GetInstance returns ErrInstanceNotFound when the id is unknown
	GetInstance(ctx context.Context, id string) (Instance, error)
}

// InstanceWriter registers instances
type InstanceWriter interface {
	UpsertInstance(ctx context.Context, instance Instance) error
}

// StatWriter appends usage stats
type StatWriter interface {
	StoreStat(ctx context.Context, stat Stat) error
}

// StatReader lists usage stats per instance, newest first
type StatReader interface {
	ListStats(ctx context.Context, instanceID string, limit int) ([]Stat, error)
	CountStats(ctx context.Context, instanceID string) (int64, error)
}

type Repository interface {
	InstanceReader
	InstanceWriter
	StatWriter
	StatReader
	Close(ctx context.Context) error
}
