package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Change is one row change delivered by the backing store
type Change struct {
	Resource        string          `json:"resource"`
	Schema          string          `json:"schema,omitempty"`
	Event           string          `json:"event"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Callback receives changes of a subscription
type Callback func(Change)

// Spec describes what a subscriber wants to observe
type Spec struct {
	Resource string
	Filter   string // e.g. "user_id=eq.42"
	Event    string // INSERT, UPDATE, DELETE or * (default)
	Callback Callback
}

// KeyFor returns the canonical key of a spec: resource:filter:event
func KeyFor(spec Spec) string {
	event := spec.Event
	if event == "" {
		event = "*"
	}
	return fmt.Sprintf("%s:%s:%s", spec.Resource, spec.Filter, event)
}

// ChannelSpec is what the provider needs to open one channel
type ChannelSpec struct {
	Key      string
	Resource string
	Filter   string
	Event    string
}

// Channel is a provider handle. It is never handed to subscribers.
type Channel interface {
	Close() error
}

// Provider opens realtime channels on the backing store
type Provider interface {
	Open(ctx context.Context, spec ChannelSpec, deliver func(Change)) (Channel, error)
}

// NopProvider opens channels that never deliver. It stands in when no
// realtime backend is configured.
type NopProvider struct{}

func (NopProvider) Open(ctx context.Context, spec ChannelSpec, deliver func(Change)) (Channel, error) {
	return nopChannel{}, nil
}

type nopChannel struct{}

func (nopChannel) Close() error { return nil }
