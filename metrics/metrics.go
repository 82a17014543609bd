package metrics

import (
	"context"
	"time"
)

// Metrics represents the current health of the reliability layer.
type Metrics struct {
	// Delivery maps a window label ("1m", "5m", "15m") to delivery stats
	Delivery map[string]DeliveryMetrics `json:"delivery"`

	// ErrorCounts maps error kind to attempts in the longest window
	ErrorCounts map[string]int64 `json:"error_counts"`

	Subscriptions SubscriptionMetrics `json:"subscriptions"`

	// Alerts maps severity to unacknowledged alert count
	Alerts map[string]int64 `json:"alerts"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryMetrics summarizes one window of the delivery monitor.
type DeliveryMetrics struct {
	Requests          int64   `json:"requests"`
	Attempts          int64   `json:"attempts"`
	SuccessRate       float64 `json:"success_rate"`
	AverageResponseMs float64 `json:"average_response_ms"`
	SlowRequests      int64   `json:"slow_requests"`
	Retries           int64   `json:"retries"`
}

// SubscriptionMetrics describes the shared realtime channels.
type SubscriptionMetrics struct {
	Channels    int64 `json:"channels"`
	Subscribers int64 `json:"subscribers"`
	Storms      int64 `json:"storms"`
}

// Collector defines the interface for collecting metrics from the service.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetDelivery returns delivery stats per window label
	GetDelivery(ctx context.Context) (map[string]DeliveryMetrics, error)

	// GetErrorCounts returns attempts per error kind
	GetErrorCounts(ctx context.Context) (map[string]int64, error)

	// GetSubscriptions returns the realtime registry counters
	GetSubscriptions(ctx context.Context) (SubscriptionMetrics, error)

	// GetAlertCounts returns unacknowledged alerts per severity
	GetAlertCounts(ctx context.Context) (map[string]int64, error)
}
