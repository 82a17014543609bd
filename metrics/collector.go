package metrics

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/marcelsud/webhook-guard/alert"
	"github.com/marcelsud/webhook-guard/monitor"
	"github.com/marcelsud/webhook-guard/realtime"
)

// Windows reported for delivery stats, shortest first
var Windows = []struct {
	Label  string
	Length time.Duration
}{
	{"1m", time.Minute},
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
}

type StatsSource interface {
	Stats(window time.Duration) monitor.Stats
}

type SubscriptionSource interface {
	Stats() realtime.Stats
}

type AlertSource interface {
	Unacknowledged() []alert.Alert
}

// ServiceCollector reads metrics from the in-process components.
// Nil sources report zero values.
type ServiceCollector struct {
	monitor       StatsSource
	subscriptions SubscriptionSource
	alerts        AlertSource
	clock         clockwork.Clock
}

// NewServiceCollector creates a collector over the monitor, realtime manager and alert engine
func NewServiceCollector(m StatsSource, subs SubscriptionSource, alerts AlertSource) *ServiceCollector {
	return &ServiceCollector{
		monitor:       m,
		subscriptions: subs,
		alerts:        alerts,
		clock:         clockwork.NewRealClock(),
	}
}

// Collect gathers all metrics in one snapshot
func (c *ServiceCollector) Collect(ctx context.Context) (Metrics, error) {
	delivery, err := c.GetDelivery(ctx)
	if err != nil {
		return Metrics{}, err
	}
	errs, err := c.GetErrorCounts(ctx)
	if err != nil {
		return Metrics{}, err
	}
	subs, err := c.GetSubscriptions(ctx)
	if err != nil {
		return Metrics{}, err
	}
	alerts, err := c.GetAlertCounts(ctx)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		Delivery:      delivery,
		ErrorCounts:   errs,
		Subscriptions: subs,
		Alerts:        alerts,
		Timestamp:     c.clock.Now(),
	}, nil
}

func (c *ServiceCollector) GetDelivery(ctx context.Context) (map[string]DeliveryMetrics, error) {
	out := make(map[string]DeliveryMetrics, len(Windows))
	if c.monitor == nil {
		return out, ctx.Err()
	}
	for _, w := range Windows {
		s := c.monitor.Stats(w.Length)
		out[w.Label] = DeliveryMetrics{
			Requests:          int64(s.TotalRequests),
			Attempts:          int64(s.TotalAttempts),
			SuccessRate:       s.SuccessRate,
			AverageResponseMs: s.AverageResponseMs,
			SlowRequests:      int64(s.SlowRequestCount),
			Retries:           int64(s.Retries),
		}
	}
	return out, ctx.Err()
}

func (c *ServiceCollector) GetErrorCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	if c.monitor == nil {
		return out, ctx.Err()
	}
	longest := Windows[len(Windows)-1].Length
	for kind, n := range c.monitor.Stats(longest).ErrorsByKind {
		out[kind] = int64(n)
	}
	return out, ctx.Err()
}

func (c *ServiceCollector) GetSubscriptions(ctx context.Context) (SubscriptionMetrics, error) {
	if c.subscriptions == nil {
		return SubscriptionMetrics{}, ctx.Err()
	}
	s := c.subscriptions.Stats()
	return SubscriptionMetrics{
		Channels:    int64(s.Channels),
		Subscribers: int64(s.Subscribers),
		Storms:      s.Storms,
	}, ctx.Err()
}

func (c *ServiceCollector) GetAlertCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	if c.alerts == nil {
		return out, ctx.Err()
	}
	for _, a := range c.alerts.Unacknowledged() {
		out[a.Severity.String()]++
	}
	return out, ctx.Err()
}
