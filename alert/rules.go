package alert

import (
	"fmt"
	"time"

	"github.com/marcelsud/webhook-guard/monitor"
	"github.com/marcelsud/webhook-guard/webhook"
)

// Alert titles double as deduplication keys
const (
	TitleLowSuccessRate      = "Low webhook success rate"
	TitleCriticalSuccessRate = "Critical webhook success rate"
	TitleHighLatency         = "High webhook latency"
	TitleVeryHighLatency     = "Very high webhook latency"
	TitleServerErrors        = "Webhook server errors"
	TitleClientErrors        = "Webhook client errors"
)

// Thresholds are the limits checked against monitor stats
type Thresholds struct {
	MinSuccessRate      float64
	CriticalSuccessRate float64
	MaxAvgLatency       time.Duration
	CriticalAvgLatency  time.Duration
	MaxServerErrors     int
	MaxClientErrors     int
}

// DefaultThresholds returns the stock limits
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSuccessRate:      0.95,
		CriticalSuccessRate: 0.80,
		MaxAvgLatency:       5 * time.Second,
		CriticalAvgLatency:  10 * time.Second,
		MaxServerErrors:     0,
		MaxClientErrors:     5,
	}
}

// Validate checks the thresholds are coherent
func (t Thresholds) Validate() error {
	if t.MinSuccessRate <= 0 || t.MinSuccessRate > 1 {
		return fmt.Errorf("min success rate must be in (0, 1], got %v", t.MinSuccessRate)
	}
	if t.CriticalSuccessRate < 0 || t.CriticalSuccessRate > t.MinSuccessRate {
		return fmt.Errorf("critical success rate must be in [0, %v], got %v", t.MinSuccessRate, t.CriticalSuccessRate)
	}
	if t.MaxAvgLatency <= 0 {
		return fmt.Errorf("max average latency must be positive, got %s", t.MaxAvgLatency)
	}
	if t.CriticalAvgLatency < t.MaxAvgLatency {
		return fmt.Errorf("critical average latency %s is below max average latency %s", t.CriticalAvgLatency, t.MaxAvgLatency)
	}
	if t.MaxServerErrors < 0 || t.MaxClientErrors < 0 {
		return fmt.Errorf("error count limits cannot be negative")
	}
	return nil
}

// Check returns the alerts raised by stats. It never reads anything but its arguments.
// Returned alerts carry no id or creation time.
func Check(stats monitor.Stats, t Thresholds) []Alert {
	var alerts []Alert

	if stats.TotalRequests > 0 {
		rate := stats.SuccessRate * 100
		switch {
		case stats.SuccessRate < t.CriticalSuccessRate:
			alerts = append(alerts, Alert{
				Kind:           KindSuccessRate,
				Severity:       Critical,
				Title:          TitleCriticalSuccessRate,
				Message:        fmt.Sprintf("success rate %.1f%% over %d sends is below %.0f%%", rate, stats.TotalRequests, t.CriticalSuccessRate*100),
				ActionRequired: true,
			})
		case stats.SuccessRate < t.MinSuccessRate:
			alerts = append(alerts, Alert{
				Kind:     KindSuccessRate,
				Severity: High,
				Title:    TitleLowSuccessRate,
				Message:  fmt.Sprintf("success rate %.1f%% over %d sends is below %.0f%%", rate, stats.TotalRequests, t.MinSuccessRate*100),
			})
		}
	}

	switch {
	case stats.AverageResponseTime > t.CriticalAvgLatency:
		alerts = append(alerts, Alert{
			Kind:     KindLatency,
			Severity: High,
			Title:    TitleVeryHighLatency,
			Message:  fmt.Sprintf("average response time %s exceeds %s", stats.AverageResponseTime.Round(time.Millisecond), t.CriticalAvgLatency),
		})
	case stats.AverageResponseTime > t.MaxAvgLatency:
		alerts = append(alerts, Alert{
			Kind:     KindLatency,
			Severity: Medium,
			Title:    TitleHighLatency,
			Message:  fmt.Sprintf("average response time %s exceeds %s", stats.AverageResponseTime.Round(time.Millisecond), t.MaxAvgLatency),
		})
	}

	if n := stats.Errors(webhook.ServerError); n > t.MaxServerErrors {
		alerts = append(alerts, Alert{
			Kind:           KindServerErrors,
			Severity:       High,
			Title:          TitleServerErrors,
			Message:        fmt.Sprintf("%d attempts failed with a server error", n),
			ActionRequired: true,
		})
	}

	if n := stats.Errors(webhook.ClientError); n > t.MaxClientErrors {
		alerts = append(alerts, Alert{
			Kind:     KindClientErrors,
			Severity: Medium,
			Title:    TitleClientErrors,
			Message:  fmt.Sprintf("%d attempts were rejected as client errors, check the destination configuration", n),
		})
	}

	return alerts
}
