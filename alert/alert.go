package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when acknowledging an unknown alert id
var ErrNotFound = errors.New("alert not found")

/* Severity of an alert
 * Warning conditions are reported as Medium
 */
type Severity int

const (
	Low Severity = iota + 1
	Medium
	High
	Critical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// NewSeverity creates a Severity from a string
func NewSeverity(s string) Severity {
	switch s {
	case "medium", "warning":
		return Medium
	case "high":
		return High
	case "critical":
		return Critical
	default:
		return Low
	}
}

// Validate checks if the severity is valid
func (s Severity) Validate() error {
	if s < Low || s > Critical {
		return fmt.Errorf("invalid severity: %d", s)
	}
	return nil
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("unmarshaling severity: %w", err)
	}
	*s = NewSeverity(str)
	return nil
}

// Kind is the monitored condition that raised the alert
type Kind string

const (
	KindSuccessRate  Kind = "success_rate"
	KindLatency      Kind = "latency"
	KindServerErrors Kind = "server_errors"
	KindClientErrors Kind = "client_errors"
)

// Alert is a raised condition. It stays in the store until acknowledged and cleared.
type Alert struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	ActionRequired bool       `json:"action_required"`
	CreatedAt      time.Time  `json:"created_at"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
