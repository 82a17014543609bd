package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// Outbound event types sent to the automation engine
const (
	TypeMessageReceived = "message.received"
	TypeUsageRecorded   = "usage.recorded"
	TypeDispatchTest    = "dispatch.test"
)

// Event is the JSON body posted to an automation engine destination
type Event struct {
	// ID is the logical event id, the input of the default idempotency key
	ID string `json:"id"`

	// Type is a full-stop delimited type associated with the event
	// Examples: "message.received", "usage.recorded"
	Type string `json:"type"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Data is the event data, schema defined by the caller
	Data json.RawMessage `json:"data"`
}

// Validate validates the event structure
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if err := ValidateEventType(e.Type); err != nil {
		return err
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}

	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}

	return nil
}

// NewEvent creates a validated Event with the given id, type and data
func NewEvent(id, eventType string, at time.Time, data any) (Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling data: %w", err)
	}

	event := Event{
		ID:        id,
		Type:      eventType,
		Timestamp: at.UTC(),
		Data:      dataBytes,
	}

	if err := event.Validate(); err != nil {
		return Event{}, fmt.Errorf("validating event: %w", err)
	}

	return event, nil
}

// Bytes returns the minified JSON encoding of the event
func (e Event) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ValidateEventType validates an event type format
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("type is required")
	}

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}
