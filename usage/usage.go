package usage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInstanceNotFound is returned when a callback names an unknown instance.
var ErrInstanceNotFound = errors.New("instance not found")

/* Instance is a connected WhatsApp number as the dashboard knows it
 * Value semantics: small struct, copied freely between cache and repository
 */
type Instance struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the fields required to register an instance.
func (i Instance) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New("instance id is required")
	}
	if strings.TrimSpace(i.UserID) == "" {
		return errors.New("instance user id is required")
	}
	return nil
}

// Stat is one agent reply recorded from an automation callback.
type Stat struct {
	ID                string    `json:"id"`
	InstanceID        string    `json:"instance_id"`
	UserID            string    `json:"user_id"`
	PhoneNumber       string    `json:"phone_number"`
	MessageID         string    `json:"message_id,omitempty"`
	OriginalMessageID string    `json:"original_message_id,omitempty"`
	ResponseText      string    `json:"response_text"`
	Timestamp         time.Time `json:"timestamp"`
	CreatedAt         time.Time `json:"created_at"`
}

// Callback is the body the automation engine posts after replying to a message.
type Callback struct {
	InstanceID        string `json:"instanceId"`
	PhoneNumber       string `json:"phoneNumber"`
	MessageID         string `json:"messageId,omitempty"`
	ResponseText      string `json:"responseText"`
	OriginalMessageID string `json:"originalMessageId,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
	UserID            string `json:"userId,omitempty"`
}

// Missing lists the required fields that are empty, in wire names.
func (c Callback) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.InstanceID) == "" {
		missing = append(missing, "instanceId")
	}
	if strings.TrimSpace(c.PhoneNumber) == "" {
		missing = append(missing, "phoneNumber")
	}
	if strings.TrimSpace(c.ResponseText) == "" {
		missing = append(missing, "responseText")
	}
	return missing
}

// MissingFieldsError reports a callback without its required fields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// timestamp parses the optional callback timestamp, falling back to now.
// RFC 3339 and unix seconds are accepted.
func (c Callback) timestamp(now time.Time) time.Time {
	raw := strings.TrimSpace(c.Timestamp)
	if raw == "" {
		return now
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	var secs int64
	if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	return now
}
