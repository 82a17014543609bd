package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("success - creates valid event", func(t *testing.T) {
		event, err := NewEvent("evt-1", TypeMessageReceived, now, map[string]any{"instance": "inst-1"})
		require.NoError(t, err)
		assert.Equal(t, "evt-1", event.ID)
		assert.Equal(t, TypeMessageReceived, event.Type)
		assert.Equal(t, now, event.Timestamp)
		assert.JSONEq(t, `{"instance":"inst-1"}`, string(event.Data))
	})

	t.Run("error - invalid event type format", func(t *testing.T) {
		_, err := NewEvent("evt-1", "invalid-type-with-dashes", now, map[string]string{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validating event")
	})

	t.Run("error - missing id", func(t *testing.T) {
		_, err := NewEvent("", TypeUsageRecorded, now, map[string]string{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "id is required")
	})

	t.Run("error - data cannot be marshaled", func(t *testing.T) {
		_, err := NewEvent("evt-1", TypeUsageRecorded, now, make(chan int))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "marshaling data")
	})
}

func TestEvent_Bytes(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event, err := NewEvent("evt-2", TypeUsageRecorded, now, map[string]int{"count": 1})
	require.NoError(t, err)

	body, err := event.Bytes()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "evt-2", decoded["id"])
	assert.Equal(t, TypeUsageRecorded, decoded["type"])
	assert.Equal(t, "2024-01-01T12:00:00Z", decoded["timestamp"])
}

func TestEvent_Validate(t *testing.T) {
	valid := Event{
		ID:        "evt",
		Type:      "usage.recorded",
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{}`),
	}

	tests := []struct {
		name    string
		mutate  func(e *Event)
		wantErr string
	}{
		{name: "valid", mutate: func(e *Event) {}},
		{name: "missing type", mutate: func(e *Event) { e.Type = "" }, wantErr: "type is required"},
		{name: "missing timestamp", mutate: func(e *Event) { e.Timestamp = time.Time{} }, wantErr: "timestamp is required"},
		{name: "missing data", mutate: func(e *Event) { e.Data = nil }, wantErr: "data is required"},
		{name: "invalid data", mutate: func(e *Event) { e.Data = json.RawMessage(`{`) }, wantErr: "valid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
