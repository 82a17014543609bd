package webhook

import "time"

/* Attempt represents one delivery attempt of a webhook call, in either direction
 * Uses value semantics as it represents data, not behavior
 * Attempts are never mutated after being recorded
 */
type Attempt struct {
	SendID        string
	Timestamp     time.Time
	Direction     Direction
	Success       bool
	HTTPStatus    int // 0 when no response was received
	Duration      time.Duration
	ErrorKind     ErrorKind
	RetryIndex    int
	Final         bool // last attempt of its logical send
	InstanceLabel string
}

// DurationMs returns the attempt latency in milliseconds
func (a Attempt) DurationMs() int64 {
	return a.Duration.Milliseconds()
}
