package loopguard

import "time"

// Decision is the outcome of an admission
type Decision int

const (
	Accept Decision = iota + 1
	Throttle
	Reject
)

// String returns the string representation of the decision
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Throttle:
		return "throttle"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Reasons reported with non-plain admissions
const (
	ReasonRepeated          = "repeated_delivery"
	ReasonLoopDetected      = "loop_detected"
	ReasonConversationLimit = "conversation_rate_limited"
	ReasonSelfOriginated    = "self_originated"
	ReasonNoStableID        = "no_stable_id"
)

// Input holds the stable identifiers of one inbound message
type Input struct {
	MessageID      string
	ConversationID string
	InstanceLabel  string
}

// Admission is the guard verdict for one inbound call
type Admission struct {
	Decision     Decision      `json:"decision"`
	Reason       string        `json:"reason,omitempty"`
	AttemptCount int           `json:"attempt_count"`
	Fingerprint  string        `json:"-"`
	Delay        time.Duration `json:"-"` // extra wait before forwarding a throttled call
	RetryAfter   time.Duration `json:"-"` // hint for rejected calls
}

// Record tracks how often a fingerprint was seen within the quiet window
type Record struct {
	Fingerprint  string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	AttemptCount int
}
