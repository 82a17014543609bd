package webhook

import (
	"errors"
	"fmt"
)

// DeliveryError is the typed failure result of a logical send.
// It carries the classification and status of the last attempt.
type DeliveryError struct {
	Kind           ErrorKind
	StatusCode     int
	Message        string
	Attempts       int
	IdempotencyKey string
	Err            error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery failed after %d attempt(s): %s", e.Attempts, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels (ErrTimeout, ErrServer, ...)
func (e *DeliveryError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// Retryable reports whether the last failure was transient
func (e *DeliveryError) Retryable() bool {
	return e.Kind.Retryable()
}

// AsDeliveryError extracts a *DeliveryError from err
func AsDeliveryError(err error) (*DeliveryError, bool) {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
