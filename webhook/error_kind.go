package webhook

import (
	"errors"
	"net/http"
)

/* ErrorKind classifies why an attempt failed
 * Buckets are stable strings so the alert engine can target specific failure modes
 */
type ErrorKind int

const (
	NoError ErrorKind = iota
	NetworkError
	TimeoutError
	ClientError
	ServerError
	SignatureError
	LoopDetected
	Canceled
)

// String returns the string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case NoError:
		return ""
	case NetworkError:
		return "network_error"
	case TimeoutError:
		return "timeout"
	case ClientError:
		return "client_error"
	case ServerError:
		return "server_error"
	case SignatureError:
		return "signature_error"
	case LoopDetected:
		return "loop_detected"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Retryable reports whether an attempt failing with this kind may be retried
func (k ErrorKind) Retryable() bool {
	return k == NetworkError || k == TimeoutError || k == ServerError
}

// ClassifyStatus maps an HTTP response status to an error kind.
// 408 and 429 are treated as transient server-side conditions.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status >= 200 && status <= 299:
		return NoError
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ServerError
	case status >= 500:
		return ServerError
	default:
		return ClientError
	}
}

// Sentinels matched by errors.Is against a *DeliveryError
var (
	ErrNetwork   = errors.New("network error")
	ErrTimeout   = errors.New("timeout")
	ErrClient    = errors.New("client error")
	ErrServer    = errors.New("server error")
	ErrSignature = errors.New("signature mismatch")
	ErrLoop      = errors.New("loop detected")
	ErrCanceled  = errors.New("canceled")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case NetworkError:
		return ErrNetwork
	case TimeoutError:
		return ErrTimeout
	case ClientError:
		return ErrClient
	case ServerError:
		return ErrServer
	case SignatureError:
		return ErrSignature
	case LoopDetected:
		return ErrLoop
	case Canceled:
		return ErrCanceled
	default:
		return nil
	}
}
