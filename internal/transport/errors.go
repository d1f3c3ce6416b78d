package transport

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"
)

// Kind classifies provider failures for retry decisions.
type Kind int

const (
	KindUnknown       Kind = iota
	KindTransient          // rate limits, timeouts, resets; retry may help
	KindRejected           // provider refused the request; retrying will not help
	KindConfiguration      // bad credential or client setup
	KindStorage            // a local file needed for the send is missing
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindConfiguration:
		return "configuration"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error wraps a provider failure with its classification.
type Error struct {
	Kind       Kind
	Op         string
	Code       int           // provider error code, 0 if none
	RetryAfter time.Duration // provider-suggested backoff, 0 if none
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code=%d)", e.Code)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns the kind carried by err, or KindUnknown.
func Classify(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// IsTransient reports whether a retry may succeed. Unclassified errors count
// as transient so that network failures outside the provider client retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case KindRejected, KindConfiguration, KindStorage:
		return false
	default:
		return true
	}
}

// IsRejected reports a definitive provider refusal.
func IsRejected(err error) bool { return Classify(err) == KindRejected }

// IsConnReset detects a connection reset anywhere in the chain or message.
func IsConnReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "econnreset") ||
		strings.Contains(msg, "socket hang up")
}

// ConnResetMessage replaces low-level reset errors in user-facing results.
const ConnResetMessage = "connection to the messaging provider was reset; the message may not have been delivered"

// Describe renders err for a dispatch result.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if IsConnReset(err) {
		return ConnResetMessage
	}
	var te *Error
	if errors.As(err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	return err.Error()
}
