package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies how the coordinator must react to a gateway failure
type FailureKind int

const (
	// FailureTransient: network error, rate limit, exchange 5xx. Retried with
	// bounded backoff; escalated to the kill switch only after exhausting retries.
	FailureTransient FailureKind = iota

	// FailureFatal: rejected order, insufficient margin, bad parameters. The
	// intent is discarded and reported; no retry. Never halts on its own.
	FailureFatal
)

// Error represents a classified gateway failure
type Error struct {
	Exchange string
	Code     int
	Message  string
	Kind     FailureKind
	Original error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error %d: %s", e.Exchange, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Exchange, e.Message)
}

// Unwrap returns the original error for errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Original
}

// NewTransientError creates a transient gateway failure
func NewTransientError(exchange string, code int, message string) *Error {
	return &Error{Exchange: exchange, Code: code, Message: message, Kind: FailureTransient}
}

// NewFatalError creates a fatal gateway failure
func NewFatalError(exchange string, code int, message string) *Error {
	return &Error{Exchange: exchange, Code: code, Message: message, Kind: FailureFatal}
}

// WrapTransport wraps a transport-level error as transient
func WrapTransport(exchange string, err error) *Error {
	return &Error{Exchange: exchange, Message: err.Error(), Kind: FailureTransient, Original: err}
}

// IsTransient reports whether an error should be retried. Plain network and
// deadline errors count as transient even when no gateway classified them.
func IsTransient(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind == FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether an error is a classified fatal gateway failure
func IsFatal(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == FailureFatal
}
