package core

import (
	"errors"
	"fmt"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal"
)

var (
	// ErrClientClosed is returned when delivering to or submitting from a disconnected client.
	ErrClientClosed = errors.New("client closed")
	// ErrSlowConsumer is returned when a client's outbound buffer is full.
	ErrSlowConsumer = errors.New("outbound buffer full")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// IsCode reports whether err carries a CoreError with the given code.
func IsCode(err error, code string) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Code == code
}

// DeliveryError records a member that could not receive a broadcast.
type DeliveryError struct {
	MemberID string
	Room     string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s in %s: %v", e.MemberID, e.Room, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
