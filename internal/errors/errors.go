package errors

import (
	"errors"
	"fmt"
)

// Application-specific errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("resource conflict")
	ErrRateLimit          = errors.New("rate limit exceeded")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// Payment confirmation errors
var (
	ErrVerificationFailed    = errors.New("notification signature verification failed")
	ErrMalformedOrder        = errors.New("malformed order descriptor")
	ErrAmountMismatch        = errors.New("paid amount does not match order")
	ErrUserNotFound          = errors.New("user not found")
	ErrAlreadyProcessed      = errors.New("order already processed")
	ErrDownstreamUnavailable = errors.New("downstream store unavailable")
	ErrClaimLost             = errors.New("ledger claim no longer held")
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// DatabaseError represents a database-related error
type DatabaseError struct {
	Operation string
	Err       error
}

func (e DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

func (e DatabaseError) Unwrap() error {
	return e.Err
}

// GatewayError represents a failure talking to or interpreting a payment gateway
type GatewayError struct {
	Gateway string
	Op      string
	Err     error
}

func (e GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed during %s: %v", e.Gateway, e.Op, e.Err)
}

func (e GatewayError) Unwrap() error {
	return e.Err
}

// Unavailable marks err as a downstream outage so callers can leave work retryable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrDownstreamUnavailable, err))
}

// IsRetryable reports whether err was caused by a downstream outage or timeout.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDownstreamUnavailable) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
