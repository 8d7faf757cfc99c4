package keygate

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrLoginRejected is returned when the console rejects the credentials.
	ErrLoginRejected = errors.New("login rejected")

	// ErrRefreshConflict is returned when a refresh is already in flight.
	ErrRefreshConflict = errors.New("refresh already in flight")

	// ErrServerUnreachable is returned when the console cannot be contacted.
	ErrServerUnreachable = errors.New("server unreachable")
)

// KeygateError is the base error type for SDK errors.
type KeygateError struct {
	// Code is a machine-readable error code.
	Code string
	// Err is the underlying error.
	Err error
}

// Error returns the error message.
func (e *KeygateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keygate [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("keygate [%s]", e.Code)
}

// Unwrap returns the underlying error.
func (e *KeygateError) Unwrap() error {
	return e.Err
}

// LoginRejectedError is returned when the console rejects a login attempt.
type LoginRejectedError struct {
	// Message is the error text the console returned.
	Message string
}

// Error returns a human-readable description of the rejection.
func (e *LoginRejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("login rejected: %s", e.Message)
	}
	return "login rejected"
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrLoginRejected).
func (e *LoginRejectedError) Is(target error) bool {
	return target == ErrLoginRejected
}

// ServerUnreachableError is returned when the console cannot be contacted.
type ServerUnreachableError struct {
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a human-readable description of the failure.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
