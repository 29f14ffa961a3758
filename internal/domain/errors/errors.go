// Package errors holds the sentinel and typed errors shared by the
// disbursement engine, its backends and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Settings that stop a run before any unit is attempted.
var (
	ErrConfiguration      = errors.New("disbursement not configured")
	ErrMissingCredentials = errors.New("backend credentials missing")
	ErrUnknownMode        = errors.New("unknown disbursement mode")
	ErrMissingAssetID     = errors.New("asset id not configured")
)

// Payable unit lifecycle.
var (
	ErrUnitNotFound           = errors.New("payable unit not found")
	ErrAlreadyTerminal        = errors.New("payable unit already in terminal state")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateUnit          = errors.New("line item already registered for this order")
)

// Backend calls.
var (
	ErrBackendUnavailable = errors.New("disbursement backend unavailable")
	ErrBackendTimeout     = errors.New("backend request timeout")
	ErrInvalidTransfer    = errors.New("invalid transfer request")
	ErrEmptyReceipt       = errors.New("backend returned an empty result")
	ErrNotSupported       = errors.New("operation not supported by backend")
)

var (
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	ErrValidationFailed = errors.New("validation failed")
)

// DomainError attaches a stable machine code to a failure. The HTTP layer
// reports Code to clients as is.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *DomainError) Unwrap() error { return e.Err }

// ValidationError names the offending input field. It matches
// ErrValidationFailed under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ConfigurationError reports settings that prevent any disbursement attempt.
// It is never recorded on a payable unit.
type ConfigurationError struct {
	Missing []string
	Message string
}

func NewConfigurationError(message string, missing ...string) *ConfigurationError {
	return &ConfigurationError{Missing: missing, Message: message}
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (missing: %s)", e.Message, strings.Join(e.Missing, ", "))
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// BackendError is returned by disbursement backends on transport, authentication
// or protocol failures. Code carries the HTTP status when one was received, 0 otherwise.
type BackendError struct {
	Backend string
	Code    int
	Message string
	Err     error
}

func NewBackendError(backend string, code int, message string, err error) *BackendError {
	return &BackendError{Backend: backend, Code: code, Message: message, Err: err}
}

func (e *BackendError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Backend + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *BackendError) Unwrap() error { return e.Err }
