package provider

import (
	"errors"
	"fmt"
)

// ValidationError means the caller supplied malformed input. It is raised
// before any network call and is never worth retrying as-is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s (%s)", e.Message, e.Field)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RejectedError means a provider accepted the request but refused the
// message (quota, content policy, bad field). The request was well formed
// at the transport level.
type RejectedError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s rejected message (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s rejected message: %s", e.Provider, e.Message)
}

func (e *RejectedError) Unwrap() error {
	return e.Cause
}

// UnavailableError means the provider could not be reached at all
// (network failure, timeout, 5xx). This is the condition the failover
// exists for.
type UnavailableError struct {
	Provider string
	Cause    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}
