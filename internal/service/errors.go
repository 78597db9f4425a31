package service

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application.
var (
	// ErrNotFound means the requested stack id does not exist in the store.
	ErrNotFound = errors.New("stack not found")
	// ErrUpstreamUnavailable means the Portainer API could not be reached
	// or returned an error. The affected stack is marked with status
	// "error"; the next sweep or a manual retry picks it up again.
	ErrUpstreamUnavailable = errors.New("portainer unavailable")
)

// UpdateFailedError means a webhook call returned a non-success response.
type UpdateFailedError struct {
	StatusCode int
	Body       string
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("update failed: webhook returned status %d", e.StatusCode)
}

// ValidationError means a stack definition was malformed on create or edit.
// Nothing is persisted when validation fails.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
