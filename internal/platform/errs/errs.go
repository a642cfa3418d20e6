// Package errs defines the error taxonomy shared by services and handlers.
// Services return these types; the HTTP layer maps them to status codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError indicates malformed or out-of-range input. Not retryable.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
	}
	return "validation: " + e.Msg
}

// Validation builds a ValidationError for the given field.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// Validationf builds a ValidationError with a formatted message and no field.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates the referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError indicates a concurrent-modification or uniqueness conflict.
// The caller may retry after re-reading current state.
type ConflictError struct {
	Entity string
	ID     string
	Msg    string
}

func (e *ConflictError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("conflict on %s %s: %s", e.Entity, e.ID, e.Msg)
	}
	return fmt.Sprintf("conflict on %s %s", e.Entity, e.ID)
}

// Conflict builds a ConflictError.
func Conflict(entity, id, msg string) error {
	return &ConflictError{Entity: entity, ID: id, Msg: msg}
}

// TransientDeliveryError indicates an outbound delivery failure (timeout,
// gateway error) that may succeed on retry.
type TransientDeliveryError struct {
	Channel string
	Err     error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed: %v", e.Channel, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// TransientDelivery wraps a delivery failure for the given channel.
func TransientDelivery(channel string, err error) error {
	return &TransientDeliveryError{Channel: channel, Err: err}
}

// StateError indicates an operation is invalid for the entity's current
// lifecycle state. Not retryable without a state change.
type StateError struct {
	Entity string
	State  string
	Msg    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s in state %s: %s", e.Entity, e.State, e.Msg)
}

// State builds a StateError.
func State(entity, state, msg string) error {
	return &StateError{Entity: entity, State: state, Msg: msg}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsTransientDelivery reports whether err is a TransientDeliveryError.
func IsTransientDelivery(err error) bool {
	var te *TransientDeliveryError
	return errors.As(err, &te)
}

// IsState reports whether err is a StateError.
func IsState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// HTTPStatus maps a taxonomy error to an HTTP status code. Unknown errors
// map to 500.
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsState(err):
		return http.StatusUnprocessableEntity
	case IsTransientDelivery(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
