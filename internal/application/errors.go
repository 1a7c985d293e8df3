package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/room-tracker/internal/persistence"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")

	// ErrOpenEventExists is returned when the author still holds a room they never released.
	ErrOpenEventExists = errors.New("application: author already has an open event")
	// ErrOverlapExists is returned when a booking collides with another event of the same author.
	ErrOverlapExists = errors.New("application: event overlaps an existing event")
	// ErrNoOpenEvent is returned when there is nothing to release.
	ErrNoOpenEvent = errors.New("application: no open event to free")
	// ErrMultipleOpenEvents is returned when the author holds more than one open event.
	ErrMultipleOpenEvents = errors.New("application: multiple open events")
	// ErrWrongRoom is returned when the open event belongs to another room.
	ErrWrongRoom = errors.New("application: open event belongs to another room")

	// ErrNotBusy is returned when an occupation operation targets a non-BUSY event.
	ErrNotBusy = errors.New("application: event is not a room occupation")
	// ErrNotUnavailable is returned when an unavailability operation targets another kind of event.
	ErrNotUnavailable = errors.New("application: event is not an unavailability period")

	// ErrAlreadyExists is returned when an account is registered twice.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrVerificationFailed is returned for wrong, expired or unknown verification codes and signatures.
	ErrVerificationFailed = errors.New("application: email verification failed")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// ConflictError reports a booking that collides with existing state.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %v", e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// StateError reports an operation that does not apply to the event's availability.
type StateError struct {
	EventID string
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("event %s: %v", e.EventID, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// IntegrityError reports a missing or failing mandatory integration. It is a
// server fault, never a caller mistake.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure in %s: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

func conflict(err error) error {
	return &ConflictError{Err: err}
}

// mapRepoError translates storage sentinels into application errors.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, persistence.ErrForeignKeyViolation):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	return err
}
