package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when no active user matches the supplied credentials.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrSessionNotFound is returned when a token does not identify a live session.
	ErrSessionNotFound = errors.New("application: session not found")
	// ErrSessionExpired is returned when a session outlived its expiry timestamp.
	ErrSessionExpired = errors.New("application: session expired")
	// ErrAccountDisabled is returned when a session's user has been deactivated.
	ErrAccountDisabled = errors.New("application: account disabled")

	// ErrInvalidTimeSlot is returned when a time slot fails validation.
	ErrInvalidTimeSlot = errors.New("application: invalid time slot")
	// ErrPermissionNotFound is returned when no active permission exists for a user and room.
	ErrPermissionNotFound = errors.New("application: permission not found")
	// ErrNoActivePermissions is returned when a credential payload is requested for a user without grants.
	ErrNoActivePermissions = errors.New("application: no active permissions")

	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("application: user not found")
	// ErrAlreadyExists is returned when a unique attribute is already taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrForbidden is returned when the acting principal lacks the role for an operation.
	ErrForbidden = errors.New("application: forbidden")
)

// TimeSlotError identifies the offending slot of a grant request.
type TimeSlotError struct {
	Index  int
	Reason string
}

// Error implements the error interface.
func (e *TimeSlotError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: slot %d: %s", ErrInvalidTimeSlot, e.Index, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidTimeSlot).
func (e *TimeSlotError) Unwrap() error {
	return ErrInvalidTimeSlot
}

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

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
