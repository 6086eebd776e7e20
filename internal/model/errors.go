package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports a violated registry invariant. The mutation that
// produced it has not been applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ErrDuplicateMember is returned when an individual would appear more than once in a group.
func ErrDuplicateMember(individual, group string) *ValidationError {
	return invalid("individual_id", "Duplication of member is not allowed: %s is already a member of %s", individual, group)
}

// ErrUniqueKind is returned when more than one member of a group holds a unique kind.
func ErrUniqueKind(kind string) *ValidationError {
	return invalid("kinds", "Only one %s is allowed per group", kind)
}

// ErrDateRange is returned when a membership ends before it starts.
func ErrDateRange(individual, group string) *ValidationError {
	return invalid("ended_at", "End Date cannot be earlier than Start Date for %s in %s", individual, group)
}

// ErrProtectedKind is returned on attempts to edit or delete a system kind.
func ErrProtectedKind(kind, action string) *ValidationError {
	return invalid("kind", "Can't %s default kind %s", action, kind)
}

// ErrEmptyKindName is returned when a kind name is empty or whitespace.
// subject names where the name was given, e.g. "new kind" or "kinds[2]".
func ErrEmptyKindName(subject string) *ValidationError {
	return invalid("name", "%s: kind name should not be empty", subject)
}

// ErrDuplicateKindName is returned when a kind name collides case-insensitively.
func ErrDuplicateKindName(name string) *ValidationError {
	return invalid("name", "kind %s already exists", name)
}

// ErrUnknownKind is returned when a kind name does not resolve.
func ErrUnknownKind(name string) *ValidationError {
	return invalid("kinds", "unknown membership kind %s", name)
}

// ErrNotAGroup is returned when a membership points at a non-group registrant.
func ErrNotAGroup(name string) *ValidationError {
	return invalid("group_id", "%s is not a group", name)
}

// ErrNotAnIndividual is returned when a membership points at a group as member.
func ErrNotAnIndividual(name string) *ValidationError {
	return invalid("individual_id", "%s is not an individual", name)
}

// ErrRequired is returned when a mandatory field is missing.
func ErrRequired(field string) *ValidationError {
	return invalid(field, "%s is required", field)
}

// ErrUnknownIndicator is returned when a recompute names indicators that do not exist.
func ErrUnknownIndicator(names []string) *ValidationError {
	return invalid("fields", "unknown indicators %s", strings.Join(names, ", "))
}
