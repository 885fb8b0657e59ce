// Package faults defines the error taxonomy shared by the services and the
// HTTP layer: validation failures are rejected before any write, missing
// entities map to 404, delivery failures stay internal to the mail queue.
package faults

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad input (unknown document type, unparsable
// date, malformed day list) before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// TransientDeliveryError wraps a mail collaborator failure. It is recovered
// by the job queue's retry counter and never surfaced as a hard failure.
type TransientDeliveryError struct {
	Err error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// ConfigParseError reports a malformed stored day-list or defaults row.
// Callers log it as a warning and fall back, never swallow it silently.
type ConfigParseError struct {
	Input  string
	Reason string
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("bad day list %q: %s", e.Input, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
