package domain

import (
	"errors"
	"fmt"
)

var ErrInvalid = errors.New("invalid input")

// ValidationError reports one offending record or field. Record is empty when
// the failure belongs to a request rather than a stored entry.
type ValidationError struct {
	Record string `json:"record,omitempty"`
	Field  string `json:"field"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Record != "" {
		return fmt.Sprintf("record %s: invalid %s %q: %s", e.Record, e.Field, e.Value, e.Reason)
	}
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func Invalid(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

func InvalidRecord(record, field, value, reason string) *ValidationError {
	return &ValidationError{Record: record, Field: field, Value: value, Reason: reason}
}
