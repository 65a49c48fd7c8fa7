package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInputRead is returned when a source cannot be read or decoded.
	ErrInputRead = errors.New("input read failure")

	// ErrFieldConversion is returned when a typed field cannot be parsed.
	ErrFieldConversion = errors.New("field conversion failure")

	// ErrWrite is returned when a table cannot be materialized.
	ErrWrite = errors.New("write failure")

	// ErrUnsupportedMode is returned for write modes other than overwrite.
	ErrUnsupportedMode = errors.New("unsupported write mode")

	// ErrRunNotFound is returned when a run report does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRunID is returned for run ids that are not UUIDs.
	ErrInvalidRunID = errors.New("invalid run id: must be a UUID")
)

// FieldConversionError describes a typed field that could not be parsed.
type FieldConversionError struct {
	Origin string // file or object the record came from
	Field  string
	Value  string
	Err    error
}

func (e *FieldConversionError) Error() string {
	if e.Origin == "" {
		return fmt.Sprintf("converting field %s value %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s: converting field %s value %q: %v", e.Origin, e.Field, e.Value, e.Err)
}

func (e *FieldConversionError) Unwrap() error {
	return e.Err
}

// Is makes every FieldConversionError match ErrFieldConversion.
func (e *FieldConversionError) Is(target error) bool {
	return target == ErrFieldConversion
}
