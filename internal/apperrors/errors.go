// Package apperrors holds the error taxonomy shared by the schema, policy,
// model and service layers.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrSchemaMismatch   = errors.New("schema mismatch")
)

// NoRow marks an InputError that is not tied to a batch row.
const NoRow = -1

// InputError describes a single rejected value.
type InputError struct {
	Row   int
	Field string
	Rule  string
	Value string
}

func (e *InputError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvalidInput.Error())
	if e.Row != NoRow {
		fmt.Fprintf(&b, ": row %d", e.Row)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Rule != "" {
		fmt.Fprintf(&b, ": %s", e.Rule)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " (got %q)", e.Value)
	}
	return b.String()
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// Invalid builds an InputError for a single interactive request.
func Invalid(field, rule string, value any) *InputError {
	e := &InputError{Row: NoRow, Field: field, Rule: rule}
	if value != nil {
		e.Value = fmt.Sprint(value)
	}
	return e
}

// AtRow returns a copy of e bound to a batch row index.
func (e *InputError) AtRow(row int) *InputError {
	c := *e
	c.Row = row
	return &c
}

// SchemaError lists every column that kept a table from matching the schema.
type SchemaError struct {
	Missing    []string
	Unexpected []string
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing columns ["+strings.Join(e.Missing, ", ")+"]")
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected columns ["+strings.Join(e.Unexpected, ", ")+"]")
	}
	return ErrSchemaMismatch.Error() + ": " + strings.Join(parts, "; ")
}

func (e *SchemaError) Unwrap() error { return ErrSchemaMismatch }

// Unavailable wraps a load failure as ErrModelUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrModelUnavailable, op, err)
}
