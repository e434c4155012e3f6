package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kbukum/flowkit/errors"
)

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Checks accumulates failures for values that carry no struct tags, such
// as request fields.
//
//	err := validation.NewChecks().Require("text", req.Text).MaxRunes("text", req.Text, 4096).Err()
type Checks struct {
	fields []FieldError
}

// NewChecks starts an empty set of checks.
func NewChecks() *Checks { return &Checks{} }

// Require fails when value is blank.
func (c *Checks) Require(field, value string) *Checks {
	return c.Check(field, strings.TrimSpace(value) != "", "is required")
}

// MaxRunes fails when value has more than n runes.
func (c *Checks) MaxRunes(field, value string, n int) *Checks {
	return c.Check(field, utf8.RuneCountInString(value) <= n, fmt.Sprintf("must be %d characters or less", n))
}

// Check fails with message when ok is false.
func (c *Checks) Check(field string, ok bool, message string) *Checks {
	if !ok {
		c.fields = append(c.fields, FieldError{Field: field, Message: message})
	}
	return c
}

// Fields returns the failures so far.
func (c *Checks) Fields() []FieldError { return c.fields }

// Err returns nil when every check passed.
func (c *Checks) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return fieldsError(c.fields)
}

// fieldsError folds failures into one INVALID_INPUT error with the
// breakdown under Details["fields"].
func fieldsError(fields []FieldError) *errors.AppError {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return errors.Validation(strings.Join(parts, "; ")).WithDetail("fields", fields)
}
