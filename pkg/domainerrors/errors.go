// Package domainerrors provides coded errors for the public contract.
//
// Services return these so transports can translate them into structured
// response envelopes without string matching. Infrastructure facts (not
// found, conflict) live in pkg/sentinel; this package is for request-level
// failures that callers can act on.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure for the caller. The taxonomy follows the error
// handling design: validation, governance, cryptographic, state, and
// transformation failures are remediated differently and must stay distinct.
type Code string

const (
	CodeValidation     Code = "validation_error"
	CodeGovernance     Code = "governance_blocked"
	CodeCryptographic  Code = "cryptographic_error"
	CodeIntegrity      Code = "integrity_error"
	CodeState          Code = "state_error"
	CodeTransformation Code = "transformation_error"
	CodeNotFound       Code = "not_found"
	CodeInternal       Code = "internal_error"
)

// Error carries a code, a human-readable message, and optionally the field
// the failure is about (validation errors are field-precise).
type Error struct {
	Code    Code
	Message string
	Field   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewField builds a validation-style error scoped to a named request field.
func NewField(code Code, field, message string) *Error {
	return &Error{Code: code, Message: message, Field: field}
}

// CodeOf extracts the code from an error, unwrapping as needed, or
// CodeInternal when the error is not a coded domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
