package apierr

import (
	"errors"
	"fmt"
)

// Error is the typed error handlers return. The envelope middleware converts
// it into the wire-format error envelope; anything that is not an *Error is
// surfaced as INTERNAL_ERROR.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a typed error with optional detail context.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Details: map[string]interface{}{}}
}

// Newf creates a typed error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// With attaches a detail field and returns the error for chaining.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the canonical status for this error's code.
func (e *Error) HTTPStatus() int {
	return Lookup(e.Code).HTTPStatus
}

// Category returns the taxonomy category for this error's code.
func (e *Error) Category() Category {
	return Lookup(e.Code).Category
}

// From extracts a typed error from an error chain, or wraps unknown errors
// as INTERNAL_ERROR.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(CodeInternalError, "an unexpected error occurred")
}

// NotFound builds the canonical not-found error for a resource kind.
func NotFound(kind, id string) *Error {
	code := CodeNotFound
	switch kind {
	case "account":
		code = CodeAccountNotFound
	case "transfer":
		code = CodeTransferNotFound
	case "simulation":
		code = CodeSimulationNotFound
	case "mandate":
		code = CodeMandateNotFound
	case "checkout":
		code = CodeCheckoutNotFound
	case "agent":
		code = CodeAgentNotFound
	case "refund":
		code = CodeRefundNotFound
	case "batch":
		code = CodeBatchNotFound
	case "tenant":
		code = CodeTenantNotFound
	}
	return Newf(code, "%s %s not found", kind, id).With(kind+"_id", id)
}

// Validation builds a field-level validation error.
func Validation(field, reason string) *Error {
	return Newf(CodeValidationError, "invalid %s: %s", field, reason).
		With("field", field).With("reason", reason)
}
