package errors

import (
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryState    Category = "state"
	CategoryProtocol Category = "protocol"
	CategoryStore    Category = "store"
	CategoryConfig   Category = "config"
	CategoryCLI      Category = "cli"
)

// TablesyncError is a structured error with an explanation and suggestions.
type TablesyncError struct {
	// Code is a unique error identifier (e.g., "E002").
	Code string

	// Category is the error type (state, protocol, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example shows the correct approach, for CLI output.
	Example string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *TablesyncError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		return msg + ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *TablesyncError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a TablesyncError with the same code.
func (e *TablesyncError) Is(target error) bool {
	t, ok := target.(*TablesyncError)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// WithSuggestion adds a fix suggestion to the error.
func (e *TablesyncError) WithSuggestion(s string) *TablesyncError {
	e.Suggestion = s
	return e
}

// WithExample adds an example to the error.
func (e *TablesyncError) WithExample(ex string) *TablesyncError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *TablesyncError) WithDetail(d string) *TablesyncError {
	e.Detail = d
	return e
}

// WithDetailf is WithDetail with formatting.
func (e *TablesyncError) WithDetailf(format string, args ...any) *TablesyncError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *TablesyncError) Wrap(err error) *TablesyncError {
	e.Wrapped = err
	return e
}

// New creates a TablesyncError from a registered error code.
func New(code string) *TablesyncError {
	template, ok := registry[code]
	if !ok {
		return &TablesyncError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &TablesyncError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates a new TablesyncError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *TablesyncError {
	return &TablesyncError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a TablesyncError.
func FromError(err error, code string) *TablesyncError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TablesyncError); ok {
		return te
	}
	return New(code).Wrap(err)
}

// HasCode reports whether err, or any error it wraps, is a TablesyncError
// with code.
func HasCode(err error, code string) bool {
	for err != nil {
		if te, ok := err.(*TablesyncError); ok && te.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
