// Package core provides the shared types and error values of the cast client.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeConfiguration indicates bad or conflicting credentials/configuration.
	// Returned at construction time and never recovered.
	ErrorTypeConfiguration ErrorType = "configuration_error"
	// ErrorTypeValidation indicates the caller supplied an invalid request shape.
	// Returned before any network I/O.
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeTransport indicates a network failure, a non-2xx response or an unparseable body
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeSchemaMismatch indicates the service response did not match the expected envelope
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch_error"
	// ErrorTypeChannel indicates a push channel failure or a malformed channel message
	ErrorTypeChannel ErrorType = "channel_error"
	// ErrorTypeTimeout indicates the push channel produced no terminal message in time
	ErrorTypeTimeout ErrorType = "timeout_error"
	// ErrorTypeInternal indicates a stored request result could not be decoded
	ErrorTypeInternal ErrorType = "internal_error"
)

// Error is the uniform error value returned by every client operation.
// Its JSON form is {"error": "<message>", "isError": true}.
type Error struct {
	Type    ErrorType `json:"-"`
	Message string    `json:"error"`
	// StatusCode is the HTTP status of the failed response (0 when no response was received)
	StatusCode int `json:"-"`
	// Original error for debugging (not part of the JSON form)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error in its wire form.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// ToJSON converts the error to a JSON-compatible map
func (e *Error) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error":   e.Message,
		"isError": true,
	}
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string) *Error {
	return &Error{Type: ErrorTypeConfiguration, Message: message}
}

// NewValidationError creates a new request validation error
func NewValidationError(message string) *Error {
	return &Error{Type: ErrorTypeValidation, Message: message}
}

// NewTransportError creates a new transport error
func NewTransportError(statusCode int, message string, err error) *Error {
	return &Error{
		Type:       ErrorTypeTransport,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewSchemaMismatchError creates a new schema mismatch error
func NewSchemaMismatchError(message string) *Error {
	return &Error{Type: ErrorTypeSchemaMismatch, Message: message}
}

// NewChannelError creates a new push channel error
func NewChannelError(message string, err error) *Error {
	return &Error{Type: ErrorTypeChannel, Message: message, Err: err}
}

// NewTimeoutError creates a new push channel timeout error
func NewTimeoutError(message string) *Error {
	return &Error{Type: ErrorTypeTimeout, Message: message}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *Error {
	return &Error{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the ErrorType of err, or "" when err is not an *Error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return TypeOf(err) == ErrorTypeConfiguration }

// IsValidation reports whether err is a request validation error.
func IsValidation(err error) bool { return TypeOf(err) == ErrorTypeValidation }

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return TypeOf(err) == ErrorTypeTransport }

// IsSchemaMismatch reports whether err is a schema mismatch error.
func IsSchemaMismatch(err error) bool { return TypeOf(err) == ErrorTypeSchemaMismatch }

// IsChannel reports whether err is a push channel error (including timeouts).
func IsChannel(err error) bool {
	t := TypeOf(err)
	return t == ErrorTypeChannel || t == ErrorTypeTimeout
}

// IsTimeout reports whether err is a push channel timeout.
func IsTimeout(err error) bool { return TypeOf(err) == ErrorTypeTimeout }

// IsInternal reports whether err is an internal (stored result) error.
func IsInternal(err error) bool { return TypeOf(err) == ErrorTypeInternal }

// MessageFromError extracts a human-readable message from an arbitrary error value.
func MessageFromError(err error) string {
	if err == nil {
		return "unknown error"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
