package cli

import (
	"errors"
	"fmt"
	"io"

	"nuacast/internal/core"
)

// Exit codes returned by the nuacast binary.
const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitConfig         = 3
	ExitValidation     = 4
	ExitTransport      = 5
	ExitSchemaMismatch = 6
	ExitChannel        = 7
	ExitTimeout        = 8
)

// ExitError is an error that carries an exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

func newExitError(code int, msg string, cause error) *ExitError {
	return &ExitError{Code: code, Message: msg, Cause: cause}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch core.TypeOf(err) {
	case core.ErrorTypeConfiguration:
		return ExitConfig
	case core.ErrorTypeValidation:
		return ExitValidation
	case core.ErrorTypeTransport:
		return ExitTransport
	case core.ErrorTypeSchemaMismatch, core.ErrorTypeInternal:
		return ExitSchemaMismatch
	case core.ErrorTypeChannel:
		return ExitChannel
	case core.ErrorTypeTimeout:
		return ExitTimeout
	}
	return ExitFailure
}

// PrintError writes err to w and returns its exit code.
func PrintError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		fmt.Fprintf(w, "Error (%s): %s\n", ce.Type, ce.Message)
	} else {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	return ExitCode(err)
}
