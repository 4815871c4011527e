package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // actions failed or the remote is unreachable
	ExitCommandError = 2 // bad config, storage errors, bad arguments
)

// ExitError carries a process exit code alongside an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// response is the JSON envelope for --format json.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// printer writes command output as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

// data writes v as the JSON envelope, or calls text for human output.
func (p printer) data(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(response{Status: "ok", Data: v})
	}
	text(p.w)
	return nil
}
