package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15
	CodeBlocked       Code = 16
	CodeValidation    Code = 17
)

var codeTypes = map[Code]string{
	CodeInternal:      "internal_error",
	CodeUsage:         "usage_error",
	CodeAuth:          "auth_error",
	CodeRateLimited:   "rate_limited",
	CodeUnavailable:   "unavailable",
	CodeUnsupported:   "unsupported",
	CodeStale:         "stale_data",
	CodePartialStrict: "partial_results",
	CodeBlocked:       "command_blocked",
	CodeValidation:    "submission_blocked",
}

// Type returns the machine-readable name rendered in error envelopes.
func (c Code) Type() string {
	if name, ok := codeTypes[c]; ok {
		return name
	}
	return "internal_error"
}

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Retryable reports whether a provider error is worth another attempt on the
// next refresh cycle.
func Retryable(err error) bool {
	cliErr, ok := As(err)
	if !ok {
		return false
	}
	switch cliErr.Code {
	case CodeUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
