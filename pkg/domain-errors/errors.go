// Package domainerrors carries machine-readable error codes from services to transports.
//
// Services return *Error values (or wrap infrastructure errors with Wrap) so the HTTP
// layer can map them to a status without inspecting error strings. Stores never return
// these directly; they return pkg/platform/sentinel errors which services translate.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier surfaced to API callers.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal_error"
	CodeUnavailable        Code = "unavailable"
	CodeInvariantViolation Code = "invariant_violation"

	// Node registry
	CodeInvalidType       Code = "invalid_type"
	CodeInvalidRegion     Code = "invalid_region"
	CodeMissingEndpoint   Code = "missing_endpoint"
	CodeInvalidTransition Code = "invalid_transition"

	// Consensus
	CodeInsufficientValidators Code = "insufficient_validators"

	// Audit chain
	CodeTamperDetected Code = "tamper_detected"

	// Constitutional gate. These codes are part of the public API and keep their
	// upper-case wire form.
	CodeConstitutionalBlock  Code = "CONSTITUTIONAL_BLOCK"
	CodeMultiPartyRequired   Code = "MULTI_PARTY_REQUIRED"
	CodeSelfApprovalReject   Code = "SELF_APPROVAL_REJECT"
	CodeRoleMismatch         Code = "ROLE_MISMATCH"
	CodeCollusionDetected    Code = "COLLUSION_DETECTED"
	CodeApprovalRateLimited  Code = "APPROVAL_RATE_LIMITED"
)

// Error is a coded domain error. Details are optional string attributes that the
// transport may surface alongside the code (e.g. the separation rule that blocked a call).
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// WithDetail returns the error with an extra detail attribute set.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// As extracts the outermost *Error from err.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the code of the outermost *Error, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// IsValidation reports whether the error is one the caller fixes by changing the request.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeBadRequest, CodeInvalidType, CodeInvalidRegion, CodeMissingEndpoint:
		return true
	}
	return false
}
