// Package domainerrors carries coded errors across service boundaries.
//
// Services convert store sentinels and collaborator failures into an *Error
// with a Code; transports translate the Code into a status. The domain
// taxonomy (proof_invalid, duplicate_registration, ...) lives alongside the
// generic codes so callers can branch with HasCode without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest    Code = "bad_request"
	CodeInvalidInput  Code = "invalid_input"
	CodeValidation    Code = "validation"
	CodeNotFound      Code = "not_found"
	CodeConflict      Code = "conflict"
	CodeInvalidState  Code = "invalid_state"
	CodeUnavailable   Code = "unavailable"
	CodeInternal      Code = "internal"
	CodeUnauthorized  Code = "unauthorized"
	CodeForbidden     Code = "forbidden"
	CodeProofInvalid  Code = "proof_invalid"
	CodeDuplicate     Code = "duplicate_registration"
	CodeNoQuorum      Code = "validator_quorum_unavailable"
	CodeUnreachable   Code = "platform_unreachable"
	CodeDeadlineEnded Code = "deadline_expired"
)

// Error is a coded domain error. Message is safe to show to callers unless
// the code is CodeInternal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a coded error without an underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.Err
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
