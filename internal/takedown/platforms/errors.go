package platforms

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy of platform calls.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorOutage         ErrorCategory = "platform_outage"
	ErrorNotFound       ErrorCategory = "not_found"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorUnreachable    ErrorCategory = "unreachable"
	ErrorInternal       ErrorCategory = "internal"
)

// PlatformError wraps a platform failure with its category. Adapters return
// only this type, never raw transport errors.
type PlatformError struct {
	Category   ErrorCategory
	PlatformID string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *PlatformError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("platform %s [%s]: %s: %v", e.PlatformID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("platform %s [%s]: %s", e.PlatformID, e.Category, e.Message)
}

func (e *PlatformError) Unwrap() error {
	return e.Underlying
}

// NewPlatformError builds a PlatformError. Timeouts, outages, rate limits
// and unreachable hosts are retryable.
func NewPlatformError(category ErrorCategory, platformID, message string, underlying error) *PlatformError {
	retryable := category == ErrorTimeout ||
		category == ErrorOutage ||
		category == ErrorRateLimited ||
		category == ErrorUnreachable

	return &PlatformError{
		Category:   category,
		PlatformID: platformID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

func IsRetryable(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the category of err, defaulting to internal.
func GetCategory(err error) ErrorCategory {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

var (
	ErrPlatformNotFound   = errors.New("platform not found")
	ErrPlatformRegistered = errors.New("platform already registered")
)
