package provider

import (
	"errors"
	"fmt"

	"github.com/racehub/raceday-worker/internal/models"
)

// AuthError means the credential is invalid or expired. The partner/provider
// pair is circuit-broken for a cooldown.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError means the provider rejected the call for quota reasons.
// The item is deferred, not failed.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError covers network trouble and provider 5xx responses. The next
// cycle is the retry; no backoff state is kept.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DataError is a malformed record. Row-scoped: it rides in a page's RowErrors
// and never fails the sibling rows.
type DataError struct {
	Detail string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("malformed record (%s): %v", e.Detail, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// ErrorKind maps an adapter error onto the outcome taxonomy. Unrecognized
// errors count as transient.
func ErrorKind(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return models.ErrKindAuth
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return models.ErrKindRateLimit
	}
	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return models.ErrKindData
	}
	return models.ErrKindTransient
}
