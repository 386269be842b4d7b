package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited signals that the source IP exceeded the sliding attempt window.
	// Denials carry this through Decision.Err so adapters map it consistently to 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked signals temporary lockout after repeated failed attempts.
	// Callers get the same response whether or not the credential was correct.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenNotFound is returned when no reset token matches the presented value.
	ErrTokenNotFound = errors.New("reset token not found")
	// ErrTokenExpired is returned when the reset token is past expires_at.
	ErrTokenExpired = errors.New("reset token expired")
	// ErrTokenAlreadyUsed is returned for consumed and superseded tokens alike.
	ErrTokenAlreadyUsed = errors.New("reset token already used")
	// ErrTokenInvalidated marks a token superseded by a newer issue for the same identity.
	// It wraps ErrTokenAlreadyUsed so callers that only care about "used" keep working.
	ErrTokenInvalidated = fmt.Errorf("%w: superseded by a newer token", ErrTokenAlreadyUsed)
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrStorageFailure wraps every backing-store error.
	// It is always propagated to the caller.
	ErrStorageFailure = errors.New("storage failure")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
)

// IsTokenError reports whether err is one of the reset-token outcomes that adapters collapse
// into a single "invalid or expired" response.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenAlreadyUsed)
}
