package domain

import (
	"time"

	"github.com/google/uuid"
)

// FailureReason classifies a failed login attempt.
type FailureReason string

const (
	FailureInvalidCredentials FailureReason = "INVALID_CREDENTIALS"
	FailureUnknownIdentity    FailureReason = "UNKNOWN_IDENTITY"
	FailureAccountInactive    FailureReason = "ACCOUNT_INACTIVE"
	FailureRateLimited        FailureReason = "RATE_LIMITED"
	FailureAccountLocked      FailureReason = "ACCOUNT_LOCKED"
)

func (r FailureReason) Valid() bool {
	switch r {
	case FailureInvalidCredentials, FailureUnknownIdentity, FailureAccountInactive, FailureRateLimited, FailureAccountLocked:
		return true
	default:
		return false
	}
}

// CountsTowardLockout reports whether a failure of this kind increments the account counter.
// Guard denials (rate limited, locked) never count.
func (r FailureReason) CountsTowardLockout() bool {
	return r == FailureInvalidCredentials
}

const (
	AttemptStatusSuccess = "SUCCESS"
	AttemptStatusFailed  = "FAILED"
)

// LoginAttempt is an immutable ledger entry. Identity is nil when the login target is unknown.
type LoginAttempt struct {
	ID            int64
	Identity      *uuid.UUID
	IPAddress     string
	UserAgent     string
	Succeeded     bool
	FailureReason FailureReason
	OccurredAt    time.Time
}

func (a LoginAttempt) Status() string {
	if a.Succeeded {
		return AttemptStatusSuccess
	}
	return AttemptStatusFailed
}
