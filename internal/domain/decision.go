package domain

import "time"

type DenyReason string

const (
	DenyRateLimited   DenyReason = "RATE_LIMITED"
	DenyAccountLocked DenyReason = "ACCOUNT_LOCKED"
)

// FailureReason maps a denial to the ledger classification.
func (r DenyReason) FailureReason() FailureReason {
	if r == DenyRateLimited {
		return FailureRateLimited
	}
	return FailureAccountLocked
}

// Decision is the typed result of a guard evaluation. Denials are expected outcomes, not errors.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	RetryAfter time.Duration
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason DenyReason, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

// Err returns the sentinel matching a denial, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == DenyRateLimited {
		return ErrRateLimited
	}
	return ErrAccountLocked
}
