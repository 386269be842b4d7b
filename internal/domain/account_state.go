package domain

import (
	"time"

	"github.com/google/uuid"
)

// LockoutPolicy controls the per-account failure counter.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
	// FreezeWhileLocked stops the counter while a lock is active. When false,
	// failures during a lock increment the counter and push locked_until forward.
	FreezeWhileLocked bool
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold:         5,
		Duration:          30 * time.Minute,
		FreezeWhileLocked: true,
	}
}

// AccountSecurityState is the lockout record for one identity.
// LockedUntil is set exactly when FailedAttemptCount reached the threshold at the last evaluation.
type AccountSecurityState struct {
	Identity           uuid.UUID
	FailedAttemptCount int
	LastFailedAt       *time.Time
	LockedUntil        *time.Time
	Version            int64
	UpdatedAt          time.Time
}

// NewAccountSecurityState returns the lazily created Active state.
func NewAccountSecurityState(identity uuid.UUID) AccountSecurityState {
	return AccountSecurityState{Identity: identity}
}

// IsLocked is true while now < locked_until.
func (s AccountSecurityState) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// LockExpired is true when a lock is still stored but no longer in force.
func (s AccountSecurityState) LockExpired(now time.Time) bool {
	return s.LockedUntil != nil && !now.Before(*s.LockedUntil)
}

// RetryAfter returns the remaining lock time, or zero when Active.
func (s AccountSecurityState) RetryAfter(now time.Time) time.Duration {
	if !s.IsLocked(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// ExpireLock applies the lazy Locked -> Active transition. It reports whether the state changed.
func (s *AccountSecurityState) ExpireLock(now time.Time) bool {
	if !s.LockExpired(now) {
		return false
	}
	s.FailedAttemptCount = 0
	s.LockedUntil = nil
	s.UpdatedAt = now
	return true
}

// FailureOutcome describes what RegisterFailure did to the state.
type FailureOutcome struct {
	ExpiredLock bool
	Locked      bool
	Frozen      bool
}

// RegisterFailure counts one failed login and applies the lock transition.
func (s *AccountSecurityState) RegisterFailure(now time.Time, policy LockoutPolicy) FailureOutcome {
	out := FailureOutcome{ExpiredLock: s.ExpireLock(now)}

	if s.IsLocked(now) {
		if policy.FreezeWhileLocked {
			out.Frozen = true
			return out
		}
		s.FailedAttemptCount++
		s.LastFailedAt = timePtr(now)
		s.LockedUntil = timePtr(now.Add(policy.Duration))
		s.UpdatedAt = now
		return out
	}

	s.FailedAttemptCount++
	s.LastFailedAt = timePtr(now)
	s.UpdatedAt = now
	if s.FailedAttemptCount >= policy.Threshold {
		s.LockedUntil = timePtr(now.Add(policy.Duration))
		out.Locked = true
	}
	return out
}

// Reset zeroes the counter and clears any stored lock. It reports whether a lock was cleared.
func (s *AccountSecurityState) Reset(now time.Time) bool {
	wasLocked := s.LockedUntil != nil
	s.FailedAttemptCount = 0
	s.LockedUntil = nil
	s.UpdatedAt = now
	return wasLocked
}

// View returns a copy with lazy expiry applied, for read-only callers.
func (s AccountSecurityState) View(now time.Time) AccountSecurityState {
	out := s
	out.ExpireLock(now)
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
