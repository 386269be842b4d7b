package domain

import (
	"time"

	"github.com/google/uuid"
)

type ResetTokenStatus string

const (
	ResetTokenActive      ResetTokenStatus = "ACTIVE"
	ResetTokenConsumed    ResetTokenStatus = "CONSUMED"
	ResetTokenInvalidated ResetTokenStatus = "INVALIDATED"
)

// ResetToken is a single-use password reset credential. Only TokenHash is stored;
// the raw value leaves the core once, from Issue.
type ResetToken struct {
	ID            uuid.UUID
	Identity      uuid.UUID
	TokenHash     string
	Status        ResetTokenStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
	InvalidatedAt *time.Time
	RequestingIP  string
}

// IsUsed backs the is_used column: true for consumed and invalidated tokens.
func (t ResetToken) IsUsed() bool {
	return t.Status != ResetTokenActive
}

// IsActive is true for an unused token with now <= expires_at.
func (t ResetToken) IsActive(now time.Time) bool {
	return t.Status == ResetTokenActive && !now.After(t.ExpiresAt)
}

// Invalidate supersedes an active token. used_at stays empty so audits can tell it from a consumption.
func (t *ResetToken) Invalidate(now time.Time) bool {
	if !t.IsActive(now) {
		return false
	}
	t.Status = ResetTokenInvalidated
	t.InvalidatedAt = &now
	return true
}

// Consume marks the token used. Expiry is checked before the used flag.
func (t *ResetToken) Consume(now time.Time) error {
	if now.After(t.ExpiresAt) {
		return ErrTokenExpired
	}
	switch t.Status {
	case ResetTokenConsumed:
		return ErrTokenAlreadyUsed
	case ResetTokenInvalidated:
		return ErrTokenInvalidated
	}
	t.Status = ResetTokenConsumed
	t.UsedAt = &now
	return nil
}
