package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func toLoginAttemptModel(a domain.LoginAttempt) loginAttemptModel {
	row := loginAttemptModel{
		IdentityID: a.Identity,
		IPAddress:  a.IPAddress,
		UserAgent:  a.UserAgent,
		Status:     a.Status(),
		OccurredAt: a.OccurredAt.UTC(),
	}
	if !a.Succeeded {
		row.FailureReason = nullableString(string(a.FailureReason))
	}
	return row
}

func toDomainLoginAttempt(row loginAttemptModel) domain.LoginAttempt {
	a := domain.LoginAttempt{
		ID:         row.ID,
		Identity:   row.IdentityID,
		IPAddress:  row.IPAddress,
		UserAgent:  row.UserAgent,
		Succeeded:  row.Status == domain.AttemptStatusSuccess,
		OccurredAt: row.OccurredAt.UTC(),
	}
	if row.FailureReason != nil {
		a.FailureReason = domain.FailureReason(*row.FailureReason)
	}
	return a
}

func toAccountStateModel(s domain.AccountSecurityState) accountSecurityStateModel {
	return accountSecurityStateModel{
		IdentityID:         s.Identity,
		FailedAttemptCount: s.FailedAttemptCount,
		LastFailedAt:       utcPtr(s.LastFailedAt),
		LockedUntil:        utcPtr(s.LockedUntil),
		Version:            s.Version,
		UpdatedAt:          s.UpdatedAt.UTC(),
	}
}

func toDomainAccountState(row accountSecurityStateModel) domain.AccountSecurityState {
	return domain.AccountSecurityState{
		Identity:           row.IdentityID,
		FailedAttemptCount: row.FailedAttemptCount,
		LastFailedAt:       utcPtr(row.LastFailedAt),
		LockedUntil:        utcPtr(row.LockedUntil),
		Version:            row.Version,
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
}

func toResetTokenModel(t domain.ResetToken) resetTokenModel {
	return resetTokenModel{
		TokenID:       t.ID,
		IdentityID:    t.Identity,
		TokenHash:     t.TokenHash,
		Status:        string(t.Status),
		IsUsed:        t.IsUsed(),
		RequestingIP:  nullableString(t.RequestingIP),
		CreatedAt:     t.CreatedAt.UTC(),
		ExpiresAt:     t.ExpiresAt.UTC(),
		UsedAt:        utcPtr(t.UsedAt),
		InvalidatedAt: utcPtr(t.InvalidatedAt),
	}
}

func toDomainResetToken(row resetTokenModel) domain.ResetToken {
	t := domain.ResetToken{
		ID:            row.TokenID,
		Identity:      row.IdentityID,
		TokenHash:     row.TokenHash,
		Status:        domain.ResetTokenStatus(row.Status),
		CreatedAt:     row.CreatedAt.UTC(),
		ExpiresAt:     row.ExpiresAt.UTC(),
		UsedAt:        utcPtr(row.UsedAt),
		InvalidatedAt: utcPtr(row.InvalidatedAt),
	}
	if row.RequestingIP != nil {
		t.RequestingIP = *row.RequestingIP
	}
	return t
}

func toSecurityEventModel(e domain.SecurityEvent) (securityEventModel, error) {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return securityEventModel{}, fmt.Errorf("%w: event details are not serializable: %v", domain.ErrInvalidInput, err)
	}
	return securityEventModel{
		EventID:    e.ID,
		IdentityID: e.Identity,
		EventType:  string(e.Type),
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Details:    datatypes.JSON(raw),
		OccurredAt: e.OccurredAt.UTC(),
	}, nil
}

func toDomainSecurityEvent(row securityEventModel) (domain.SecurityEvent, error) {
	details := map[string]any{}
	if len(row.Details) > 0 {
		if err := json.Unmarshal(row.Details, &details); err != nil {
			return domain.SecurityEvent{}, fmt.Errorf("decode details of event %d: %w", row.Sequence, err)
		}
	}
	return domain.SecurityEvent{
		ID:         row.EventID,
		Sequence:   row.Sequence,
		Identity:   row.IdentityID,
		Type:       domain.EventType(row.EventType),
		IPAddress:  row.IPAddress,
		UserAgent:  row.UserAgent,
		Details:    details,
		OccurredAt: row.OccurredAt.UTC(),
	}, nil
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
