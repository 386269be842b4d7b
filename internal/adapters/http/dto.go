package http

import (
	"math"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

func decisionDTO(d domain.Decision) map[string]any {
	out := map[string]any{
		"allowed":             d.Allowed,
		"retry_after_seconds": retryAfterSeconds(d.RetryAfter),
	}
	if !d.Allowed {
		out["reason"] = string(d.Reason)
	}
	return out
}

// stateDTO expects a state that already had lazy expiry applied.
func stateDTO(s domain.AccountSecurityState) map[string]any {
	out := map[string]any{
		"identity":             s.Identity,
		"failed_attempt_count": s.FailedAttemptCount,
		"locked":               s.LockedUntil != nil,
	}
	if s.LockedUntil != nil {
		out["locked_until"] = s.LockedUntil.UTC().Format(time.RFC3339)
	}
	if s.LastFailedAt != nil {
		out["last_failed_at"] = s.LastFailedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func attemptDTO(a domain.LoginAttempt) map[string]any {
	out := map[string]any{
		"id":          a.ID,
		"status":      a.Status(),
		"ip_address":  a.IPAddress,
		"user_agent":  a.UserAgent,
		"occurred_at": a.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if a.Identity != nil {
		out["identity"] = *a.Identity
	}
	if a.FailureReason != "" {
		out["failure_reason"] = string(a.FailureReason)
	}
	return out
}

func eventDTO(e domain.SecurityEvent) map[string]any {
	out := map[string]any{
		"id":          e.ID,
		"sequence":    e.Sequence,
		"event_type":  string(e.Type),
		"ip_address":  e.IPAddress,
		"user_agent":  e.UserAgent,
		"details":     e.Details,
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Identity != nil {
		out["identity"] = *e.Identity
	}
	return out
}

// retryAfterSeconds rounds up so clients never retry before the lock lifts.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
