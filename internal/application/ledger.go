package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// AttemptLedger records login attempts and answers the per-IP sliding window check.
type AttemptLedger struct {
	attempts ports.AttemptRepository
	counter  ports.IPAttemptCounter
	metrics  ports.SecurityMetrics
	cfg      Config
}

// NewAttemptLedger wires the ledger. counter may be nil, in which case the repository
// answers rate-limit queries directly.
func NewAttemptLedger(attempts ports.AttemptRepository, counter ports.IPAttemptCounter, metrics ports.SecurityMetrics, cfg Config) *AttemptLedger {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &AttemptLedger{attempts: attempts, counter: counter, metrics: metrics, cfg: cfg.withDefaults()}
}

// Record appends one attempt.
func (l *AttemptLedger) Record(ctx context.Context, in AttemptInput, now time.Time) (domain.LoginAttempt, error) {
	ip, err := normalizeIP(in.IPAddress)
	if err != nil {
		return domain.LoginAttempt{}, err
	}
	if in.Succeeded {
		if in.FailureReason != "" {
			return domain.LoginAttempt{}, fmt.Errorf("%w: successful attempt cannot carry a failure reason", domain.ErrInvalidInput)
		}
	} else if !in.FailureReason.Valid() {
		return domain.LoginAttempt{}, fmt.Errorf("%w: unknown failure reason %q", domain.ErrInvalidInput, in.FailureReason)
	}

	attempt := domain.LoginAttempt{
		Identity:      in.Identity,
		IPAddress:     ip,
		UserAgent:     clampUserAgent(in.UserAgent),
		Succeeded:     in.Succeeded,
		FailureReason: in.FailureReason,
		OccurredAt:    now.UTC(),
	}

	opCtx, cancel := withTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()
	stored, err := l.attempts.Insert(opCtx, attempt)
	if err != nil {
		l.metrics.StorageFailure("attempt_ledger")
		appLogger("attempt_ledger").ErrorContext(ctx, "login attempt insert failed",
			"operation", "record_login_attempt",
			"outcome", "failure",
			"error_code", "STORAGE_FAILURE",
			"error", err,
		)
		return domain.LoginAttempt{}, storageError("insert login attempt", err)
	}
	if l.counter != nil {
		if err := l.counter.Track(opCtx, stored); err != nil {
			l.metrics.StorageFailure("attempt_window")
			return domain.LoginAttempt{}, storageError("track login attempt", err)
		}
	}
	return stored, nil
}

// CheckIPRateLimit reports whether ip is below the limit for the window (now-window, now].
func (l *AttemptLedger) CheckIPRateLimit(ctx context.Context, ip string, now time.Time) (bool, error) {
	normalized, err := normalizeIP(ip)
	if err != nil {
		return false, err
	}
	now = now.UTC()
	after := now.Add(-l.cfg.IPWindow)

	opCtx, cancel := withTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()
	var count int
	if l.counter != nil {
		count, err = l.counter.CountByIP(opCtx, normalized, after, now)
	} else {
		count, err = l.attempts.CountByIP(opCtx, normalized, after, now)
	}
	if err != nil {
		l.metrics.StorageFailure("attempt_ledger")
		return false, storageError("count attempts by ip", err)
	}
	return count < l.cfg.IPLimit, nil
}

// History returns an identity's attempts, newest first.
func (l *AttemptLedger) History(ctx context.Context, identity uuid.UUID, q LoginHistoryQuery, now time.Time) ([]domain.LoginAttempt, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > l.cfg.QueryMaxSize {
		limit = l.cfg.QueryMaxSize
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	query := ports.AttemptQuery{
		Succeeded: q.Succeeded,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}
	if q.Days > 0 {
		since := now.UTC().Add(-time.Duration(q.Days) * 24 * time.Hour)
		query.Since = &since
	}

	opCtx, cancel := withTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()
	rows, err := l.attempts.ListByIdentity(opCtx, identity, query)
	if err != nil {
		return nil, storageError("list login attempts", err)
	}
	return rows, nil
}
