package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// AccountGuard owns the per-account lockout state machine.
type AccountGuard struct {
	ledger     *AttemptLedger
	states     ports.AccountStateRepository
	identities ports.IdentityDirectory
	audit      *SecurityAuditLog
	clock      ports.Clock
	metrics    ports.SecurityMetrics
	cfg        Config
}

type AccountGuardDependencies struct {
	Ledger     *AttemptLedger
	States     ports.AccountStateRepository
	Identities ports.IdentityDirectory
	Audit      *SecurityAuditLog
	Clock      ports.Clock
	Metrics    ports.SecurityMetrics
	Config     Config
}

func NewAccountGuard(deps AccountGuardDependencies) *AccountGuard {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &AccountGuard{
		ledger:     deps.Ledger,
		states:     deps.States,
		identities: deps.Identities,
		audit:      deps.Audit,
		clock:      deps.Clock,
		metrics:    metrics,
		cfg:        deps.Config.withDefaults(),
	}
}

// Evaluate decides whether a login attempt may proceed. The IP window is checked before
// account state.
// Every denial is audited as LOGIN_FAILURE.
func (g *AccountGuard) Evaluate(ctx context.Context, lc LoginContext, now time.Time) (domain.Decision, error) {
	now = now.UTC()
	allowed, err := g.ledger.CheckIPRateLimit(ctx, lc.IPAddress, now)
	if err != nil {
		return domain.Decision{}, err
	}
	if !allowed {
		return g.deny(ctx, lc, domain.Deny(domain.DenyRateLimited, g.cfg.IPWindow), now)
	}
	if lc.Identity == nil {
		g.metrics.LoginDecision("allowed")
		return domain.Allow(), nil
	}

	state, err := g.get(ctx, *lc.Identity)
	if err != nil {
		return domain.Decision{}, err
	}
	if state.IsLocked(now) {
		return g.deny(ctx, lc, domain.Deny(domain.DenyAccountLocked, state.RetryAfter(now)), now)
	}
	if state.LockExpired(now) {
		if err := g.expireLock(ctx, *lc.Identity, lc.meta(), now); err != nil {
			return domain.Decision{}, err
		}
	}
	g.metrics.LoginDecision("allowed")
	return domain.Allow(), nil
}

func (g *AccountGuard) deny(ctx context.Context, lc LoginContext, decision domain.Decision, now time.Time) (domain.Decision, error) {
	g.metrics.LoginDecision(string(decision.Reason))
	appLogger("account_guard").WarnContext(ctx, "login attempt denied",
		"operation", "evaluate_login",
		"outcome", "denied",
		"reason", string(decision.Reason),
		"identity", identityString(lc.Identity),
		"ip_address", lc.IPAddress,
	)
	if err := g.audit.emit(ctx, domain.EventLoginFailure, lc.Identity, lc.meta(), now, map[string]any{
		"reason":              string(decision.Reason.FailureReason()),
		"retry_after_seconds": int64(decision.RetryAfter.Seconds()),
	}); err != nil {
		return domain.Decision{}, err
	}
	return decision, nil
}

// expireLock commits the lazy unlock. Only the caller whose mutation actually cleared the
// lock emits ACCOUNT_UNLOCK, so concurrent evaluations produce one event.
func (g *AccountGuard) expireLock(ctx context.Context, identity uuid.UUID, meta RequestMeta, now time.Time) error {
	var cleared bool
	var previous domain.AccountSecurityState
	opCtx, cancel := withTimeout(ctx, g.cfg.OperationTimeout)
	defer cancel()
	_, err := g.states.Update(opCtx, identity, func(s *domain.AccountSecurityState) error {
		previous = *s
		cleared = s.ExpireLock(now)
		return nil
	})
	if err != nil {
		g.metrics.StorageFailure("account_guard")
		return storageError("expire account lock", err)
	}
	if !cleared {
		return nil
	}
	return g.unlocked(ctx, identity, meta, now, "lock_expired", previous)
}

// RecordFailure counts one failed login for identity.
func (g *AccountGuard) RecordFailure(ctx context.Context, identity uuid.UUID, meta RequestMeta, now time.Time) (domain.AccountSecurityState, error) {
	now = now.UTC()
	if err := g.requireIdentity(ctx, identity); err != nil {
		return domain.AccountSecurityState{}, err
	}

	var outcome domain.FailureOutcome
	var previous domain.AccountSecurityState
	opCtx, cancel := withTimeout(ctx, g.cfg.OperationTimeout)
	defer cancel()
	state, err := g.states.Update(opCtx, identity, func(s *domain.AccountSecurityState) error {
		previous = *s
		outcome = s.RegisterFailure(now, g.cfg.Lockout)
		return nil
	})
	if err != nil {
		g.metrics.StorageFailure("account_guard")
		appLogger("account_guard").ErrorContext(ctx, "failure counter update failed",
			"operation", "record_failure",
			"outcome", "failure",
			"identity", identity.String(),
			"error_code", "STORAGE_FAILURE",
			"error", err,
		)
		return domain.AccountSecurityState{}, storageError("record login failure", err)
	}

	if outcome.ExpiredLock {
		if err := g.unlocked(ctx, identity, meta, now, "lock_expired", previous); err != nil {
			return domain.AccountSecurityState{}, err
		}
	}
	if outcome.Locked {
		g.metrics.AccountLocked()
		appLogger("account_guard").WarnContext(ctx, "account locked",
			"operation", "record_failure",
			"outcome", "locked",
			"identity", identity.String(),
			"failed_attempt_count", state.FailedAttemptCount,
			"locked_until", state.LockedUntil,
		)
		if err := g.audit.emit(ctx, domain.EventAccountLock, &identity, meta, now, map[string]any{
			"failed_attempt_count": state.FailedAttemptCount,
			"locked_until":         state.LockedUntil.UTC().Format(time.RFC3339Nano),
			"lockout_seconds":      int64(g.cfg.Lockout.Duration.Seconds()),
		}); err != nil {
			return domain.AccountSecurityState{}, err
		}
	}
	return state, nil
}

// ResetFailures returns identity to Active with a zero counter. ACCOUNT_UNLOCK is emitted
// only when a lock was actually cleared.
func (g *AccountGuard) ResetFailures(ctx context.Context, identity uuid.UUID, source ResetSource, meta RequestMeta) (domain.AccountSecurityState, error) {
	now := g.clock.Now().UTC()
	if err := g.requireIdentity(ctx, identity); err != nil {
		return domain.AccountSecurityState{}, err
	}

	var cleared bool
	var previous domain.AccountSecurityState
	opCtx, cancel := withTimeout(ctx, g.cfg.OperationTimeout)
	defer cancel()
	state, err := g.states.Update(opCtx, identity, func(s *domain.AccountSecurityState) error {
		previous = *s
		cleared = s.Reset(now)
		return nil
	})
	if err != nil {
		g.metrics.StorageFailure("account_guard")
		return domain.AccountSecurityState{}, storageError("reset login failures", err)
	}
	if cleared {
		if err := g.unlocked(ctx, identity, meta, now, string(source), previous); err != nil {
			return domain.AccountSecurityState{}, err
		}
	}
	return state, nil
}

// IsLocked is a read-only check honoring lazy expiry.
func (g *AccountGuard) IsLocked(ctx context.Context, identity uuid.UUID, now time.Time) (bool, error) {
	state, err := g.get(ctx, identity)
	if err != nil {
		return false, err
	}
	return state.IsLocked(now.UTC()), nil
}

// State returns the account state as it would read after lazy expiry, without writing it.
func (g *AccountGuard) State(ctx context.Context, identity uuid.UUID, now time.Time) (domain.AccountSecurityState, error) {
	state, err := g.get(ctx, identity)
	if err != nil {
		return domain.AccountSecurityState{}, err
	}
	return state.View(now.UTC()), nil
}

func (g *AccountGuard) get(ctx context.Context, identity uuid.UUID) (domain.AccountSecurityState, error) {
	opCtx, cancel := withTimeout(ctx, g.cfg.OperationTimeout)
	defer cancel()
	state, err := g.states.Get(opCtx, identity)
	if err != nil {
		g.metrics.StorageFailure("account_guard")
		return domain.AccountSecurityState{}, storageError("get account state", err)
	}
	return state, nil
}

func (g *AccountGuard) unlocked(ctx context.Context, identity uuid.UUID, meta RequestMeta, now time.Time, source string, previous domain.AccountSecurityState) error {
	g.metrics.AccountUnlocked(source)
	appLogger("account_guard").InfoContext(ctx, "account unlocked",
		"operation", "unlock_account",
		"outcome", "success",
		"identity", identity.String(),
		"source", source,
	)
	details := map[string]any{
		"source":                        source,
		"previous_failed_attempt_count": previous.FailedAttemptCount,
	}
	if previous.LockedUntil != nil {
		details["previous_locked_until"] = previous.LockedUntil.UTC().Format(time.RFC3339Nano)
	}
	return g.audit.emit(ctx, domain.EventAccountUnlock, &identity, meta, now, details)
}

func (g *AccountGuard) requireIdentity(ctx context.Context, identity uuid.UUID) error {
	return requireIdentity(ctx, g.identities, identity, g.cfg.OperationTimeout)
}

func requireIdentity(ctx context.Context, dir ports.IdentityDirectory, identity uuid.UUID, timeout time.Duration) error {
	if identity == uuid.Nil {
		return domain.ErrIdentityNotFound
	}
	opCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	ok, err := dir.Exists(opCtx, identity)
	if err != nil {
		return storageError("lookup identity", err)
	}
	if !ok {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func identityString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
