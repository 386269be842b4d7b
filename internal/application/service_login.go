package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

// BeginLogin runs the guard before the caller checks the credential.
// A denied attempt is recorded in the ledger so it keeps counting toward the IP window.
func (s *Service) BeginLogin(ctx context.Context, req BeginLoginRequest) (domain.Decision, error) {
	now := s.clock.Now().UTC()
	lc := LoginContext{Identity: req.Identity, IPAddress: req.IPAddress, UserAgent: req.UserAgent}

	decision, err := s.guard.Evaluate(ctx, lc, now)
	if err != nil {
		return domain.Decision{}, err
	}
	if decision.Allowed {
		return decision, nil
	}

	if _, err := s.ledger.Record(ctx, AttemptInput{
		Identity:      req.Identity,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		FailureReason: decision.Reason.FailureReason(),
	}, now); err != nil {
		return domain.Decision{}, err
	}
	return decision, nil
}

// CompleteLogin records the credential check outcome of an allowed attempt and
// drives the account counter.
func (s *Service) CompleteLogin(ctx context.Context, req CompleteLoginRequest) (LoginOutcome, error) {
	now := s.clock.Now().UTC()
	meta := RequestMeta{IPAddress: req.IPAddress, UserAgent: req.UserAgent}

	reason := req.FailureReason
	if !req.Succeeded && reason == "" {
		reason = domain.FailureInvalidCredentials
		if req.Identity == nil {
			reason = domain.FailureUnknownIdentity
		}
	}
	if req.Succeeded && req.Identity == nil {
		return LoginOutcome{}, fmt.Errorf("%w: successful login requires an identity", domain.ErrInvalidInput)
	}

	attempt, err := s.ledger.Record(ctx, AttemptInput{
		Identity:      req.Identity,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		Succeeded:     req.Succeeded,
		FailureReason: reason,
	}, now)
	if err != nil {
		return LoginOutcome{}, err
	}
	out := LoginOutcome{Attempt: attempt}

	if req.Succeeded {
		identity := *req.Identity
		state, err := s.guard.ResetFailures(ctx, identity, ResetSourceLoginSuccess, meta)
		if err != nil {
			return LoginOutcome{}, err
		}
		out.State = &state
		if err := s.audit.emit(ctx, domain.EventLoginSuccess, &identity, meta, now, map[string]any{
			"attempt_id": attempt.ID,
		}); err != nil {
			return LoginOutcome{}, err
		}
		return out, nil
	}

	if err := s.audit.emit(ctx, domain.EventLoginFailure, req.Identity, meta, now, map[string]any{
		"reason":     string(reason),
		"attempt_id": attempt.ID,
	}); err != nil {
		return LoginOutcome{}, err
	}
	if req.Identity != nil && reason.CountsTowardLockout() {
		state, err := s.guard.RecordFailure(ctx, *req.Identity, meta, now)
		if err != nil {
			return LoginOutcome{}, err
		}
		out.State = &state
	}
	return out, nil
}

// IsLocked answers the lock question at the current clock time.
func (s *Service) IsLocked(ctx context.Context, identity uuid.UUID) (bool, error) {
	return s.guard.IsLocked(ctx, identity, s.clock.Now())
}

func (s *Service) LockStatus(ctx context.Context, identity uuid.UUID) (domain.AccountSecurityState, error) {
	if err := requireIdentity(ctx, s.identities, identity, s.cfg.OperationTimeout); err != nil {
		return domain.AccountSecurityState{}, err
	}
	return s.guard.State(ctx, identity, s.clock.Now())
}

// Unlock is the operator path out of a lock.
func (s *Service) Unlock(ctx context.Context, identity uuid.UUID, meta RequestMeta) (domain.AccountSecurityState, error) {
	return s.guard.ResetFailures(ctx, identity, ResetSourceAdminUnlock, meta)
}

func (s *Service) LoginHistory(ctx context.Context, identity uuid.UUID, q LoginHistoryQuery) ([]domain.LoginAttempt, error) {
	if err := requireIdentity(ctx, s.identities, identity, s.cfg.OperationTimeout); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, identity, q, s.clock.Now())
}
