package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// ResetTokenStore manages the password reset token lifecycle.
type ResetTokenStore struct {
	tokens     ports.ResetTokenRepository
	identities ports.IdentityDirectory
	generator  ports.TokenGenerator
	hasher     ports.TokenHasher
	audit      *SecurityAuditLog
	metrics    ports.SecurityMetrics
	cfg        Config
}

type ResetTokenStoreDependencies struct {
	Tokens     ports.ResetTokenRepository
	Identities ports.IdentityDirectory
	Generator  ports.TokenGenerator
	Hasher     ports.TokenHasher
	Audit      *SecurityAuditLog
	Metrics    ports.SecurityMetrics
	Config     Config
}

func NewResetTokenStore(deps ResetTokenStoreDependencies) *ResetTokenStore {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &ResetTokenStore{
		tokens:     deps.Tokens,
		identities: deps.Identities,
		generator:  deps.Generator,
		hasher:     deps.Hasher,
		audit:      deps.Audit,
		metrics:    metrics,
		cfg:        deps.Config.withDefaults(),
	}
}

// Issue creates a fresh token for identity and supersedes any active one.
// The raw value is only ever returned here.
func (s *ResetTokenStore) Issue(ctx context.Context, identity uuid.UUID, meta RequestMeta, now time.Time) (IssuedResetToken, error) {
	now = now.UTC()
	if err := requireIdentity(ctx, s.identities, identity, s.cfg.OperationTimeout); err != nil {
		return IssuedResetToken{}, err
	}

	raw, err := s.generator.Generate()
	if err != nil {
		return IssuedResetToken{}, storageError("generate reset token", err)
	}
	token := domain.ResetToken{
		ID:           uuid.New(),
		Identity:     identity,
		TokenHash:    s.hasher.Hash(raw),
		Status:       domain.ResetTokenActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.ResetTokenTTL),
		RequestingIP: meta.IPAddress,
	}

	opCtx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	invalidated, err := s.tokens.Issue(opCtx, token)
	if err != nil {
		s.metrics.StorageFailure("reset_tokens")
		appLogger("reset_tokens").ErrorContext(ctx, "reset token issue failed",
			"operation", "issue_reset_token",
			"outcome", "failure",
			"identity", identity.String(),
			"error_code", "STORAGE_FAILURE",
			"error", err,
		)
		return IssuedResetToken{}, storageError("issue reset token", err)
	}
	s.metrics.ResetTokenIssued()

	if err := s.audit.emit(ctx, domain.EventResetRequest, &identity, meta, now, map[string]any{
		"token_id":           token.ID.String(),
		"expires_at":         token.ExpiresAt.Format(time.RFC3339Nano),
		"invalidated_tokens": invalidated,
	}); err != nil {
		return IssuedResetToken{}, err
	}

	return IssuedResetToken{
		TokenID:   token.ID,
		Identity:  identity,
		Token:     raw,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Consume validates and burns a token, returning its identity.
// Failures are one of ErrTokenNotFound, ErrTokenExpired or ErrTokenAlreadyUsed (ErrTokenInvalidated
// for superseded tokens).
func (s *ResetTokenStore) Consume(ctx context.Context, value string, meta RequestMeta, now time.Time) (uuid.UUID, error) {
	now = now.UTC()
	value = strings.TrimSpace(value)
	if value == "" {
		s.metrics.ResetTokenConsumed("not_found")
		return uuid.Nil, domain.ErrTokenNotFound
	}
	hash := s.hasher.Hash(value)

	opCtx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	// Lookup is by keyed fingerprint, so the raw value never meets a variable-time compare.
	token, err := s.tokens.Update(opCtx, hash, func(t *domain.ResetToken) error {
		return t.Consume(now)
	})
	if err != nil {
		result := consumeResult(err)
		s.metrics.ResetTokenConsumed(result)
		if result == "storage_failure" {
			s.metrics.StorageFailure("reset_tokens")
			return uuid.Nil, storageError("consume reset token", err)
		}
		appLogger("reset_tokens").WarnContext(ctx, "reset token rejected",
			"operation", "consume_reset_token",
			"outcome", "failure",
			"reason", result,
			"ip_address", meta.IPAddress,
		)
		return uuid.Nil, err
	}
	s.metrics.ResetTokenConsumed("consumed")

	if err := s.audit.emit(ctx, domain.EventResetComplete, &token.Identity, meta, now, map[string]any{
		"token_id": token.ID.String(),
	}); err != nil {
		return uuid.Nil, err
	}
	return token.Identity, nil
}

// Tokens lists an identity's tokens without their hashes.
func (s *ResetTokenStore) Tokens(ctx context.Context, identity uuid.UUID) ([]domain.ResetToken, error) {
	opCtx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	rows, err := s.tokens.ListByIdentity(opCtx, identity)
	if err != nil {
		return nil, storageError("list reset tokens", err)
	}
	for i := range rows {
		rows[i].TokenHash = ""
	}
	return rows, nil
}

func consumeResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, domain.ErrTokenInvalidated):
		return "invalidated"
	case errors.Is(err, domain.ErrTokenAlreadyUsed):
		return "already_used"
	default:
		return "storage_failure"
	}
}
