package application

import (
	"context"

	"github.com/google/uuid"
)

// RequestPasswordReset issues a reset token. Delivery of the returned value is the caller's job.
func (s *Service) RequestPasswordReset(ctx context.Context, identity uuid.UUID, meta RequestMeta) (IssuedResetToken, error) {
	return s.tokens.Issue(ctx, identity, meta, s.clock.Now())
}

// CompletePasswordReset burns the token and clears the failure counter. The caller
// performs the credential update for the returned identity.
func (s *Service) CompletePasswordReset(ctx context.Context, token string, meta RequestMeta) (uuid.UUID, error) {
	identity, err := s.tokens.Consume(ctx, token, meta, s.clock.Now())
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := s.guard.ResetFailures(ctx, identity, ResetSourcePasswordReset, meta); err != nil {
		return uuid.Nil, err
	}
	return identity, nil
}
