package application

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

// RecordAccountChange audits a credential or profile change performed outside the core.
func (s *Service) RecordAccountChange(ctx context.Context, identity uuid.UUID, eventType domain.EventType, meta RequestMeta, details map[string]any) (domain.SecurityEvent, error) {
	if !eventType.IsAccountChange() {
		return domain.SecurityEvent{}, fmt.Errorf("%w: %q is not an account change event", domain.ErrInvalidInput, eventType)
	}
	if err := requireIdentity(ctx, s.identities, identity, s.cfg.OperationTimeout); err != nil {
		return domain.SecurityEvent{}, err
	}
	if details == nil {
		details = map[string]any{"source": "user_initiated"}
	}
	return s.audit.Append(ctx, domain.SecurityEvent{
		Identity:   &identity,
		Type:       eventType,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		Details:    details,
		OccurredAt: s.clock.Now(),
	})
}

func (s *Service) Events(ctx context.Context, filter domain.EventFilter, page Page) (EventPage, error) {
	return s.audit.Query(ctx, filter, page)
}

func (s *Service) StreamEvents(ctx context.Context, filter domain.EventFilter, pageSize int) iter.Seq2[domain.SecurityEvent, error] {
	return s.audit.Stream(ctx, filter, pageSize)
}
