package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/events"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// SecurityEventRepository keeps events sorted by (occurred_at, sequence). When an outbox
// is attached, every append also enqueues the serialized event.
type SecurityEventRepository struct {
	mu     sync.RWMutex
	seq    int64
	events []domain.SecurityEvent
	outbox ports.OutboxRepository
}

func NewSecurityEventRepository(outbox ports.OutboxRepository) *SecurityEventRepository {
	return &SecurityEventRepository{outbox: outbox}
}

func (r *SecurityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) (domain.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return domain.SecurityEvent{}, err
	}

	r.seq++
	event.Sequence = r.seq
	event.Details = cloneDetails(event.Details)

	if r.outbox != nil {
		envelope, err := events.NewOutboxEvent(event)
		if err != nil {
			r.seq--
			return domain.SecurityEvent{}, err
		}
		if err := r.outbox.Enqueue(ctx, envelope); err != nil {
			r.seq--
			return domain.SecurityEvent{}, err
		}
	}

	idx := sort.Search(len(r.events), func(i int) bool {
		return event.OccurredAt.Before(r.events[i].OccurredAt)
	})
	r.events = append(r.events, domain.SecurityEvent{})
	copy(r.events[idx+1:], r.events[idx:])
	r.events[idx] = event
	return event, nil
}

func (r *SecurityEventRepository) Query(_ context.Context, filter domain.EventFilter, after *domain.EventCursor, limit int) ([]domain.SecurityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SecurityEvent, 0)
	for _, e := range r.events {
		if after != nil && !after.After(e) {
			continue
		}
		if !filter.Matches(e) {
			continue
		}
		e.Details = cloneDetails(e.Details)
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func cloneDetails(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
