package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

type OutboxRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*ports.OutboxRecord
	nowFn   func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		records: make(map[uuid.UUID]*ports.OutboxRecord),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[event.EventID]; exists {
		return fmt.Errorf("outbox record %s already exists", event.EventID)
	}
	r.records[event.EventID] = &ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		CreatedAt:    event.OccurredAt,
	}
	return nil
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	candidates := make([]*ports.OutboxRecord, 0)
	for _, rec := range r.records {
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && !rec.ClaimUntil.Before(now) {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]ports.OutboxRecord, 0, len(candidates))
	for _, rec := range candidates {
		token := claimToken
		until := claimUntil
		rec.ClaimToken = &token
		rec.ClaimUntil = &until
		out = append(out, *rec)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.release(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.PublishedAt = &at
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.release(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.release(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
		rec.DeadLetteredAt = &at
	})
}

// Snapshot returns a copy of every record, oldest first.
func (r *OutboxRepository) Snapshot() []ports.OutboxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *OutboxRepository) release(outboxID uuid.UUID, claimToken string, apply func(*ports.OutboxRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[outboxID]
	if !ok || rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
		return nil
	}
	apply(rec)
	rec.ClaimToken = nil
	rec.ClaimUntil = nil
	return nil
}
