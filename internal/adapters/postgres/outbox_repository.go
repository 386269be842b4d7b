package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
	"gorm.io/gorm"
)

type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) Enqueue(ctx context.Context, event ports.OutboxEvent) error {
	rec := securityOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      string(event.Payload),
		CreatedAt:    event.OccurredAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

const claimPendingSQL = `
WITH pending AS (
    SELECT outbox_id FROM security_outbox
    WHERE published_at IS NULL
      AND dead_lettered_at IS NULL
      AND (claim_until IS NULL OR claim_until < ?)
    ORDER BY created_at ASC
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
UPDATE security_outbox o
SET claim_token = ?, claim_until = ?
FROM pending
WHERE o.outbox_id = pending.outbox_id
RETURNING o.*`

// ClaimUnpublished leases up to limit rows to claimToken in one statement. Rows held
// by another relay are skipped, not waited on.
func (r *outboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}

	var rows []securityOutboxModel
	err := r.db.WithContext(ctx).
		Raw(claimPendingSQL, time.Now().UTC(), limit, claimToken, claimUntil.UTC()).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	// RETURNING carries no ordering guarantee.
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	out := make([]ports.OutboxRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.release(ctx, outboxID, claimToken, map[string]any{
		"published_at": at,
	})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.release(ctx, outboxID, claimToken, map[string]any{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    errMsg,
		"last_error_at": at,
	})
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.release(ctx, outboxID, claimToken, map[string]any{
		"retry_count":      gorm.Expr("retry_count + 1"),
		"last_error":       errMsg,
		"last_error_at":    at,
		"dead_lettered_at": at,
	})
}

// release applies updates only while claimToken still holds the lease.
func (r *outboxRepository) release(ctx context.Context, outboxID uuid.UUID, claimToken string, updates map[string]any) error {
	updates["claim_token"] = nil
	updates["claim_until"] = nil
	return r.db.WithContext(ctx).
		Model(&securityOutboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Updates(updates).Error
}
