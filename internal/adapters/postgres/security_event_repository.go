package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/events"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"gorm.io/gorm"
)

type securityEventRepository struct {
	db *gorm.DB
}

// Append inserts the event and its outbox envelope in one transaction, so a committed
// audit row is always eventually published.
func (r *securityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) (domain.SecurityEvent, error) {
	rec, err := toSecurityEventModel(event)
	if err != nil {
		return domain.SecurityEvent{}, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		event.Sequence = rec.Sequence

		envelope, err := events.NewOutboxEvent(event)
		if err != nil {
			return err
		}
		return tx.Create(&securityOutboxModel{
			OutboxID:     envelope.EventID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      string(envelope.Payload),
			CreatedAt:    envelope.OccurredAt.UTC(),
		}).Error
	})
	if err != nil {
		return domain.SecurityEvent{}, err
	}
	return event, nil
}

func (r *securityEventRepository) Query(ctx context.Context, filter domain.EventFilter, after *domain.EventCursor, limit int) ([]domain.SecurityEvent, error) {
	query := r.db.WithContext(ctx).Model(&securityEventModel{})
	if filter.Identity != nil {
		query = query.Where("identity_id = ?", *filter.Identity)
	}
	if filter.Type != "" {
		query = query.Where("event_type = ?", string(filter.Type))
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("occurred_at < ?", filter.To.UTC())
	}
	if after != nil {
		query = query.Where("(occurred_at, sequence) > (?, ?)", after.OccurredAt.UTC(), after.Sequence)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []securityEventModel
	if err := query.Order("occurred_at ASC, sequence ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SecurityEvent, 0, len(rows))
	for _, row := range rows {
		e, err := toDomainSecurityEvent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
