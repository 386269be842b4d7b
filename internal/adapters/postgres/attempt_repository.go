package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
	"gorm.io/gorm"
)

type attemptRepository struct {
	db *gorm.DB
}

func (r *attemptRepository) Insert(ctx context.Context, attempt domain.LoginAttempt) (domain.LoginAttempt, error) {
	rec := toLoginAttemptModel(attempt)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.LoginAttempt{}, err
	}
	return toDomainLoginAttempt(rec), nil
}

func (r *attemptRepository) CountByIP(ctx context.Context, ip string, after, upTo time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&loginAttemptModel{}).
		Where("ip_address = ?", ip).
		Where("occurred_at > ? AND occurred_at <= ?", after.UTC(), upTo.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *attemptRepository) ListByIdentity(ctx context.Context, identity uuid.UUID, q ports.AttemptQuery) ([]domain.LoginAttempt, error) {
	query := r.db.WithContext(ctx).
		Where("identity_id = ?", identity)
	if q.Since != nil {
		query = query.Where("occurred_at >= ?", q.Since.UTC())
	}
	if q.Succeeded != nil {
		status := domain.AttemptStatusFailed
		if *q.Succeeded {
			status = domain.AttemptStatusSuccess
		}
		query = query.Where("status = ?", status)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var rows []loginAttemptModel
	if err := query.Order("occurred_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.LoginAttempt, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainLoginAttempt(row))
	}
	return result, nil
}
