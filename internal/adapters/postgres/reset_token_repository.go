package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type resetTokenRepository struct {
	db *gorm.DB
}

// Issue serializes on a transaction-scoped advisory lock keyed by identity. Row locks
// alone cannot cover the case where the identity has no tokens yet.
func (r *resetTokenRepository) Issue(ctx context.Context, token domain.ResetToken) (int, error) {
	invalidated := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", token.Identity.String()).Error; err != nil {
			return err
		}

		var active []resetTokenModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identity_id = ?", token.Identity).
			Where("status = ?", string(domain.ResetTokenActive)).
			Where("expires_at >= ?", token.CreatedAt.UTC()).
			Find(&active).Error; err != nil {
			return err
		}
		for _, row := range active {
			t := toDomainResetToken(row)
			if !t.Invalidate(token.CreatedAt.UTC()) {
				continue
			}
			if err := tx.Model(&resetTokenModel{}).
				Where("token_id = ?", row.TokenID).
				Updates(map[string]any{
					"status":         string(t.Status),
					"is_used":        t.IsUsed(),
					"invalidated_at": t.InvalidatedAt,
				}).Error; err != nil {
				return err
			}
			invalidated++
		}

		rec := toResetTokenModel(token)
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate token hash", domain.ErrConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return invalidated, nil
}

func (r *resetTokenRepository) Update(ctx context.Context, tokenHash string, mutate ports.ResetTokenMutation) (domain.ResetToken, error) {
	var out domain.ResetToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row resetTokenModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", tokenHash).
			Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTokenNotFound
			}
			return err
		}

		t := toDomainResetToken(row)
		if err := mutate(&t); err != nil {
			return err
		}
		next := toResetTokenModel(t)
		if err := tx.Model(&resetTokenModel{}).
			Where("token_id = ?", row.TokenID).
			Updates(map[string]any{
				"status":         next.Status,
				"is_used":        next.IsUsed,
				"used_at":        next.UsedAt,
				"invalidated_at": next.InvalidatedAt,
			}).Error; err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return domain.ResetToken{}, err
	}
	return out, nil
}

func (r *resetTokenRepository) ListByIdentity(ctx context.Context, identity uuid.UUID) ([]domain.ResetToken, error) {
	var rows []resetTokenModel
	if err := r.db.WithContext(ctx).
		Where("identity_id = ?", identity).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ResetToken, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainResetToken(row))
	}
	return out, nil
}
