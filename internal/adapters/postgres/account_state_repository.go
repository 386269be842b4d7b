package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountStateRepository struct {
	db *gorm.DB
}

func (r *accountStateRepository) Get(ctx context.Context, identity uuid.UUID) (domain.AccountSecurityState, error) {
	var row accountSecurityStateModel
	err := r.db.WithContext(ctx).Where("identity_id = ?", identity).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewAccountSecurityState(identity), nil
	}
	if err != nil {
		return domain.AccountSecurityState{}, err
	}
	return toDomainAccountState(row), nil
}

// Update materializes the row if needed, then holds FOR UPDATE on it for the
// duration of mutate, so concurrent updates for one identity serialize.
func (r *accountStateRepository) Update(ctx context.Context, identity uuid.UUID, mutate ports.AccountStateMutation) (domain.AccountSecurityState, error) {
	var out domain.AccountSecurityState
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := accountSecurityStateModel{IdentityID: identity, UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		var row accountSecurityStateModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identity_id = ?", identity).
			Take(&row).Error; err != nil {
			return err
		}

		state := toDomainAccountState(row)
		if err := mutate(&state); err != nil {
			return err
		}
		state.Identity = identity
		state.Version = row.Version + 1
		if state.UpdatedAt.IsZero() {
			state.UpdatedAt = time.Now().UTC()
		}

		next := toAccountStateModel(state)
		if err := tx.Model(&accountSecurityStateModel{}).
			Where("identity_id = ?", identity).
			Updates(map[string]any{
				"failed_attempt_count": next.FailedAttemptCount,
				"last_failed_at":       next.LastFailedAt,
				"locked_until":         next.LockedUntil,
				"version":              next.Version,
				"updated_at":           next.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		out = state
		return nil
	})
	if err != nil {
		return domain.AccountSecurityState{}, err
	}
	return out, nil
}
