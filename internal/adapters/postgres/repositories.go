package postgres

import (
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Attempts      ports.AttemptRepository
	AccountStates ports.AccountStateRepository
	ResetTokens   ports.ResetTokenRepository
	Events        ports.SecurityEventRepository
	Outbox        ports.OutboxRepository
}

// NewRepositories builds every store over one pool. Security events are written
// together with their outbox row in the same transaction.
func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Attempts:      &attemptRepository{db: db},
		AccountStates: &accountStateRepository{db: db},
		ResetTokens:   &resetTokenRepository{db: db},
		Events:        &securityEventRepository{db: db},
		Outbox:        &outboxRepository{db: db},
	}
}
