package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

// AttemptQuery pages through one identity's login history, newest first.
type AttemptQuery struct {
	Since     *time.Time
	Succeeded *bool
	Limit     int
	Offset    int
}

// AttemptRepository is the durable, append-only login attempt ledger.
type AttemptRepository interface {
	Insert(ctx context.Context, attempt domain.LoginAttempt) (domain.LoginAttempt, error)
	// CountByIP counts attempts from ip with after < occurred_at <= upTo.
	CountByIP(ctx context.Context, ip string, after, upTo time.Time) (int, error)
	ListByIdentity(ctx context.Context, identity uuid.UUID, query AttemptQuery) ([]domain.LoginAttempt, error)
}

// IPAttemptCounter is an optional sliding-window index in front of the ledger.
// When configured, rate-limit checks read it instead of scanning AttemptRepository.
type IPAttemptCounter interface {
	Track(ctx context.Context, attempt domain.LoginAttempt) error
	CountByIP(ctx context.Context, ip string, after, upTo time.Time) (int, error)
}

// AccountStateMutation mutates a state in place. It can run more than once when the
// store retries an optimistic update, so it must not have side effects.
type AccountStateMutation func(state *domain.AccountSecurityState) error

// AccountStateRepository stores per-identity lockout state.
// Update is an atomic read-modify-write keyed by identity; the state is created lazily.
type AccountStateRepository interface {
	Get(ctx context.Context, identity uuid.UUID) (domain.AccountSecurityState, error)
	Update(ctx context.Context, identity uuid.UUID, mutate AccountStateMutation) (domain.AccountSecurityState, error)
}

// ResetTokenMutation has the same retry contract as AccountStateMutation.
type ResetTokenMutation func(token *domain.ResetToken) error

// ResetTokenRepository owns reset token rows.
type ResetTokenRepository interface {
	// Issue invalidates every active token of token.Identity as of token.CreatedAt and inserts
	// token, as one atomic step per identity. It returns how many tokens were invalidated.
	Issue(ctx context.Context, token domain.ResetToken) (int, error)
	// Update locks the token with tokenHash and applies mutate. Missing tokens yield domain.ErrTokenNotFound.
	Update(ctx context.Context, tokenHash string, mutate ResetTokenMutation) (domain.ResetToken, error)
	ListByIdentity(ctx context.Context, identity uuid.UUID) ([]domain.ResetToken, error)
}

// SecurityEventRepository is the insert-only audit store.
type SecurityEventRepository interface {
	// Append stores the event and returns it with Sequence assigned.
	Append(ctx context.Context, event domain.SecurityEvent) (domain.SecurityEvent, error)
	// Query returns up to limit events matching filter in (occurred_at, sequence) order,
	// strictly after cursor when one is given.
	Query(ctx context.Context, filter domain.EventFilter, after *domain.EventCursor, limit int) ([]domain.SecurityEvent, error)
}

// IdentityDirectory is the only view the core has of user accounts.
type IdentityDirectory interface {
	Exists(ctx context.Context, identity uuid.UUID) (bool, error)
}

// OutboxEvent is a serialized security event waiting for broker delivery.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for audit events.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
