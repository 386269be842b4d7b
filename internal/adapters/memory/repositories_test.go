package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

func TestAccountStateUpdateIsAtomicPerIdentity(t *testing.T) {
	t.Parallel()

	repo := NewAccountStateRepository()
	id := uuid.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, id, func(s *domain.AccountSecurityState) error {
				s.FailedAttemptCount++
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 100, state.FailedAttemptCount)
	require.EqualValues(t, 100, state.Version)
}

func TestAccountStateMutationErrorLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	repo := NewAccountStateRepository()
	id := uuid.New()
	ctx := context.Background()

	_, err := repo.Update(ctx, id, func(s *domain.AccountSecurityState) error {
		s.FailedAttemptCount = 9
		return domain.ErrConflict
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	state, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Zero(t, state.FailedAttemptCount)
	require.Equal(t, id, state.Identity)
}

func TestAttemptCountWindowBounds(t *testing.T) {
	t.Parallel()

	repo := NewAttemptRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, 10 * time.Second, time.Minute} {
		_, err := repo.Insert(ctx, domain.LoginAttempt{IPAddress: "192.0.2.1", OccurredAt: base.Add(offset), FailureReason: domain.FailureUnknownIdentity})
		require.NoError(t, err)
	}

	n, err := repo.CountByIP(ctx, "192.0.2.1", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n, "after is exclusive and upTo inclusive")

	n, err = repo.CountByIP(ctx, "192.0.2.2", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResetTokenIssueInvalidatesActiveOnly(t *testing.T) {
	t.Parallel()

	repo := NewResetTokenRepository()
	ctx := context.Background()
	id := uuid.New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	expired := domain.ResetToken{ID: uuid.New(), Identity: id, TokenHash: "a", Status: domain.ResetTokenActive, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	active := domain.ResetToken{ID: uuid.New(), Identity: id, TokenHash: "b", Status: domain.ResetTokenActive, CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)}
	for _, tok := range []domain.ResetToken{expired, active} {
		_, err := repo.Issue(ctx, tok)
		require.NoError(t, err)
	}

	fresh := domain.ResetToken{ID: uuid.New(), Identity: id, TokenHash: "c", Status: domain.ResetTokenActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	n, err := repo.Issue(ctx, fresh)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows, err := repo.ListByIdentity(ctx, id)
	require.NoError(t, err)
	byHash := map[string]domain.ResetToken{}
	for _, r := range rows {
		byHash[r.TokenHash] = r
	}
	require.Equal(t, domain.ResetTokenActive, byHash["a"].Status)
	require.Equal(t, domain.ResetTokenInvalidated, byHash["b"].Status)
	require.Equal(t, domain.ResetTokenActive, byHash["c"].Status)

	_, err = repo.Issue(ctx, domain.ResetToken{ID: uuid.New(), Identity: id, TokenHash: "c", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = repo.Update(ctx, "missing", func(*domain.ResetToken) error { return nil })
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestSecurityEventQueryOrderAndCursor(t *testing.T) {
	t.Parallel()

	outbox := NewOutboxRepository()
	repo := NewSecurityEventRepository(outbox)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Appended out of time order on purpose.
	for _, offset := range []time.Duration{2 * time.Second, 0, time.Second, time.Second} {
		_, err := repo.Append(ctx, domain.SecurityEvent{ID: uuid.New(), Type: domain.EventLoginFailure, IPAddress: "192.0.2.1", OccurredAt: base.Add(offset)})
		require.NoError(t, err)
	}

	all, err := repo.Query(ctx, domain.EventFilter{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, base, all[0].OccurredAt)
	require.Equal(t, all[1].OccurredAt, all[2].OccurredAt)
	require.Less(t, all[1].Sequence, all[2].Sequence)

	cursor := domain.CursorOf(all[1])
	rest, err := repo.Query(ctx, domain.EventFilter{}, &cursor, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, all[2].ID, rest[0].ID)

	require.Len(t, outbox.Snapshot(), 4)
}

func TestSecurityEventAppendFailsWhenOutboxRejects(t *testing.T) {
	t.Parallel()

	outbox := NewOutboxRepository()
	repo := NewSecurityEventRepository(outbox)
	ctx := context.Background()
	event := domain.SecurityEvent{ID: uuid.New(), Type: domain.EventAccountLock, IPAddress: "192.0.2.1", OccurredAt: time.Now().UTC()}

	_, err := repo.Append(ctx, event)
	require.NoError(t, err)
	_, err = repo.Append(ctx, event)
	require.Error(t, err)

	rows, err := repo.Query(ctx, domain.EventFilter{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

var _ ports.SecurityEventRepository = (*SecurityEventRepository)(nil)
