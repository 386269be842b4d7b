package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"gorm.io/gorm"
)

// openTestDB connects to AUTH_SECURITY_TEST_DB_URL and applies migrations.
// Tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	url := os.Getenv("AUTH_SECURITY_TEST_DB_URL")
	if url == "" {
		t.Skip("AUTH_SECURITY_TEST_DB_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, url))
	db, err := Connect(ctx, url, 16)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestAccountStateUpdateSerializesConcurrentFailures(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepositories(db).AccountStates
	ctx := context.Background()
	id := uuid.New()
	now := time.Now().UTC()
	policy := domain.DefaultLockoutPolicy()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		locks int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out domain.FailureOutcome
			_, err := repo.Update(ctx, id, func(s *domain.AccountSecurityState) error {
				out = s.RegisterFailure(now, policy)
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			if out.Locked {
				mu.Lock()
				locks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	state, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 5, state.FailedAttemptCount)
	require.NotNil(t, state.LockedUntil)
	require.Equal(t, 1, locks)
}

func TestResetTokenIssueAndConsume(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepositories(db).ResetTokens
	ctx := context.Background()
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := domain.ResetToken{ID: uuid.New(), Identity: id, TokenHash: uuid.NewString(), Status: domain.ResetTokenActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour), RequestingIP: "192.0.2.1"}
	n, err := repo.Issue(ctx, first)
	require.NoError(t, err)
	require.Zero(t, n)

	second := first
	second.ID = uuid.New()
	second.TokenHash = uuid.NewString()
	n, err = repo.Issue(ctx, second)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = repo.Update(ctx, first.TokenHash, func(tok *domain.ResetToken) error { return tok.Consume(now) })
	require.ErrorIs(t, err, domain.ErrTokenInvalidated)

	got, err := repo.Update(ctx, second.TokenHash, func(tok *domain.ResetToken) error { return tok.Consume(now) })
	require.NoError(t, err)
	require.Equal(t, domain.ResetTokenConsumed, got.Status)

	_, err = repo.Update(ctx, "missing", func(*domain.ResetToken) error { return nil })
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestSecurityEventAppendWritesOutboxAndPaginates(t *testing.T) {
	db := openTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	id := uuid.New()
	at := time.Now().UTC().Truncate(time.Microsecond)

	var appended []domain.SecurityEvent
	for i := 0; i < 3; i++ {
		e, err := repos.Events.Append(ctx, domain.SecurityEvent{
			ID:         uuid.New(),
			Identity:   &id,
			Type:       domain.EventLoginFailure,
			IPAddress:  "192.0.2.1",
			Details:    map[string]any{"reason": "INVALID_CREDENTIALS"},
			OccurredAt: at,
		})
		require.NoError(t, err)
		require.NotZero(t, e.Sequence)
		appended = append(appended, e)
	}

	page, err := repos.Events.Query(ctx, domain.EventFilter{Identity: &id}, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	cursor := domain.CursorOf(page[1])
	rest, err := repos.Events.Query(ctx, domain.EventFilter{Identity: &id}, &cursor, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, appended[2].ID, rest[0].ID)
	require.Equal(t, "INVALID_CREDENTIALS", rest[0].Details["reason"])

	var outboxRows int64
	require.NoError(t, db.Model(&securityOutboxModel{}).Where("partition_key = ?", id.String()).Count(&outboxRows).Error)
	require.EqualValues(t, 3, outboxRows)
}
