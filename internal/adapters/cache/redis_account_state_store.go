package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

const (
	defaultStateRetries = 16
	retryBaseDelay      = 2 * time.Millisecond
	retryMaxDelay       = 50 * time.Millisecond
)

// jitteredBackoff returns a full-jitter delay in [0, min(max, base<<attempt)).
func jitteredBackoff(attempt int) time.Duration {
	ceiling := retryMaxDelay
	if attempt < 16 {
		if d := retryBaseDelay << attempt; d < ceiling {
			ceiling = d
		}
	}
	return rand.N(ceiling)
}

// RedisAccountStateStore keeps lockout state in one hash per identity. Updates are
// optimistic: WATCH the key, run the mutation, commit with MULTI/EXEC, retry on conflict.
// An Active state with a zero counter is stored as an absent key.
type RedisAccountStateStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	maxRetries int
	backoff    func(attempt int) time.Duration
}

func NewRedisAccountStateStore(client redis.UniversalClient) *RedisAccountStateStore {
	return &RedisAccountStateStore{
		client:     client,
		keyPrefix:  "auth:security:state:",
		maxRetries: defaultStateRetries,
		backoff:    jitteredBackoff,
	}
}

func (s *RedisAccountStateStore) key(identity uuid.UUID) string {
	return s.keyPrefix + identity.String()
}

func (s *RedisAccountStateStore) Get(ctx context.Context, identity uuid.UUID) (domain.AccountSecurityState, error) {
	data, err := s.client.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return domain.AccountSecurityState{}, err
	}
	return decodeState(identity, data)
}

func (s *RedisAccountStateStore) Update(ctx context.Context, identity uuid.UUID, mutate ports.AccountStateMutation) (domain.AccountSecurityState, error) {
	key := s.key(identity)
	var out domain.AccountSecurityState

	txf := func(tx *redis.Tx) error {
		data, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		state, err := decodeState(identity, data)
		if err != nil {
			return err
		}
		previousVersion := state.Version
		if err := mutate(&state); err != nil {
			return err
		}
		state.Identity = identity
		state.Version = previousVersion + 1

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if state.FailedAttemptCount == 0 && state.LockedUntil == nil {
				p.Del(ctx, key)
				return nil
			}
			p.HSet(ctx, key, encodeState(state))
			if state.LockedUntil == nil {
				p.HDel(ctx, key, "locked_until")
			}
			if state.LastFailedAt == nil {
				p.HDel(ctx, key, "last_failed_at")
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = state
		return nil
	}

	// Each lost WATCH race waits a jittered backoff before the next round.
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return domain.AccountSecurityState{}, err
		}
		if attempt == s.maxRetries-1 {
			break
		}
		if err := sleepContext(ctx, s.backoff(attempt)); err != nil {
			return domain.AccountSecurityState{}, err
		}
	}
	return domain.AccountSecurityState{}, fmt.Errorf("%w: account state for %s changed concurrently", domain.ErrConflict, identity)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func encodeState(s domain.AccountSecurityState) map[string]any {
	fields := map[string]any{
		"failed_count": s.FailedAttemptCount,
		"version":      s.Version,
		"updated_at":   s.UpdatedAt.UTC().UnixMicro(),
	}
	if s.LockedUntil != nil {
		fields["locked_until"] = s.LockedUntil.UTC().UnixMicro()
	}
	if s.LastFailedAt != nil {
		fields["last_failed_at"] = s.LastFailedAt.UTC().UnixMicro()
	}
	return fields
}

func decodeState(identity uuid.UUID, data map[string]string) (domain.AccountSecurityState, error) {
	state := domain.NewAccountSecurityState(identity)
	if len(data) == 0 {
		return state, nil
	}
	var err error
	if state.FailedAttemptCount, err = atoiField(data, "failed_count"); err != nil {
		return domain.AccountSecurityState{}, err
	}
	version, err := atoiField(data, "version")
	if err != nil {
		return domain.AccountSecurityState{}, err
	}
	state.Version = int64(version)
	if state.LockedUntil, err = microsField(data, "locked_until"); err != nil {
		return domain.AccountSecurityState{}, err
	}
	if state.LastFailedAt, err = microsField(data, "last_failed_at"); err != nil {
		return domain.AccountSecurityState{}, err
	}
	updated, err := microsField(data, "updated_at")
	if err != nil {
		return domain.AccountSecurityState{}, err
	}
	if updated != nil {
		state.UpdatedAt = *updated
	}
	return state, nil
}

func atoiField(data map[string]string, field string) (int, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", field, err)
	}
	return n, nil
}

func microsField(data map[string]string, field string) (*time.Time, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return nil, nil
	}
	us, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	t := time.UnixMicro(us).UTC()
	return &t, nil
}
