package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// ResetTokenRepository serializes all writes for one identity on that identity's stripe,
// so Issue and Update never interleave for the same account.
type ResetTokenRepository struct {
	locks      stripedLocks
	mu         sync.RWMutex
	byHash     map[string]uuid.UUID
	byID       map[uuid.UUID]domain.ResetToken
	byIdentity map[uuid.UUID][]uuid.UUID
}

func NewResetTokenRepository() *ResetTokenRepository {
	return &ResetTokenRepository{
		byHash:     make(map[string]uuid.UUID),
		byID:       make(map[uuid.UUID]domain.ResetToken),
		byIdentity: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *ResetTokenRepository) Issue(ctx context.Context, token domain.ResetToken) (int, error) {
	unlock := r.locks.lock(token.Identity.String())
	defer unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[token.TokenHash]; exists {
		return 0, fmt.Errorf("%w: duplicate token hash", domain.ErrConflict)
	}
	invalidated := 0
	for _, id := range r.byIdentity[token.Identity] {
		existing := r.byID[id]
		if existing.Invalidate(token.CreatedAt) {
			r.byID[id] = existing
			invalidated++
		}
	}
	r.byID[token.ID] = token
	r.byHash[token.TokenHash] = token.ID
	r.byIdentity[token.Identity] = append(r.byIdentity[token.Identity], token.ID)
	return invalidated, nil
}

func (r *ResetTokenRepository) Update(ctx context.Context, tokenHash string, mutate ports.ResetTokenMutation) (domain.ResetToken, error) {
	r.mu.RLock()
	id, ok := r.byHash[tokenHash]
	var identity uuid.UUID
	if ok {
		identity = r.byID[id].Identity
	}
	r.mu.RUnlock()
	if !ok {
		return domain.ResetToken{}, domain.ErrTokenNotFound
	}

	unlock := r.locks.lock(identity.String())
	defer unlock()
	if err := ctx.Err(); err != nil {
		return domain.ResetToken{}, err
	}

	r.mu.RLock()
	token := r.byID[id]
	r.mu.RUnlock()
	if err := mutate(&token); err != nil {
		return domain.ResetToken{}, err
	}

	r.mu.Lock()
	r.byID[id] = token
	r.mu.Unlock()
	return token, nil
}

func (r *ResetTokenRepository) ListByIdentity(_ context.Context, identity uuid.UUID) ([]domain.ResetToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ResetToken, 0, len(r.byIdentity[identity]))
	for _, id := range r.byIdentity[identity] {
		out = append(out, r.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
