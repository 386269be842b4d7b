package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

type AccountStateRepository struct {
	locks  stripedLocks
	mu     sync.RWMutex
	states map[uuid.UUID]domain.AccountSecurityState
}

func NewAccountStateRepository() *AccountStateRepository {
	return &AccountStateRepository{states: make(map[uuid.UUID]domain.AccountSecurityState)}
}

func (r *AccountStateRepository) Get(_ context.Context, identity uuid.UUID) (domain.AccountSecurityState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.states[identity]; ok {
		return s, nil
	}
	return domain.NewAccountSecurityState(identity), nil
}

func (r *AccountStateRepository) Update(ctx context.Context, identity uuid.UUID, mutate ports.AccountStateMutation) (domain.AccountSecurityState, error) {
	unlock := r.locks.lock(identity.String())
	defer unlock()
	if err := ctx.Err(); err != nil {
		return domain.AccountSecurityState{}, err
	}

	state, _ := r.Get(ctx, identity)
	if err := mutate(&state); err != nil {
		return domain.AccountSecurityState{}, err
	}
	state.Identity = identity
	state.Version++

	r.mu.Lock()
	r.states[identity] = state
	r.mu.Unlock()
	return state, nil
}
