package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

type AttemptRepository struct {
	mu         sync.RWMutex
	nextID     int64
	byIP       map[string][]domain.LoginAttempt
	byIdentity map[uuid.UUID][]domain.LoginAttempt
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{
		byIP:       make(map[string][]domain.LoginAttempt),
		byIdentity: make(map[uuid.UUID][]domain.LoginAttempt),
	}
}

func (r *AttemptRepository) Insert(_ context.Context, attempt domain.LoginAttempt) (domain.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	attempt.ID = r.nextID
	r.byIP[attempt.IPAddress] = append(r.byIP[attempt.IPAddress], attempt)
	if attempt.Identity != nil {
		r.byIdentity[*attempt.Identity] = append(r.byIdentity[*attempt.Identity], attempt)
	}
	return attempt, nil
}

func (r *AttemptRepository) CountByIP(_ context.Context, ip string, after, upTo time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.byIP[ip] {
		if a.OccurredAt.After(after) && !a.OccurredAt.After(upTo) {
			n++
		}
	}
	return n, nil
}

func (r *AttemptRepository) ListByIdentity(_ context.Context, identity uuid.UUID, q ports.AttemptQuery) ([]domain.LoginAttempt, error) {
	r.mu.RLock()
	rows := make([]domain.LoginAttempt, 0, len(r.byIdentity[identity]))
	for _, a := range r.byIdentity[identity] {
		if q.Since != nil && a.OccurredAt.Before(*q.Since) {
			continue
		}
		if q.Succeeded != nil && a.Succeeded != *q.Succeeded {
			continue
		}
		rows = append(rows, a)
	}
	r.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].OccurredAt.Equal(rows[j].OccurredAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].OccurredAt.After(rows[j].OccurredAt)
	})
	if q.Offset >= len(rows) {
		return []domain.LoginAttempt{}, nil
	}
	rows = rows[q.Offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}
