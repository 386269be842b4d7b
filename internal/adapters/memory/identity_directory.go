package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// IdentityDirectory is a static identity set for local runs and tests.
// With acceptAny set, every non-nil identity exists.
type IdentityDirectory struct {
	mu        sync.RWMutex
	known     map[uuid.UUID]struct{}
	acceptAny bool
}

func NewIdentityDirectory(ids ...uuid.UUID) *IdentityDirectory {
	d := &IdentityDirectory{known: make(map[uuid.UUID]struct{}, len(ids))}
	for _, id := range ids {
		d.known[id] = struct{}{}
	}
	return d
}

func NewPermissiveIdentityDirectory() *IdentityDirectory {
	d := NewIdentityDirectory()
	d.acceptAny = true
	return d
}

func (d *IdentityDirectory) Add(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known[id] = struct{}{}
}

func (d *IdentityDirectory) Exists(_ context.Context, identity uuid.UUID) (bool, error) {
	if identity == uuid.Nil {
		return false, nil
	}
	if d.acceptAny {
		return true, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[identity]
	return ok, nil
}
