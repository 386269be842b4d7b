package memory

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// stripedLocks serializes read-modify-write per key. Keys hash onto a fixed set of
// mutexes, so unrelated accounts only contend on a stripe collision.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLocks) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
