package game

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLocks serializes work per game id without keeping a mutex per game
// alive forever. Distinct games may share a stripe.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLocks) lock(gameID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(gameID))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
