package negotiation

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const lockStripes = 64

// sessionLocks serializes writers per session without a global lock. Stripes
// trade a small chance of cross-session contention for a bounded mutex count.
type sessionLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{}
}

func (l *sessionLocks) lock(sessionID uuid.UUID) func() {
	h := fnv.New32a()
	h.Write(sessionID[:])
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
