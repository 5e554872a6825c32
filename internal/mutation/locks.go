package mutation

import (
	"sync"

	"github.com/google/uuid"
)

const lockStripes = 64

// stripedLock serialises work on one message inside this process while
// unrelated messages mostly land on different stripes.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(id uuid.UUID) func() {
	m := &l.stripes[int(id[len(id)-1])%lockStripes]
	m.Lock()
	return m.Unlock
}
