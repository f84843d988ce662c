package notifications

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SeenSet records notification ids already surfaced on this device.
//
// Add is insert-if-absent and reports whether this call inserted the id;
// concurrent checks rely on that to alert at most once.
type SeenSet interface {
	Contains(ctx context.Context, id uuid.UUID) (bool, error)
	Add(ctx context.Context, id uuid.UUID) (bool, error)
	Reset(ctx context.Context) error
}

var _ SeenSet = (*MemorySeenSet)(nil)

// MemorySeenSet is a SeenSet that lasts for the process lifetime.
type MemorySeenSet struct {
	ids  map[uuid.UUID]struct{}
	lock sync.RWMutex
}

func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{ids: make(map[uuid.UUID]struct{})}
}

func (m *MemorySeenSet) Contains(_ context.Context, id uuid.UUID) (bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.ids[id]
	return ok, nil
}

func (m *MemorySeenSet) Add(_ context.Context, id uuid.UUID) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.ids[id]; ok {
		return false, nil
	}
	m.ids[id] = struct{}{}
	return true, nil
}

func (m *MemorySeenSet) Reset(context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.ids = make(map[uuid.UUID]struct{})
	return nil
}
