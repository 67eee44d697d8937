package exchange

import (
	"sync"

	"github.com/google/uuid"

	"perp-market/src/engine"
)

// RegionAllocator hands out handles for book sides and event queues and
// remembers the layout each was initialized with.
type RegionAllocator struct {
	mu      sync.Mutex
	regions map[uuid.UUID]engine.Layout
}

func NewRegionAllocator() *RegionAllocator {
	return &RegionAllocator{regions: make(map[uuid.UUID]engine.Layout)}
}

func (a *RegionAllocator) InitZeroed(layout engine.Layout) (uuid.UUID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.New()
	a.regions[id] = layout
	return id, nil
}

// Release frees regions whose market was never committed.
func (a *RegionAllocator) Release(ids ...uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.regions, id)
	}
}

func (a *RegionAllocator) Layout(id uuid.UUID) (engine.Layout, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.regions[id]
	return l, ok
}

func (a *RegionAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regions)
}
