package taskmgr

import (
	"sync"

	"github.com/petermattis/goid"
)

// ownerRegistry maps the id of a goroutine acting as a particular owner
// (the goroutine that called NewManager, or one of its worker goroutines)
// to that owner's index. Mirrors TaskMgr's thread_local s_ownerIndex
// (original_source/src/taskmgr.cpp); Go has no goroutine-local storage, so
// this uses the same petermattis/goid lookup fiber.fiberRegistry uses.
type ownerRegistry struct {
	mu sync.RWMutex
	m  map[int64]int
}

func newOwnerRegistry() *ownerRegistry {
	return &ownerRegistry{m: make(map[int64]int)}
}

func (r *ownerRegistry) bind(index int) {
	id := goid.Get()
	r.mu.Lock()
	r.m[id] = index
	r.mu.Unlock()
}

func (r *ownerRegistry) unbind() {
	id := goid.Get()
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

// lookup returns the owner index bound to the calling goroutine, or -1 if
// none (an unregistered goroutine calling into the manager).
func (r *ownerRegistry) lookup() int {
	id := goid.Get()
	r.mu.RLock()
	idx, ok := r.m[id]
	r.mu.RUnlock()
	if !ok {
		return -1
	}
	return idx
}
