package fiber

import (
	"sync"

	"github.com/petermattis/goid"
)

// fiberRegistry maps the id of a goroutine that is currently acting as a
// Fiber's body to that Fiber. Go has no goroutine-local storage, so
// YieldFiber/WaitForCounter recover "which fiber is calling me" via
// petermattis/goid, which reads the id straight off the runtime's g struct
// instead of formatting and parsing a stack trace. Each fiber registers
// itself once, from its own persistent goroutine, the first time it starts
// running; the entry lives for the scheduler's lifetime.
type fiberRegistry struct {
	mu sync.RWMutex
	m  map[int64]*Fiber
}

func newFiberRegistry() *fiberRegistry {
	return &fiberRegistry{m: make(map[int64]*Fiber)}
}

func (r *fiberRegistry) bind(f *Fiber) {
	id := goid.Get()
	r.mu.Lock()
	r.m[id] = f
	r.mu.Unlock()
}

func (r *fiberRegistry) unbind(f *Fiber) {
	id := goid.Get()
	r.mu.Lock()
	if r.m[id] == f {
		delete(r.m, id)
	}
	r.mu.Unlock()
}

func (r *fiberRegistry) lookup() *Fiber {
	id := goid.Get()
	r.mu.RLock()
	f := r.m[id]
	r.mu.RUnlock()
	return f
}
