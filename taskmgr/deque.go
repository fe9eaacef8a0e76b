package taskmgr

import "sync/atomic"

// popResult distinguishes "nothing to do right now" from "a concurrent
// steal raced us and won" so callers of Pop/Steal never have to overload a
// nil return to mean both. Grounded on taskmgr.cpp's s_emptyTask/s_abortTask
// sentinels; a typed result is the idiomatic Go substitute for two magic
// pointer values.
type popResult int

const (
	// popOK means the returned Job is valid.
	popOK popResult = iota
	// popEmpty means the deque had nothing available.
	popEmpty
	// popAborted means an item was present but a concurrent steal won the
	// race for it; the caller should retry or move on.
	popAborted
)

// deque is a bounded, power-of-two-capacity Chase-Lev work-stealing deque.
// The owning worker pushes and pops at bottom without synchronization other
// than the release-store that publishes a new bottom; any other worker may
// steal from top via CAS. Grounded on taskmgr.cpp's CircularBuffer/WorkQueue.
type deque struct {
	top    atomic.Int64 // shared: stealers and the owner's contended Pop both CAS this
	bottom atomic.Int64 // owner-only
	mask   int64
	buf    []atomic.Pointer[Job]
}

func newDeque(logSize uint) *deque {
	capacity := int64(1) << logSize
	return &deque{
		mask: capacity - 1,
		buf:  make([]atomic.Pointer[Job], capacity),
	}
}

func (d *deque) capacity() int64 {
	return d.mask + 1
}

// push stores item at bottom and publishes the new bottom with a release
// store. Owner-only. Returns false once the deque holds capacity-1 items
// (one slot always stays unused), mirroring WorkQueue::Push's bounds check — the caller (Manager.Run) turns
// that into a reported error rather than growing the buffer (DESIGN.md,
// Open Question 4).
func (d *deque) push(item *Job) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t >= d.capacity()-1 {
		return false
	}
	d.buf[b&d.mask].Store(item)
	d.bottom.Store(b + 1)
	return true
}

// pop removes and returns the item at bottom. Owner-only. A one-element
// deque is the contended case: the owner must CAS top against any stealer
// racing for the same last item.
func (d *deque) pop() (*Job, popResult) {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	t := d.top.Load()

	if b < t {
		d.bottom.Store(t)
		return nil, popEmpty
	}

	item := d.buf[b&d.mask].Load()
	if b > t {
		return item, popOK
	}

	// Exactly one item left; race a stealer for it.
	result := popOK
	if !d.top.CompareAndSwap(t, t+1) {
		result = popAborted
		item = nil
	}
	d.bottom.Store(t + 1)
	return item, result
}

// steal reads the item at top and tries to claim it via CAS. Safe from any
// number of goroutines, including the owner calling pop concurrently.
func (d *deque) steal() (*Job, popResult) {
	t := d.top.Load()
	b := d.bottom.Load()
	if b-t <= 0 {
		return nil, popEmpty
	}

	item := d.buf[t&d.mask].Load()
	if !d.top.CompareAndSwap(t, t+1) {
		return nil, popAborted
	}
	return item, popOK
}

func (d *deque) isEmpty() bool {
	return d.bottom.Load()-d.top.Load() <= 0
}
