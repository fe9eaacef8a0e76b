package fiber

import "sync/atomic"

// Counter is an atomic join barrier for a batch of tasks: it is incremented
// once per task before the batch is published to a queue, and every task
// decrements it exactly once after its function returns. Zero means "all
// associated work is complete". A Counter is never reset; once a wait
// observes zero, the caller may reuse the storage for a fresh batch.
//
// Grounded on lptk::fiber::Counter (original_source/src/include/toolkit/fiber.hh):
// IncRef is a relaxed add (the caller still needs a happens-before with the
// work's later publication, which the queue push provides), DecRef is
// acquire-release so the last decrement publishes the completing task's
// results to whichever goroutine observes the zero, and IsZero is an
// acquire load.
type Counter struct {
	pending atomic.Int64
}

// IncRef adds n to the pending count. Relaxed: the caller must still
// establish a happens-before relationship with consumers via the
// subsequent queue push.
func (c *Counter) IncRef(n int64) {
	c.pending.Add(n)
}

// DecRef decrements the pending count by one. The decrement that takes the
// counter to zero happens-before any goroutine's observation of IsZero
// returning true.
func (c *Counter) DecRef() {
	if c.pending.Add(-1) < 0 {
		panic("fiber: counter decremented past zero")
	}
}

// IsZero reports whether all work contributing to this counter has
// completed.
func (c *Counter) IsZero() bool {
	return c.pending.Load() == 0
}
