package fiber

// workerData holds the per-worker bookkeeping the switching logic needs:
// which fiber it is currently driving, the fiber it just switched away
// from (parked here until the incoming fiber confirms it is running,
// per the "never enqueue a fiber you just left until after the switch
// completes" handoff invariant), and a queue of fibers pinned to this
// worker specifically.
//
// Grounded on lptk::fiber::FiberManager::ThreadData (fiber.cpp).
type workerData struct {
	index          int
	isHighPriority bool

	currentFiber *Fiber
	lastFiber    *Fiber

	affinityQueue *intrusiveQueue[*Fiber]
	rootFiber     *Fiber
}

func newWorkerData(index int, isHighPriority bool) *workerData {
	return &workerData{
		index:          index,
		isHighPriority: isHighPriority,
		affinityQueue:  newIntrusiveQueue[*Fiber](&Fiber{}),
	}
}
