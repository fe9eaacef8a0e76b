package fiber

// Fiber is a cooperatively-scheduled execution context backed by its own
// goroutine. A pool fiber's goroutine is started lazily the first time a
// worker switches into it; a background worker's root fiber runs on that
// worker's goroutine, and worker 0's root fiber is the goroutine that
// called NewScheduler (see bindCallerAsRoot). Every pool fiber and every
// background worker's root runs the same generic dispatch body (pop and
// run whatever task is available, or hand its stack to another ready
// fiber) — there is no notion of "this task belongs to this fiber";
// any fiber picks up whatever work is available whenever it happens to be
// the one driving a worker.
//
// Grounded on lptk::fiber::Fiber and FiberNodeTraits
// (original_source/src/fiber.cpp, src/include/toolkit/fiber.hh). The
// reference implementation switches fibers with a real machine-stack swap
// (SwitchToFiber); Go has no equivalent, so a "switch" here is a
// synchronous channel handoff between the outgoing fiber's goroutine and
// the incoming one's — see DESIGN.md, Open Question 1.
type Fiber struct {
	id         int
	isRoot     bool
	largeStack bool

	// ownerThread pins this fiber to one worker; -1 means any worker may
	// resume it. Root fibers are pinned to the worker they represent.
	ownerThread int32
	// workerIndex is the worker currently driving this fiber. Valid only
	// on the fiber's own goroutine, between being resumed and switching
	// away again.
	workerIndex int32

	next *Fiber

	resumeCh chan resumeMsg
	started  bool
	sched    *Scheduler
}

// resumeMsg is the sole handoff payload: which worker is now driving the
// fiber being resumed. Carrying no other data mirrors the original: a
// resumed fiber simply continues whatever it was doing (running its
// generic dispatch loop from the top, or returning from the nextFiber call
// inside YieldFiber / WaitForCounter / EnqueueRequest that parked it).
type resumeMsg struct {
	worker *workerData
}

func newFiber(id int, sched *Scheduler, isRoot, largeStack bool, ownerThread int32) *Fiber {
	return &Fiber{
		id:          id,
		isRoot:      isRoot,
		largeStack:  largeStack,
		ownerThread: ownerThread,
		workerIndex: -1,
		sched:       sched,
		resumeCh:    make(chan resumeMsg),
	}
}

// ensureStarted spawns the fiber's persistent goroutine the first time it
// is switched into. Only ever called by the single goroutine currently
// performing the switch, so no synchronization is needed around `started`.
func (f *Fiber) ensureStarted() {
	if f.started {
		return
	}
	f.started = true
	f.sched.fiberWG.Add(1)
	go f.loop()
}

// loop is a pool fiber's entire body: bind to the scheduler's
// goroutine-id registry, wait for the switch that started it to deliver
// a worker assignment, then run the generic dispatch loop until shutdown.
func (f *Fiber) loop() {
	defer f.sched.fiberWG.Done()
	f.sched.fibers.bind(f)
	defer f.sched.fibers.unbind(f)

	f.awaitResume()
	f.sched.dispatchLoop(f)
}

// runRoot runs a worker's root fiber directly on the caller's own
// goroutine (the worker's driver goroutine) rather than spawning one.
func (f *Fiber) runRoot(w *workerData) {
	f.started = true
	f.sched.fibers.bind(f)
	defer f.sched.fibers.unbind(f)

	f.workerIndex = int32(w.index)
	w.currentFiber = f
	f.sched.dispatchLoop(f)
}

// bindCallerAsRoot binds worker 0's root fiber to whatever goroutine calls
// NewScheduler, without running the generic dispatch loop — mirroring
// FiberManager::InitMain's i==0 branch, which converts the *calling*
// thread into fiber 0 and returns, rather than spawning a WorkerMain
// thread for it. That goroutine is "a fiber for the duration" (spec.md
// §4.3.5) purely by virtue of this binding: nothing pops tasks on its
// behalf until it later calls YieldFiber or WaitForCounter itself, exactly
// as the reference implementation never calls Fiber::Run for thread 0.
func (f *Fiber) bindCallerAsRoot(w *workerData) {
	f.started = true
	f.sched.fibers.bind(f)
	f.workerIndex = int32(w.index)
	w.currentFiber = f
}

// awaitResume blocks until some switch resumes this fiber, then restores
// the driving worker's bookkeeping before returning. Used both for a pool
// fiber's very first resume and for every later resume after it parks
// inside nextFiber (from YieldFiber, WaitForCounter or EnqueueRequest).
func (f *Fiber) awaitResume() {
	msg := <-f.resumeCh
	f.sched.resumeThisFiber(msg.worker, f)
}

func (f *Fiber) getNext() *Fiber  { return f.next }
func (f *Fiber) setNext(n *Fiber) { f.next = n }
