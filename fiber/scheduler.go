// Package fiber implements a cooperative fiber scheduler: stackful fibers
// multiplexed over a bounded pool of worker goroutines, counter-based
// join/wait, priority task queues, and service offload for blocking work.
//
// Go supplies its own stackful, GC-managed coroutines (goroutines) already,
// so this port doesn't need the reference implementation's manual
// makecontext/SwitchToFiber stack juggling — it needs to keep that
// facility cooperative and bounded instead. See DESIGN.md for the
// Open Question decisions made while adapting
// original_source/src/fiber.cpp / src/include/toolkit/fiber.hh to Go.
package fiber

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config mirrors lptk::fiber::FiberInitStruct field-for-field, plus two
// ambient fields (Logger, MetricsRegisterer) that configure observability
// without changing scheduling semantics.
type Config struct {
	NumWorkerThreads             uint
	NumHighPriorityWorkerThreads uint
	SmallStackBytes              uint
	LargeStackBytes              uint
	NumSmallFibersPerThread      uint
	NumLargeFibersPerThread      uint
	NumSmallFibersPerHPThread    uint
	NumLargeFibersPerHPThread    uint

	Logger            zerolog.Logger
	MetricsRegisterer prometheus.Registerer
}

func (c *Config) setDefaults() {
	if c.NumWorkerThreads == 0 {
		c.NumWorkerThreads = 1
	}
	if c.SmallStackBytes == 0 {
		c.SmallStackBytes = 32 * 1024
	}
	if c.LargeStackBytes == 0 {
		c.LargeStackBytes = 64 * 1024
	}
	if c.NumSmallFibersPerThread == 0 {
		c.NumSmallFibersPerThread = 32
	}
	if c.NumSmallFibersPerHPThread == 0 {
		c.NumSmallFibersPerHPThread = 4
	}
	if c.NumLargeFibersPerThread == 0 {
		c.NumLargeFibersPerThread = 4
	}
	if c.NumLargeFibersPerHPThread == 0 {
		c.NumLargeFibersPerHPThread = 2
	}
}

// Scheduler is the Go analogue of lptk::fiber::FiberManager: it owns the
// task queues, the fiber pool, the worker goroutines driving them, and the
// service-offload bookkeeping.
type Scheduler struct {
	cfg     Config
	log     zerolog.Logger
	metrics *schedulerMetrics

	fibers *fiberRegistry

	lowPriorityTasks  *intrusiveQueue[*Task]
	highPriorityTasks *intrusiveQueue[*Task]
	readyFibers       *intrusiveQueue[*Fiber]

	workers   []*workerData
	allFibers []*Fiber

	tasksMu   sync.Mutex
	tasksCond *sync.Cond
	numTasks  int64

	waitingMu               sync.Mutex
	waitingCond             *sync.Cond
	numWaitingServiceFibers int64
	maxWaitingServiceFibers int64

	exitRequested atomic.Bool
	purged        atomic.Bool

	group    *errgroup.Group
	fiberWG  sync.WaitGroup
}

// NewScheduler builds and starts a scheduler: it allocates the configured
// fiber pool (pushed onto the global ready queue, exactly as
// FiberManager::InitMain does with m_executeQueue), binds the calling
// goroutine as worker 0's root fiber, and starts one background goroutine
// for each of workers 1..NumWorkerThreads-1, each driving its own root
// fiber.
func NewScheduler(cfg Config) (*Scheduler, error) {
	cfg.setDefaults()
	if cfg.NumHighPriorityWorkerThreads > cfg.NumWorkerThreads {
		return nil, fmt.Errorf("fiber: NumHighPriorityWorkerThreads (%d) exceeds NumWorkerThreads (%d)",
			cfg.NumHighPriorityWorkerThreads, cfg.NumWorkerThreads)
	}

	log := cfg.Logger.With().Str("component", "fiber.Scheduler").Logger()
	s := &Scheduler{
		cfg:               cfg,
		log:               log,
		fibers:            newFiberRegistry(),
		lowPriorityTasks:  newIntrusiveQueue[*Task](&Task{}),
		highPriorityTasks: newIntrusiveQueue[*Task](&Task{}),
		readyFibers:       newIntrusiveQueue[*Fiber](&Fiber{}),
	}
	s.tasksCond = sync.NewCond(&s.tasksMu)
	s.waitingCond = sync.NewCond(&s.waitingMu)
	s.metrics = newSchedulerMetrics(registererOrDefault(cfg.MetricsRegisterer))

	numWorkers := int(cfg.NumWorkerThreads)
	s.workers = make([]*workerData, numWorkers)

	fiberID := 0
	for i := 0; i < numWorkers; i++ {
		isHP := i < int(cfg.NumHighPriorityWorkerThreads)
		w := newWorkerData(i, isHP)
		s.workers[i] = w

		numSmall, numLarge := cfg.NumSmallFibersPerThread, cfg.NumLargeFibersPerThread
		if isHP {
			numSmall, numLarge = cfg.NumSmallFibersPerHPThread, cfg.NumLargeFibersPerHPThread
		}
		for j := uint(0); j < numSmall; j++ {
			f := newFiber(fiberID, s, false, false, -1)
			fiberID++
			s.allFibers = append(s.allFibers, f)
			s.readyFibers.push(f)
		}
		for j := uint(0); j < numLarge; j++ {
			f := newFiber(fiberID, s, false, true, -1)
			fiberID++
			s.allFibers = append(s.allFibers, f)
			s.readyFibers.push(f)
		}

		root := newFiber(fiberID, s, true, false, int32(i))
		fiberID++
		w.rootFiber = root
		s.allFibers = append(s.allFibers, root)
	}
	s.maxWaitingServiceFibers = int64(len(s.allFibers) + numWorkers)
	s.metrics.fibersTotal.Set(float64(len(s.allFibers)))

	// Worker 0 is special, mirroring FiberManager::InitMain: the goroutine
	// calling NewScheduler is bound directly as worker 0's root fiber and
	// returns immediately, rather than being driven by a spawned goroutine
	// running the generic dispatch loop. It becomes "a fiber for the
	// duration" (spec.md §4.3.5) purely by virtue of that binding — nothing
	// pops tasks on its behalf until it later calls YieldFiber or
	// WaitForCounter itself. Workers 1..N-1 are real background goroutines
	// running the dispatch loop, the equivalent of the original's
	// WorkerMain OS threads.
	s.workers[0].rootFiber.bindCallerAsRoot(s.workers[0])

	var g errgroup.Group
	s.group = &g
	for i := 1; i < numWorkers; i++ {
		w := s.workers[i]
		s.group.Go(func() error {
			w.rootFiber.runRoot(w)
			return nil
		})
	}

	s.log.Info().
		Int("workers", numWorkers).
		Int("high_priority_workers", int(cfg.NumHighPriorityWorkerThreads)).
		Int("fibers", len(s.allFibers)).
		Msg("fiber scheduler started")
	return s, nil
}

// Purge stops accepting new scheduling work and joins every worker and
// pool-fiber goroutine. Callers must not call it while any task batch is
// still in flight (RunTasks must have been joined via WaitForCounter
// first) — Purge only wakes fibers that are idle, not ones parked deep in
// a WaitForCounter/EnqueueRequest wait, exactly mirroring spec.md's
// lifecycle contract that Purge happens at quiescence. See DESIGN.md.
func (s *Scheduler) Purge() error {
	if !s.exitRequested.CompareAndSwap(false, true) {
		return fmt.Errorf("fiber: Purge called more than once")
	}

	// Wake every background worker goroutine (1..N-1 — worker 0 never
	// parks in waitForTasks). Mirrors Cleanup()'s
	// NotifyWorkerThreadsOfTasks(m_workerThreads.size()); waitForTasks'
	// loop also rechecks exitRequested directly, so this is belt-and-braces
	// rather than load-bearing the way it is in the original.
	s.tasksMu.Lock()
	s.numTasks += int64(len(s.workers) - 1)
	s.tasksMu.Unlock()
	s.tasksCond.Broadcast()
	s.waitingCond.Broadcast()

	// Every fiber not currently driving a worker is parked inside
	// awaitResume, sitting in the ready queue or some worker's affinity
	// queue, waiting for a future switch that (absent this drain) would
	// never come — nothing else is going to pop and resume it once its
	// worker's dispatch loop has already returned. Unlike the reference
	// implementation, a parked Go fiber is its own goroutine rather than a
	// suspended stack on a shared OS thread, so there's no need to walk a
	// chain of switches back to a worker's own root before that worker can
	// stop: resuming a parked fiber directly lets it observe
	// exitRequested and return on its own. Drain until a full pass finds
	// nothing left to wake.
	s.drainParkedFibers()

	if err := s.group.Wait(); err != nil {
		return err
	}
	s.fiberWG.Wait()
	s.purged.Store(true)
	s.log.Info().Msg("fiber scheduler purged")
	return nil
}

// RunTasks publishes a batch of tasks to the shared low- or high-priority
// queue and wakes any worker parked waiting for work. Mirrors
// FiberManager::RunTasks / RunHighPriorityTasks.
func (s *Scheduler) RunTasks(tasks []*Task, counter *Counter, priority Priority) {
	if len(tasks) == 0 {
		return
	}
	if counter == nil {
		panic("fiber: RunTasks requires a non-nil counter")
	}
	if s.purged.Load() {
		panic("fiber: RunTasks called after Purge")
	}

	counter.IncRef(int64(len(tasks)))
	for _, t := range tasks {
		t.setCounter(counter)
	}

	q := s.lowPriorityTasks
	if priority == High {
		q = s.highPriorityTasks
	}
	q.pushRange(tasks)
	s.notifyWorkerThreadsOfTasks(len(tasks))
	s.metrics.tasksSubmitted.Add(float64(len(tasks)))
}

// YieldFiber cooperatively hands this fiber's worker to another ready
// fiber. Must be called from inside a fiber (a task body, directly or
// nested arbitrarily deep). Mirrors FiberManager::YieldFiber, which is
// just NextFiber().
func (s *Scheduler) YieldFiber() {
	f := s.currentFiberOrPanic("YieldFiber")
	s.nextFiber(f)
}

// WaitForCounter blocks the calling fiber, yielding its worker to other
// work, until counter reaches zero. Must be called from inside a fiber:
// the goroutine that called NewScheduler, or a task body at any nesting
// depth. While waiting it runs queued tasks inline, so each nested wait
// adds to the calling goroutine's stack depth.
// Mirrors FiberManager::WaitForCounter.
func (s *Scheduler) WaitForCounter(counter *Counter) {
	f := s.currentFiberOrPanic("WaitForCounter")
	for !counter.IsZero() {
		if task := s.popTask(); task != nil {
			task.execute()
			s.notifyTaskComplete()
			continue
		}
		w := s.workers[f.workerIndex]
		if w.index != 0 {
			s.waitForTasks()
		}
		s.waitForFiber()
		s.nextFiber(f)
	}
}

// IsInFiberThread reports whether the calling goroutine is executing as a
// fiber (a worker's root fiber counts).
func (s *Scheduler) IsInFiberThread() bool {
	return s.fibers.lookup() != nil
}

// FiberThreadID returns the index of the worker currently driving the
// calling fiber, or -1 if the caller is not a fiber.
func (s *Scheduler) FiberThreadID() int {
	f := s.fibers.lookup()
	if f == nil {
		return -1
	}
	return int(f.workerIndex)
}

func (s *Scheduler) currentFiberOrPanic(who string) *Fiber {
	f := s.fibers.lookup()
	if f == nil {
		panic(fmt.Sprintf("fiber: %s called from a non-fiber goroutine", who))
	}
	return f
}

// dispatchLoop is the generic body every fiber (root or pool) runs: claim
// whatever task is available, or hand the stack to another ready fiber.
// Mirrors Fiber::Run().
func (s *Scheduler) dispatchLoop(f *Fiber) {
	for {
		if s.exitRequested.Load() {
			return
		}

		if task := s.popTask(); task != nil {
			task.execute()
			s.notifyTaskComplete()
			continue
		}

		w := s.workers[f.workerIndex]
		if w.index != 0 {
			s.waitForTasks()
		}
		if s.exitRequested.Load() {
			return
		}
		s.waitForFiber()
		s.nextFiber(f)
	}
}

// nextFiber switches this worker from `current` to the next available
// fiber: a fiber pinned to this worker takes priority over the global
// ready queue; a popped fiber pinned to a different worker is handed off
// to that worker's affinity queue instead of being run here. The caller
// resumes exactly where this call blocks, once some future switch resumes
// `current` again. Mirrors FiberManager::NextFiber.
func (s *Scheduler) nextFiber(current *Fiber) {
	w := s.workers[current.workerIndex]

	next, ok := w.affinityQueue.pop()
	if !ok {
		next, ok = s.readyFibers.pop()
	}
	if !ok {
		return
	}

	if next.ownerThread >= 0 && int(next.ownerThread) != w.index {
		s.workers[next.ownerThread].affinityQueue.push(next)
		next, ok = s.readyFibers.pop()
		if !ok {
			return
		}
		if next.ownerThread >= 0 && int(next.ownerThread) != w.index {
			s.workers[next.ownerThread].affinityQueue.push(next)
			return
		}
	}

	w.lastFiber = current
	next.ensureStarted()
	s.metrics.fiberSwitches.Inc()
	next.resumeCh <- resumeMsg{worker: w}
	current.awaitResume()
}

// resumeThisFiber restores a worker's bookkeeping once `me` has been
// switched into: it flushes whichever fiber the worker just switched away
// from onto the ready queue (only now that the switch has fully
// completed — the parking-slot hand-off invariant) and records `me` as
// the worker's current fiber. Mirrors FiberManager::ResumeThisFiber.
func (s *Scheduler) resumeThisFiber(w *workerData, me *Fiber) {
	if w.lastFiber != nil {
		last := w.lastFiber
		w.lastFiber = nil
		s.readyFibers.push(last)
	}
	w.currentFiber = me
	me.workerIndex = int32(w.index)
}

// drainParkedFibers resumes every fiber currently sitting in the global
// ready queue or a worker's affinity queue, so its own goroutine wakes,
// observes exitRequested, and returns. It loops until a full pass across
// every queue comes back empty; resuming a fiber can itself push exactly
// one predecessor back onto the ready queue (the fiber it last switched
// away from, via resumeThisFiber), so a single pass is not always enough.
func (s *Scheduler) drainParkedFibers() {
	for {
		progressed := false
		if f, ok := s.readyFibers.pop(); ok {
			s.wakeParkedFiber(f)
			progressed = true
		}
		for _, w := range s.workers {
			if f, ok := w.affinityQueue.pop(); ok {
				s.wakeParkedFiber(f)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// wakeParkedFiber resumes a fiber that is either parked in awaitResume or
// has never run at all (still sitting in its startup ready-queue slot).
// The worker identity handed to it only matters for bookkeeping a fiber
// that is about to return immediately anyway, so an unpinned fiber is
// just assigned worker 0.
func (s *Scheduler) wakeParkedFiber(f *Fiber) {
	f.ensureStarted()
	w := s.workers[0]
	if f.ownerThread >= 0 {
		w = s.workers[f.ownerThread]
	}
	f.resumeCh <- resumeMsg{worker: w}
}

func (s *Scheduler) popTask() *Task {
	if t, ok := s.highPriorityTasks.pop(); ok {
		return t
	}
	if t, ok := s.lowPriorityTasks.pop(); ok {
		return t
	}
	return nil
}

func (s *Scheduler) notifyWorkerThreadsOfTasks(n int) {
	s.tasksMu.Lock()
	s.numTasks += int64(n)
	s.tasksMu.Unlock()
	s.tasksCond.Broadcast()
}

func (s *Scheduler) notifyTaskComplete() {
	s.tasksMu.Lock()
	s.numTasks--
	s.tasksMu.Unlock()
	s.tasksCond.Broadcast()
	s.metrics.tasksCompleted.Inc()
}

// waitForTasks blocks worker goroutines other than worker 0 while no
// tasks are queued. Worker 0 skipping this wait is preserved verbatim
// from FiberManager::WaitForTasks; spec.md documents no rationale for the
// asymmetry and none is invented here (DESIGN.md, Open Question 2).
func (s *Scheduler) waitForTasks() {
	s.tasksMu.Lock()
	for s.numTasks == 0 && !s.exitRequested.Load() {
		s.tasksCond.Wait()
	}
	s.tasksMu.Unlock()
}

// waitForFiber throttles scheduling progress while the number of fibers
// parked on a service response equals the configured ceiling. The ceiling
// itself (numFibers + numWorkers) is preserved verbatim from
// FiberManager's m_maxWaitingServiceFibers; see DESIGN.md, Open Question 3.
func (s *Scheduler) waitForFiber() {
	s.waitingMu.Lock()
	for s.numWaitingServiceFibers >= s.maxWaitingServiceFibers && !s.exitRequested.Load() {
		s.waitingCond.Wait()
	}
	s.waitingMu.Unlock()
}

func (s *Scheduler) incWaitingServiceFiber() {
	s.waitingMu.Lock()
	s.numWaitingServiceFibers++
	s.waitingMu.Unlock()
	s.metrics.serviceFibersWaiting.Inc()
}

func (s *Scheduler) notifyServiceComplete() {
	s.waitingMu.Lock()
	s.numWaitingServiceFibers--
	s.waitingMu.Unlock()
	s.waitingCond.Broadcast()
	s.metrics.serviceFibersWaiting.Dec()
}

func registererOrDefault(r prometheus.Registerer) prometheus.Registerer {
	if r != nil {
		return r
	}
	return prometheus.DefaultRegisterer
}
