// Package taskmgr implements the work-stealing alternative to the fiber
// scheduler: cache-line-sized Jobs scheduled on per-worker Chase-Lev deques,
// with parent/child completion tracked through an atomic "unfinished" count
// and handles refcounted through "users".
//
// Grounded on original_source/src/taskmgr.cpp and
// src/include/toolkit/taskmgr.hh (lptk::task::TaskMgr). Unlike the fiber
// package, a taskmgr worker is a single persistent goroutine per OS thread
// slot — there is no stack-switching cost to hide here, so no
// fiber-per-goroutine indirection is needed; this is the part of the spec
// that maps onto goroutines with the least adaptation.
package taskmgr

import (
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config configures a Manager. NumWorkers mirrors TaskMgr's constructor
// argument: it is the number of *additional* worker goroutines spawned
// alongside the calling goroutine, which becomes owner 0 (exactly as
// TaskMgr::TaskMgr sizes m_ownerData to numThreads+1 and binds the
// constructing thread to index 0).
type Config struct {
	NumWorkers int
	// LogSize sets each owner's deque capacity to 2^LogSize entries, and
	// therefore also that owner's Job pool capacity (spec.md §9: "the
	// allocator uses a fixed pool whose size equals deque capacity").
	// Defaults to 12 (4096), matching ThreadLocalData::kLogSize.
	LogSize uint

	Logger            zerolog.Logger
	MetricsRegisterer prometheus.Registerer
}

func (c *Config) setDefaults() {
	if c.LogSize == 0 {
		c.LogSize = 12
	}
}

// ownerData is one worker's (or the main goroutine's) private scheduling
// state: its deque, its Job pool, and its round-robin steal cursor.
// Grounded on TaskMgr::ThreadLocalData.
type ownerData struct {
	index      int
	dq         *deque
	pool       *taskPool
	stealIndex int
}

// Manager is the Go analogue of lptk::task::TaskMgr: a fixed set of owners
// (the calling goroutine plus Config.NumWorkers background workers), each
// with its own deque and Job pool, round-robin work stealing when a
// worker's own deque runs dry, and parent/child completion propagation.
type Manager struct {
	log      zerolog.Logger
	metrics  *managerMetrics
	owners   []*ownerData
	registry *ownerRegistry
	done     atomic.Bool
	group    *errgroup.Group
}

// NewManager starts a Manager with numWorkers background worker goroutines
// in addition to the calling goroutine (which becomes owner 0 and may call
// CreateTask/Run/Wait directly, exactly as lptk::task::Init/the global
// TaskMgr singleton's constructing thread does).
func NewManager(numWorkers int) *Manager {
	m, err := NewManagerWithConfig(Config{NumWorkers: numWorkers})
	if err != nil {
		// The only failure is a negative numWorkers (zero just means "main
		// goroutine only").
		panic(err)
	}
	return m
}

// NewManagerWithConfig is NewManager with the ambient logging/metrics knobs
// exposed, the taskmgr equivalent of fiber.NewScheduler(Config).
func NewManagerWithConfig(cfg Config) (*Manager, error) {
	cfg.setDefaults()
	if cfg.NumWorkers < 0 {
		return nil, fmt.Errorf("taskmgr: NumWorkers must be >= 0, got %d", cfg.NumWorkers)
	}

	log := cfg.Logger.With().Str("component", "taskmgr.Manager").Logger()
	numOwners := cfg.NumWorkers + 1
	m := &Manager{
		log:      log,
		metrics:  newManagerMetrics(registererOrDefault(cfg.MetricsRegisterer)),
		owners:   make([]*ownerData, numOwners),
		registry: newOwnerRegistry(),
	}
	for i := 0; i < numOwners; i++ {
		m.owners[i] = &ownerData{
			index: i,
			dq:    newDeque(cfg.LogSize),
			pool:  newTaskPool(int32(i), int64(1)<<cfg.LogSize),
		}
	}
	m.registry.bind(0)

	var g errgroup.Group
	m.group = &g
	for i := 1; i < numOwners; i++ {
		idx := i
		m.group.Go(func() error {
			m.registry.bind(idx)
			defer m.registry.unbind()
			m.workerLoop(m.owners[idx])
			return nil
		})
	}

	log.Info().Int("workers", cfg.NumWorkers).Int("log_size", int(cfg.LogSize)).Msg("task manager started")
	return m, nil
}

// Shutdown flips the exit flag and joins every background worker goroutine.
// Mirrors TaskMgr::~TaskMgr; unlike the fiber scheduler there is no fiber
// pool to release, since a taskmgr worker is just a goroutine running
// workerLoop directly.
func (m *Manager) Shutdown() {
	m.done.Store(true)
	_ = m.group.Wait()
	m.log.Info().Msg("task manager shut down")
}

func (m *Manager) workerLoop(owner *ownerData) {
	for !m.done.Load() {
		if job := m.getTask(owner); job != nil {
			m.execute(job)
		}
	}
}

// currentOwner resolves which ownerData the calling goroutine is bound to,
// panicking if it is neither the constructing goroutine nor a worker —
// spec.md §7 treats this as a contract violation, the taskmgr analogue of
// fiber's currentFiberOrPanic.
func (m *Manager) currentOwner(who string) *ownerData {
	idx := m.registry.lookup()
	if idx < 0 {
		panic(fmt.Sprintf("taskmgr: %s called from a goroutine that is neither the manager's owner nor one of its workers", who))
	}
	return m.owners[idx]
}

// CreateTask allocates a root Job from the calling owner's pool. Grounded
// on TaskMgr::CreateTask.
func (m *Manager) CreateTask(fn JobFunc) (Handle, error) {
	owner := m.currentOwner("CreateTask")
	job := owner.pool.allocate()
	if job == nil {
		return Handle{}, fmt.Errorf("taskmgr: owner %d's job pool is exhausted (capacity %d)", owner.index, len(owner.pool.storage))
	}
	job.fn = fn
	job.parent = nil
	job.unfinished.Store(1)
	job.users.Store(0)
	return newHandle(job), nil
}

// CreateChildTask allocates a Job whose completion also counts toward
// parent's unfinished count, incremented before the child is published
// anywhere a worker could observe it. Grounded on TaskMgr::CreateChildTask.
func (m *Manager) CreateChildTask(parent Handle, fn JobFunc) (Handle, error) {
	if parent.job == nil {
		panic("taskmgr: CreateChildTask requires a valid parent handle")
	}
	owner := m.currentOwner("CreateChildTask")
	job := owner.pool.allocate()
	if job == nil {
		return Handle{}, fmt.Errorf("taskmgr: owner %d's job pool is exhausted (capacity %d)", owner.index, len(owner.pool.storage))
	}

	parent.job.unfinished.Add(1)

	job.fn = fn
	job.parent = parent.job
	job.unfinished.Store(1)
	job.users.Store(0)
	return newHandle(job), nil
}

// Run pushes h onto the calling goroutine's own deque. Returns an error if
// the deque (and therefore the job pool backing it) is already at capacity
// — spec.md §9 calls exceeding deque capacity a fatal contract breach in
// the original; this port surfaces it as an error instead (DESIGN.md, Open
// Question 4) rather than growing the buffer or asserting.
func (m *Manager) Run(h Handle) error {
	if h.job == nil {
		panic("taskmgr: Run requires a valid handle")
	}
	owner := m.currentOwner("Run")
	if !owner.dq.push(h.job) {
		return fmt.Errorf("taskmgr: owner %d's deque is at capacity (%d)", owner.index, owner.dq.capacity())
	}
	m.metrics.jobsSubmitted.Inc()
	return nil
}

// Wait blocks the calling goroutine, executing other jobs inline for
// forward progress, until h's job (and all its transitive children) have
// finished. Grounded on TaskMgr::Wait.
func (m *Manager) Wait(h Handle) {
	if h.job == nil {
		panic("taskmgr: Wait requires a valid handle")
	}
	owner := m.currentOwner("Wait")
	for h.job.unfinished.Load() != 0 {
		if job := m.getTask(owner); job != nil {
			m.execute(job)
		}
	}
}

// getTask pops from the calling owner's own deque first; if that comes up
// empty or aborted, it steals from the next candidate victim in round-robin
// order. Grounded on TaskMgr::GetTask/GetStealWorkQueue.
func (m *Manager) getTask(owner *ownerData) *Job {
	if job, result := owner.dq.pop(); result == popOK {
		return job
	}

	victim := m.stealVictim(owner)
	if victim == nil {
		runtime.Gosched()
		return nil
	}

	job, result := victim.dq.steal()
	if result != popOK {
		m.metrics.stealsMissed.Inc()
		runtime.Gosched()
		return nil
	}
	m.metrics.stealsOK.Inc()
	return job
}

// stealVictim advances owner's round-robin cursor and returns the next
// other owner to try, or nil if owner is the only one (single-worker
// configurations never steal from themselves). Ported 1:1 from
// TaskMgr::GetStealWorkQueue.
func (m *Manager) stealVictim(owner *ownerData) *ownerData {
	n := len(m.owners)
	index := owner.stealIndex % n
	if index == owner.index {
		index = (index + 1) % n
	}
	if index != owner.index {
		victim := m.owners[index]
		owner.stealIndex = (index + 1) % n
		return victim
	}
	return nil
}

// execute runs job's function, then propagates completion. Grounded on
// TaskMgr::Execute.
func (m *Manager) execute(job *Job) {
	job.fn(job, job.Data())
	m.finish(job)
	m.metrics.jobsExecuted.Inc()
	m.metrics.perWorkerJobs.WithLabelValues(strconv.Itoa(m.registry.lookup())).Inc()
}

// finish decrements job's unfinished count; if that was the last
// outstanding piece of work (this job plus all its children), it recurses
// up to the parent and, once nobody holds an outstanding Handle either,
// frees the job back to its owner's pool. Grounded on TaskMgr::Finish.
func (m *Manager) finish(job *Job) {
	if job.unfinished.Add(-1) != 0 {
		return
	}
	if job.parent != nil {
		m.finish(job.parent)
	}
	if job.users.Load() == 0 {
		m.freeJob(job)
	}
}

func (m *Manager) freeJob(job *Job) {
	owner := m.owners[job.ownerIndex]
	calledFromOwner := m.registry.lookup() == int(job.ownerIndex)
	owner.pool.free(job, calledFromOwner)
}

// Handle is a refcounted reference to a Job. CreateTask/CreateChildTask
// return a Handle already holding one reference; Manager.Clone/Release
// adjust it further. A Job is only returned to its pool once both its
// unfinished count and its Handle refcount have reached zero, mirroring
// TaskHandle's constructor/destructor/reset bookkeeping — expressed
// explicitly here since Go has no destructors.
type Handle struct {
	job *Job
}

func newHandle(j *Job) Handle {
	j.users.Add(1)
	return Handle{job: j}
}

// Valid reports whether h still refers to a Job (the zero Handle does not).
func (h Handle) Valid() bool { return h.job != nil }

// SetData copies b into the Job's inline payload, visible to the Job's
// function (and any JobFunc it shares the Job with) as Job.Data(). Fails if
// b does not fit in the cache-line-sized inline region.
func (h Handle) SetData(b []byte) error {
	if h.job == nil {
		panic("taskmgr: SetData requires a valid handle")
	}
	if !h.job.setData(b) {
		return fmt.Errorf("taskmgr: data of %d bytes exceeds the %d-byte inline capacity", len(b), len(h.job.data))
	}
	return nil
}

// Clone returns a new Handle sharing h's Job, incrementing its refcount.
func (m *Manager) Clone(h Handle) Handle {
	if h.job == nil {
		return h
	}
	h.job.users.Add(1)
	return h
}

// Release drops h's reference to its Job. If the Job has already finished
// and this was the last outstanding Handle, the Job is returned to its
// owner's pool.
func (m *Manager) Release(h Handle) {
	if h.job == nil {
		return
	}
	if h.job.users.Add(-1) == 0 && h.job.unfinished.Load() == 0 {
		m.freeJob(h.job)
	}
}

func registererOrDefault(r prometheus.Registerer) prometheus.Registerer {
	if r != nil {
		return r
	}
	return prometheus.DefaultRegisterer
}
