package fiber

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type SchedulerTestSuite struct {
	suite.Suite
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

// TestSingleWorkerCorrectness is seed scenario 3: one worker, 100 tasks that
// each yield three times. With NumWorkerThreads 1, no background worker
// goroutine is ever spawned (fiber/scheduler.go's NewScheduler loop starts
// at index 1) — every task runs via the submitter's own inline popTask path
// in WaitForCounter, or a pool fiber it switches into directly.
func (ts *SchedulerTestSuite) TestSingleWorkerCorrectness() {
	s, err := NewScheduler(Config{NumWorkerThreads: 1, Logger: NopLogger()})
	ts.Require().NoError(err)

	const n = 100
	var completed atomic.Int32
	counter := &Counter{}

	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = NewTask(func(any) {
			s.YieldFiber()
			s.YieldFiber()
			s.YieldFiber()
			completed.Add(1)
		}, nil, false)
	}

	s.RunTasks(tasks, counter, Low)
	s.WaitForCounter(counter)

	ts.Equal(int32(n), completed.Load())
	ts.True(counter.IsZero())

	ts.Require().NoError(s.Purge())
}

// TestNestedFibersSpawnChild is seed scenario 1: 10,000 independent parent
// tasks under one counter, each of which yields twice, then spawns its own
// one-task child counter and waits on it. Expected: all 10,000 parents and
// 10,000 children complete; the outer counter reaches zero; no deadlock.
func (ts *SchedulerTestSuite) TestNestedFibersSpawnChild() {
	s, err := NewScheduler(Config{NumWorkerThreads: 4, Logger: NopLogger()})
	ts.Require().NoError(err)

	const n = 10000
	var totalDone atomic.Int64
	outer := &Counter{}

	parents := make([]*Task, n)
	for i := range parents {
		parents[i] = NewTask(func(any) {
			s.YieldFiber()
			s.YieldFiber()

			childCounter := &Counter{}
			child := NewTask(func(any) {
				s.YieldFiber()
				s.YieldFiber()
				totalDone.Add(1)
			}, nil, false)
			s.RunTasks([]*Task{child}, childCounter, Low)
			s.WaitForCounter(childCounter)

			totalDone.Add(1)
		}, nil, false)
	}

	s.RunTasks(parents, outer, Low)
	s.WaitForCounter(outer)

	ts.Equal(int64(2*n), totalDone.Load())
	ts.True(outer.IsZero())

	ts.Require().NoError(s.Purge())
}

type sleepyService struct {
	runner    *serviceRunner
	sleepFor  time.Duration
	cancelled atomic.Int32
}

func (svc *sleepyService) Update() bool {
	req, ok := svc.runner.PopRequest()
	if !ok {
		return false
	}
	time.Sleep(svc.sleepFor)
	req.Complete()
	return true
}

func (svc *sleepyService) CancelRequest(req *ServiceRequest) {
	svc.cancelled.Add(1)
	req.Complete()
}

// TestServiceOffload is seed scenario 4: 50 fibers each issue one request to
// a service that sleeps 1ms per request; all 50 must complete.
func (ts *SchedulerTestSuite) TestServiceOffload() {
	s, err := NewScheduler(Config{NumWorkerThreads: 2, Logger: NopLogger()})
	ts.Require().NoError(err)

	svc := &sleepyService{sleepFor: time.Millisecond}
	runner := NewServiceRunner(s, svc)
	svc.runner = runner
	runner.Start()

	const n = 50
	var completed atomic.Int32
	counter := &Counter{}

	tasks := make([]*Task, n)
	for i := range tasks {
		i := i
		tasks[i] = NewTask(func(any) {
			s.EnqueueRequest(runner, i)
			completed.Add(1)
		}, nil, false)
	}

	s.RunTasks(tasks, counter, Low)
	s.WaitForCounter(counter)

	ts.Equal(int32(n), completed.Load())
	runner.Stop()

	ts.Require().NoError(s.Purge())
}

// TestShutdownAfterQuiescence exercises Purge's documented contract
// (DESIGN.md, Open Question 1): called after WaitForCounter has already
// joined every submitted task, it must leave no worker or fiber goroutine
// running, and reject a second call rather than silently double-releasing.
func (ts *SchedulerTestSuite) TestShutdownAfterQuiescence() {
	s, err := NewScheduler(Config{NumWorkerThreads: 4, Logger: NopLogger()})
	ts.Require().NoError(err)

	const n = 1000
	var completed atomic.Int32
	counter := &Counter{}

	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = NewTask(func(any) {
			completed.Add(1)
		}, nil, false)
	}
	s.RunTasks(tasks, counter, Low)
	s.WaitForCounter(counter)

	ts.Equal(int32(n), completed.Load())

	ts.Require().NoError(s.Purge())
	ts.Error(s.Purge())
}

// TestWaitForCounterAlreadyZeroIsNoop is a boundary behavior: waiting on an
// already-zero counter must not run anything inline.
func (ts *SchedulerTestSuite) TestWaitForCounterAlreadyZeroIsNoop() {
	s, err := NewScheduler(Config{NumWorkerThreads: 1, Logger: NopLogger()})
	ts.Require().NoError(err)

	counter := &Counter{}
	s.WaitForCounter(counter)
	ts.True(counter.IsZero())

	ts.Require().NoError(s.Purge())
}

// TestRunTasksZeroIsNoop is a boundary behavior: run_tasks(_, 0, _, _) must
// leave the counter unchanged.
func (ts *SchedulerTestSuite) TestRunTasksZeroIsNoop() {
	s, err := NewScheduler(Config{NumWorkerThreads: 1, Logger: NopLogger()})
	ts.Require().NoError(err)

	counter := &Counter{}
	counter.IncRef(1)
	s.RunTasks(nil, counter, Low)
	ts.False(counter.IsZero())
	counter.DecRef()

	ts.Require().NoError(s.Purge())
}
