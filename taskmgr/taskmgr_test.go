package taskmgr

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ManagerTestSuite struct {
	suite.Suite
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (ts *ManagerTestSuite) TestSingleWorkerRunWait() {
	m := NewManager(0)
	defer m.Shutdown()

	var ran atomic.Bool
	h, err := m.CreateTask(func(*Job, []byte) {
		ran.Store(true)
	})
	ts.Require().NoError(err)

	ts.Require().NoError(m.Run(h))
	m.Wait(h)

	ts.True(ran.Load())
	m.Release(h)
}

func (ts *ManagerTestSuite) TestChildTasksCompleteBeforeParent() {
	m := NewManager(4)
	defer m.Shutdown()

	var childRuns atomic.Int32
	var childrenHandles []Handle

	root, err := m.CreateTask(func(*Job, []byte) {})
	ts.Require().NoError(err)

	const numChildren = 50
	for i := 0; i < numChildren; i++ {
		ch, err := m.CreateChildTask(root, func(*Job, []byte) {
			childRuns.Add(1)
		})
		ts.Require().NoError(err)
		childrenHandles = append(childrenHandles, ch)
	}

	for _, ch := range childrenHandles {
		ts.Require().NoError(m.Run(ch))
	}
	ts.Require().NoError(m.Run(root))

	m.Wait(root)

	ts.Equal(int32(numChildren), childRuns.Load())
	for _, ch := range childrenHandles {
		m.Release(ch)
	}
	m.Release(root)
}

// TestStealUnderContention is seed scenario 6: with several workers,
// 10,000 child jobs submitted by the root goroutine are executed and the
// total count must equal exactly 10,000 (invariant 3: every item claimed
// exactly once). How the jobs are shared among workers is not asserted.
// LogSize 14 (capacity 16384) leaves room for all 10,001 jobs on owner 0.
func (ts *ManagerTestSuite) TestStealUnderContention() {
	const numWorkers = 8
	const numJobs = 10000

	m := NewManagerConfigForTest(ts.T(), Config{NumWorkers: numWorkers, LogSize: 14})
	defer m.Shutdown()

	var total atomic.Int64
	root, err := m.CreateTask(func(*Job, []byte) {})
	ts.Require().NoError(err)

	handles := make([]Handle, 0, numJobs)
	for i := 0; i < numJobs; i++ {
		h, err := m.CreateChildTask(root, func(*Job, []byte) {
			total.Add(1)
		})
		ts.Require().NoError(err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		ts.Require().NoError(m.Run(h))
	}
	ts.Require().NoError(m.Run(root))

	m.Wait(root)

	ts.Equal(int64(numJobs), total.Load())
	for _, h := range handles {
		m.Release(h)
	}
	m.Release(root)
}

func (ts *ManagerTestSuite) TestSetDataVisibleToFunction() {
	m := NewManager(0)
	defer m.Shutdown()

	var seen []byte
	h, err := m.CreateTask(func(j *Job, data []byte) {
		seen = append([]byte(nil), data...)
	})
	ts.Require().NoError(err)
	ts.Require().NoError(h.SetData([]byte("payload")))

	ts.Require().NoError(m.Run(h))
	m.Wait(h)

	ts.Equal([]byte("payload"), seen)
	m.Release(h)
}

func (ts *ManagerTestSuite) TestSetDataRejectsOversizePayload() {
	m := NewManager(0)
	defer m.Shutdown()

	h, err := m.CreateTask(func(*Job, []byte) {})
	ts.Require().NoError(err)
	err = h.SetData(make([]byte, jobDataCapacity+1))
	ts.Error(err)
	m.Release(h)
}

func (ts *ManagerTestSuite) TestRunFailsPastDequeCapacity() {
	m := NewManagerConfigForTest(ts.T(), Config{NumWorkers: 0, LogSize: 2}) // capacity 4, usable 3
	defer m.Shutdown()

	var handles []Handle
	failed := 0
	for i := 0; i < 10; i++ {
		h, err := m.CreateTask(func(*Job, []byte) {})
		if err != nil {
			failed++
			continue
		}
		if err := m.Run(h); err != nil {
			failed++
			m.Release(h)
			continue
		}
		handles = append(handles, h)
	}

	ts.Greater(failed, 0)
	for _, h := range handles {
		m.Wait(h)
		m.Release(h)
	}
}

// NewManagerConfigForTest is a small test helper wrapping
// NewManagerWithConfig so table-style capacity tests don't need to repeat
// the error-handling boilerplate inline.
func NewManagerConfigForTest(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManagerWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	return m
}
