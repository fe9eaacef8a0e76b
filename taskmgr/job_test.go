package taskmgr

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/suite"
)

type JobTestSuite struct {
	suite.Suite
}

func TestJobTestSuite(t *testing.T) {
	suite.Run(t, new(JobTestSuite))
}

func (ts *JobTestSuite) TestFitsInOneCacheLine() {
	ts.Equal(uintptr(cacheLineSize), unsafe.Sizeof(Job{}))
}

func (ts *JobTestSuite) TestSetDataRoundTrips() {
	var j Job
	ts.True(j.setData([]byte("hello")))
	ts.Equal([]byte("hello"), j.Data())
}

func (ts *JobTestSuite) TestSetDataRejectsOversize() {
	var j Job
	oversize := make([]byte, jobDataCapacity+1)
	ts.False(j.setData(oversize))
}

func (ts *JobTestSuite) TestResetPoisonsFunction() {
	var j Job
	j.fn = func(*Job, []byte) {}
	j.parent = &Job{}
	j.unfinished.Store(1)
	j.users.Store(1)

	j.reset()

	ts.Nil(j.parent)
	ts.Equal(int32(0), j.unfinished.Load())
	ts.Equal(int32(0), j.users.Load())
	ts.Panics(func() { j.fn(&j, nil) })
}
