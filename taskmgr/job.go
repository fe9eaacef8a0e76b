package taskmgr

import (
	"sync/atomic"
	"unsafe"
)

// cacheLineSize is the padding target for Job, matching
// lptk::task::Task::kCacheLine (original_source/src/include/toolkit/taskmgr.hh).
const cacheLineSize = 64

// jobDataCapacity is whatever remains of a cache line once the fixed Job
// fields are accounted for. Recomputed here rather than hard-coded so a
// change to the fixed fields is caught by the size check in init below
// instead of silently shrinking the inline payload.
const jobDataCapacity = cacheLineSize - 4*8 // fn + parent + (ownerIndex|dataSize) + (unfinished|users)

// JobFunc is the work a Job performs. It receives the job itself (so it can
// call CreateChildTask against it) and a slice over whatever inline payload
// SetData copied in.
type JobFunc func(job *Job, data []byte)

// Job is a cache-line-sized unit of work scheduled by Manager's work-stealing
// deques. Grounded on lptk::task::Task: function pointer, optional parent,
// the owning worker's index, an "unfinished" count that doubles as a
// completion barrier for the whole parent/child subtree, a "users" refcount
// that tracks outstanding Handles, and an inline data region sized to fill
// out the remainder of the cache line.
//
// Job is never constructed directly by callers; Manager.CreateTask and
// Manager.CreateChildTask allocate it from the owning worker's pool.
type Job struct {
	fn         JobFunc
	parent     *Job
	ownerIndex int32
	dataSize   uint32
	unfinished atomic.Int32
	users      atomic.Int32
	data       [jobDataCapacity]byte
}

func init() {
	if unsafe.Sizeof(Job{}) != cacheLineSize {
		panic("taskmgr: Job no longer fits in one cache line; adjust jobDataCapacity")
	}
}

// Data returns the inline payload most recently set via Handle.SetData.
func (j *Job) Data() []byte {
	return j.data[:j.dataSize]
}

func (j *Job) setData(b []byte) bool {
	if len(b) > len(j.data) {
		return false
	}
	j.dataSize = uint32(copy(j.data[:], b))
	return true
}

// reset clears a Job before it re-enters a pool's free list, mirroring
// TaskMgr::FreeTask's memset plus the DeletedTask function-pointer poison.
func (j *Job) reset() {
	j.fn = deletedJob
	j.parent = nil
	j.ownerIndex = -1
	j.dataSize = 0
	j.unfinished.Store(0)
	j.users.Store(0)
}

func deletedJob(*Job, []byte) {
	panic("taskmgr: executed a freed Job")
}
