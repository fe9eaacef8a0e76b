package taskmgr

import "sync/atomic"

// taskPool is a single worker's fixed-capacity Job allocator: a bump
// allocator over preallocated storage (capacity equals the owning worker's
// deque capacity — spec.md §9 notes a Job can never outnumber deque slots)
// plus a same-thread free list and a cross-thread free list.
//
// Grounded on TaskMgr::ThreadLocalData / AllocateTask / FreeTask
// (original_source/src/taskmgr.cpp). The C++ version reuses Task::m_parent
// as the intrusive link for both free lists since a freed task has no
// parent left to track; this port keeps that reuse.
type taskPool struct {
	ownerIndex int32
	storage    []Job
	next       int // bump cursor, owner-only

	localFree []*Job // owner-only LIFO, drained before bumping further

	// remoteFree is a CAS-protected stack of Jobs freed by a goroutine other
	// than the owner. The owner drains it into localFree on its next
	// allocation, exactly like ThreadLocalData::m_freeList.
	remoteFree atomic.Pointer[Job]
}

func newTaskPool(ownerIndex int32, capacity int64) *taskPool {
	return &taskPool{
		ownerIndex: ownerIndex,
		storage:    make([]Job, capacity),
	}
}

// allocate drains any remotely-freed jobs, then serves from the local free
// list, then bumps into fresh storage. Returns nil once both are exhausted,
// which happens whenever more Jobs are outstanding (unfinished, or still
// held by a Handle) than the pool's capacity.
func (p *taskPool) allocate() *Job {
	p.drainRemote()

	if n := len(p.localFree); n > 0 {
		j := p.localFree[n-1]
		p.localFree = p.localFree[:n-1]
		j.ownerIndex = p.ownerIndex
		return j
	}

	if p.next < len(p.storage) {
		j := &p.storage[p.next]
		p.next++
		j.ownerIndex = p.ownerIndex
		return j
	}

	return nil
}

// free returns job to its owning pool: the fast path appends to the
// owner's own localFree when called from the owner goroutine; otherwise it
// CAS-loops the job onto the owner's remoteFree stack, reusing job.parent
// as the link exactly as FreeTask does.
func (p *taskPool) free(job *Job, calledFromOwner bool) {
	job.reset()
	if calledFromOwner {
		p.localFree = append(p.localFree, job)
		return
	}
	for {
		head := p.remoteFree.Load()
		job.parent = head
		if p.remoteFree.CompareAndSwap(head, job) {
			return
		}
	}
}

func (p *taskPool) drainRemote() {
	head := p.remoteFree.Swap(nil)
	for head != nil {
		next := head.parent
		head.parent = nil
		p.localFree = append(p.localFree, head)
		head = next
	}
}
