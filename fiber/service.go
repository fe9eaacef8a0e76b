package fiber

import "sync/atomic"

// Service absorbs blocking work off the fiber pool onto its own
// dedicated goroutine. Update is called whenever the runner has been
// notified of new requests (or periodically needs to poll); it should
// report whether it made progress so the runner knows whether to block
// for the next notification. CancelRequest is invoked once per request
// still queued when Stop drains the queue; like Update, it must call
// Complete on the request, or the fiber waiting on it never resumes.
//
// Grounded on lptk::fiber::FiberService (original_source/src/fiber.cpp,
// src/include/toolkit/fiber.hh).
type Service interface {
	Update() bool
	CancelRequest(req *ServiceRequest)
}

// ServiceRequest pairs a client fiber's payload with the private counter
// that EnqueueRequest blocks on. A Service implementation calls Complete
// exactly once per request, whether it succeeded, failed, or was
// cancelled at shutdown.
type ServiceRequest struct {
	Payload any

	fiber   *Fiber
	counter *Counter
	runner  *serviceRunner
	next    *ServiceRequest
}

// Complete releases the client fiber blocked in EnqueueRequest. Exactly
// one call per request; a second call panics via Counter's
// decrement-past-zero guard.
func (r *ServiceRequest) Complete() {
	r.counter.DecRef()
	r.runner.sched.notifyServiceComplete()
}

func (r *ServiceRequest) getNext() *ServiceRequest  { return r.next }
func (r *ServiceRequest) setNext(n *ServiceRequest) { r.next = n }

// serviceRunner drives a Service on its own goroutine, fed by an
// intrusive queue of pending requests. Mirrors the m_queue/m_thread
// pairing in FiberService, with Go's idiomatic non-blocking-notify
// pattern (a 1-buffered channel plus a "notified" flag) standing in for
// the original's semaphore.
type serviceRunner struct {
	sched *Scheduler
	svc   Service

	queue    *intrusiveQueue[*ServiceRequest]
	notifyCh chan struct{}
	notified atomic.Bool
	finished atomic.Bool
	done     chan struct{}
}

// NewServiceRunner wraps svc in a runner bound to scheduler s.
// EnqueueRequest (called from inside a fiber) hands work to it.
func NewServiceRunner(s *Scheduler, svc Service) *serviceRunner {
	return &serviceRunner{
		sched:    s,
		svc:      svc,
		queue:    newIntrusiveQueue[*ServiceRequest](&ServiceRequest{}),
		notifyCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the service's background goroutine.
func (r *serviceRunner) Start() {
	go r.run()
}

func (r *serviceRunner) run() {
	defer close(r.done)
	for !r.finished.Load() {
		if !r.svc.Update() {
			r.waitForNotify()
		}
	}
	for {
		req, ok := r.queue.pop()
		if !ok {
			break
		}
		r.svc.CancelRequest(req)
	}
}

// Stop requests the service goroutine to drain and exit, cancelling any
// request still queued, and joins it. Mirrors FiberService::Stop.
func (r *serviceRunner) Stop() {
	r.finished.Store(true)
	r.notify()
	<-r.done
}

func (r *serviceRunner) notify() {
	if !r.notified.Swap(true) {
		select {
		case r.notifyCh <- struct{}{}:
		default:
		}
	}
}

func (r *serviceRunner) waitForNotify() {
	if !r.notified.Swap(false) {
		<-r.notifyCh
	}
}

// PopRequest lets a Service implementation pull the next pending request
// from inside its own Update method.
func (r *serviceRunner) PopRequest() (*ServiceRequest, bool) {
	return r.queue.pop()
}

// EnqueueRequest suspends the calling fiber (any nesting depth) until the
// service completes the request. It must be called from inside a fiber;
// this is the only function a client fiber calls directly — the rest of
// the Service machinery runs on the service's own goroutine. Mirrors
// FiberManager::YieldFiberToService.
func (s *Scheduler) EnqueueRequest(r *serviceRunner, payload any) {
	f := s.currentFiberOrPanic("EnqueueRequest")

	counter := &Counter{}
	counter.IncRef(1)
	req := &ServiceRequest{Payload: payload, fiber: f, counter: counter, runner: r}

	r.queue.push(req)
	r.notify()
	s.incWaitingServiceFiber()

	for !counter.IsZero() {
		s.waitForFiber()
		s.nextFiber(f)
	}
}
