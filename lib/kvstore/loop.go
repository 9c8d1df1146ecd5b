package kvstore

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// task is one unit of work serialized onto an area's event loop.
type task = func()

// ttlSweepInterval is how often the loop checks the TTL scheduler for
// lapsed deadlines, independent of whatever request traffic is arriving
// (§4.3 "the scheduler wakes at the head deadline").
const ttlSweepInterval = 200 * time.Millisecond

// taskNode is one link in loopQueue's lock-free list.
type taskNode struct {
	fn   task
	next atomic.Pointer[taskNode]
}

// loopQueue is a lock-free multi-producer single-consumer queue of tasks:
// any goroutine may push (RPC handlers, peer I/O callbacks, the sweep
// ticker), and the one loop goroutine drains it via recv. Adapted from
// dKV's generic LockFreeMPSC[T], trimmed to the one type Loop ever queues
// and to the three operations it actually calls (push/recv/close) - the
// generic type parameter and the IsClosed/Len introspection methods had no
// caller once this queue's only use was Loop's task list.
type loopQueue struct {
	head atomic.Pointer[taskNode]
	tail atomic.Pointer[taskNode]
	out  chan task

	closed atomic.Bool
	mu     sync.Mutex
	cond   *sync.Cond
}

// newLoopQueue creates an empty queue and starts its consumer goroutine.
func newLoopQueue() *loopQueue {
	sentinel := &taskNode{}
	q := &loopQueue{out: make(chan task)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	go q.consume()
	return q
}

// push appends fn to the queue. Returns false if fn is nil or the queue is
// closed. Safe to call concurrently from any number of goroutines.
func (q *loopQueue) push(fn task) bool {
	if fn == nil || q.closed.Load() {
		return false
	}

	newNode := &taskNode{fn: fn}
	var backoff uint8

	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// tail update may lose the race to another producer that
				// already helped it along; either way tail converges.
				q.tail.CompareAndSwap(tailNode, newNode)
				q.cond.Signal()
				return true
			}
		} else {
			q.tail.CompareAndSwap(tailNode, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume feeds queued tasks to out in order, blocking on cond when idle.
func (q *loopQueue) consume() {
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			fn := next.fn
			q.head.Store(next)
			q.out <- fn
			next.fn = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// recv returns the channel tasks are delivered on.
func (q *loopQueue) recv() <-chan task {
	return q.out
}

// close stops accepting new tasks; queued tasks already pushed are still
// delivered before recv's channel closes.
func (q *loopQueue) close() {
	q.closed.Store(true)
	q.cond.Signal()
}

// Loop is the single-threaded cooperative event loop backing one area's
// Store (§5). Every merge, TTL sweep, peer I/O callback and subscriber
// registration for that area runs as a task drained from the same
// loopQueue, giving linearizability without locks on the Value Table, TTL
// Scheduler or Peer Set.
type Loop struct {
	queue     *loopQueue
	stopSweep chan struct{}
}

// newLoop creates an idle loop; call Run to start draining it.
func newLoop() *Loop {
	return &Loop{
		queue:     newLoopQueue(),
		stopSweep: make(chan struct{}),
	}
}

// Submit enqueues fn to run on the loop goroutine, returning immediately.
// Safe to call from any goroutine (§5 "peer I/O callbacks").
func (l *Loop) Submit(fn func()) {
	l.queue.push(fn)
}

// SubmitWait enqueues fn and blocks the calling goroutine until it has
// run, the mechanism behind every synchronous request-surface call
// marshaling its work onto the owning loop (§5 "each call marshals its
// work onto the owning area's loop and suspends the caller until the loop
// produces a reply").
func (l *Loop) SubmitWait(fn func()) {
	done := make(chan struct{})
	l.Submit(func() {
		fn()
		close(done)
	})
	<-done
}

// Run drains the task queue on the calling goroutine until Stop is
// called, additionally submitting an onSweep task every ttlSweepInterval.
// Run blocks; callers invoke it in its own goroutine. Store.Run passes a
// closure that runs sweepExpired and selfRefresh (`go store.Run()`).
func (l *Loop) Run(onSweep func()) {
	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				l.Submit(onSweep)
			case <-l.stopSweep:
				return
			}
		}
	}()

	for fn := range l.queue.recv() {
		fn()
	}
}

// Stop closes the task queue and the sweep ticker goroutine. Any tasks
// already queued are still drained before Run returns.
func (l *Loop) Stop() {
	close(l.stopSweep)
	l.queue.close()
}
