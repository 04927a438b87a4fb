// Package executor implements the single-threaded cooperative task and timer
// driver that every agent and module is scheduled on.
//
// A shared executor may run many agents, but each agent is pinned to exactly
// one executor instance for its entire lifetime: every task and timer
// callback posted through the same *Executor runs one at a time, in arrival
// order, on one goroutine — so module scheduler and script-host code never
// has to reason about concurrent callbacks for the same agent.
//
// The system may run multiple Executor instances for throughput; nothing
// here prevents that, it simply guarantees serialization within one.
package executor

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// task is a unit of work posted to the executor's run loop.
type task struct {
	fn func()
}

// timerTask is a deferred task armed to run after a delay. The heap fields
// are only ever touched from the executor's single run goroutine; cancelled
// is an atomic so Stop can be called from any goroutine without a round trip
// through the run loop (which would deadlock if Stop is called from code
// that is itself already executing as a task on that same goroutine — the
// common case, since command handling always runs as a posted task).
type timerTask struct {
	fn        func()
	deadline  time.Time
	index     int // heap index, maintained by container/heap
	cancelled atomic.Bool
}

// timerHeap is a min-heap of pending timerTasks ordered by deadline.
type timerHeap []*timerTask

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Timer is a handle to an armed deferred task. Exactly one Timer is ever
// outstanding per module in the WAIT state (§3 invariant).
type Timer struct {
	t *timerTask
}

// Stop cancels the timer. If it has already fired, or already been stopped,
// Stop is a no-op. Safe to call from any goroutine, including one already
// running as a task on the owning executor.
func (tm *Timer) Stop() {
	if tm == nil || tm.t == nil {
		return
	}
	tm.t.cancelled.Store(true)
}

// Executor drives posted tasks and armed timers on a single goroutine.
// The zero value is not usable — create instances with New.
type Executor struct {
	posts   chan task
	stop    chan struct{}
	done    chan struct{}
	pending timerHeap // owned exclusively by the run goroutine
}

// New creates and starts an Executor. Call Stop to shut it down; any tasks
// still queued at that point are dropped — callers needing drain semantics
// coordinate that externally (e.g. agent.shutdown waits on module state,
// not on executor queue depth).
func New() *Executor {
	e := &Executor{
		posts: make(chan task, 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

// Post enqueues fn to run on the executor's goroutine, after any
// already-queued work. Safe to call from any goroutine, including one
// already executing as a task on this executor (it will simply run next).
func (e *Executor) Post(fn func()) {
	select {
	case e.posts <- task{fn: fn}:
	case <-e.stop:
	}
}

// After arms fn to run once, approximately d from now, on the executor's
// goroutine. Returns a Timer that can be used to cancel it before it fires.
// The returned Timer is valid immediately, even before the arm-task below
// has been processed by the run loop.
func (e *Executor) After(d time.Duration, fn func()) *Timer {
	tt := &timerTask{fn: fn, deadline: time.Now().Add(d)}
	e.Post(func() {
		heap.Push(&e.pending, tt)
	})
	return &Timer{t: tt}
}

// Stop shuts the executor down. Blocks until the run goroutine exits.
func (e *Executor) Stop() {
	close(e.stop)
	<-e.done
}

// run is the single goroutine that serializes every task and timer callback
// for this executor.
func (e *Executor) run() {
	defer close(e.done)

	for {
		var timerC <-chan time.Time
		var nextTimer *time.Timer

		if e.pending.Len() > 0 {
			d := time.Until(e.pending[0].deadline)
			if d < 0 {
				d = 0
			}
			nextTimer = time.NewTimer(d)
			timerC = nextTimer.C
		}

		select {
		case <-e.stop:
			if nextTimer != nil {
				nextTimer.Stop()
			}
			return

		case t := <-e.posts:
			if nextTimer != nil {
				nextTimer.Stop()
			}
			t.fn()

		case <-timerC:
			tt := heap.Pop(&e.pending).(*timerTask)
			if !tt.cancelled.Load() {
				tt.fn()
			}
		}
	}
}
