// Package worker implements the single-threaded reactor loop of spec.md
// §4.1/§5: one worker owns exactly one kernel completion-queue handle, a
// ready FIFO of task frames pending resumption, and (on Linux) a queue of
// not-yet submitted kernel operations. The loop itself runs on the
// worker's own goroutine, pinned to a dedicated OS thread. The ready FIFO
// and the submission queue are each guarded by a mutex, because task
// bodies run on their own goroutines and submit operations from there, and
// Runtime.Dispatch seeds the ready FIFO from the caller's goroutine; the
// running/stopping flags and the captured thread id are atomics.
package worker

import (
	"sync"

	"github.com/brickingsoft/errors"
)

// ErrCrossThreadSchedule is raised when Schedule is called from a thread
// other than the worker's own captured thread id — spec.md §4.1 and §7
// class this as a programmer error ("asserts recommended"); Go's nearest
// equivalent to an assert is a panic guarded by a cheap check, so callers
// that want the non-fatal form should not call Schedule off-thread in the
// first place. ScheduleFrom exposes the check as an error for tests.
var ErrCrossThreadSchedule = errors.Define("worker: Schedule called from a thread other than the worker's own")

// Runnable is a unit of work sitting in a worker's ready FIFO: either
// starting a freshly dispatched root task or resuming one a completion (or
// an explicit self-wakeup) has made ready to run again.
type Runnable interface {
	Run()
}

// runnableFunc adapts a plain function to Runnable.
type runnableFunc func()

func (f runnableFunc) Run() { f() }

// Func adapts fn to Runnable, for callers outside this package that need to
// seed a worker's ready FIFO with a plain closure — Runtime.Dispatch is the
// only such caller, using it together with Base.Seed to defer a root task's
// creation onto the worker's own pinned thread (see runtime.go).
func Func(fn func()) Runnable { return runnableFunc(fn) }

// readyQueue is the worker's ready FIFO. Steady-state producer and
// consumer are the same goroutine (the worker's own), since Schedule
// enforces the same-thread contract; the only cross-goroutine access is
// Base.Seed, which Runtime.Dispatch calls before or after a worker's Run
// loop starts.
// Given that near-single-threaded access pattern, a plain mutex-guarded
// slice is used in place of the teacher's lock-free CAS ring
// (pkg/ring/operation.go's OperationQueue): spec.md §5 states the ready
// FIFO "require[s] no synchronization" under its single-threaded-access
// invariant, so the lock-free machinery the teacher needed for its
// two-goroutine split buys nothing extra here (see DESIGN.md).
type readyQueue struct {
	mu    sync.Mutex
	items []Runnable
}

func (q *readyQueue) push(r Runnable) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// swap returns everything currently queued and resets the queue to empty,
// implementing the "swap FIFO with a local buffer" step of spec.md §4.1's
// drain loop: anything pushed while the caller is iterating the returned
// slice is deferred to the next iteration, guaranteeing forward progress
// (spec.md §5's ordering guarantees; SPEC_FULL.md §12 property 6).
func (q *readyQueue) swap() []Runnable {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
