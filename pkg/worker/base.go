package worker

import (
	"sync/atomic"
)

// Base holds the fields and behavior common to both platform backends: the
// ready FIFO, the running/stopping flags, and the captured OS thread id
// that gives Schedule its same-thread contract (spec.md §5). Platform
// files (worker_linux.go, worker_windows.go) embed Base and add the
// backend-specific kernel completion queue and Run loop.
type Base struct {
	ID int

	threadID atomic.Int64
	running  atomic.Bool
	stopping atomic.Bool

	ready readyQueue

	// wake posts a real kernel-level wakeup so a Run loop parked in its
	// kernel wait call (WaitCQEs on Linux, GetQueuedCompletionStatus on
	// Windows) returns immediately instead of riding out its bounded poll
	// timeout — spec.md §4.1's requirement that Stop/Schedule interrupt a
	// blocked worker. Base itself has no completion-queue handle to post
	// to, so the platform constructor (New in worker_linux.go /
	// worker_windows.go) sets this to the worker's own postWake once that
	// handle exists; it is nil during Base construction, hence the guard
	// everywhere it is invoked.
	wake func()
}

// NewBase constructs the shared portion of a worker. The platform
// constructor must call SetWake once its completion-queue handle exists,
// before the worker's Run loop starts.
func NewBase(id int) Base {
	return Base{ID: id}
}

// SetWake installs fn as this worker's kernel-level wakeup, called by
// RequestStop and enqueue whenever they need a blocked Run loop to notice
// new state without waiting for the next poll timeout.
func (b *Base) SetWake(fn func()) { b.wake = fn }

// bindThread records the calling goroutine's OS thread as this worker's
// owning thread. Must be called once, from the goroutine that will run the
// worker's loop, before that loop starts — see the platform Run methods,
// which call runtime.LockOSThread first.
func (b *Base) bindThread(tid int64) {
	b.threadID.Store(tid)
	b.running.Store(true)
}

// onOwnThread reports whether the calling goroutine is running on this
// worker's captured OS thread, given that thread's id.
func (b *Base) onOwnThread(tid int64) bool {
	return b.threadID.Load() == tid
}

// IsRunning reports whether the worker's Run loop is currently executing.
func (b *Base) IsRunning() bool { return b.running.Load() }

// RequestStop sets the stopping flag; the worker's own loop observes it on
// its next iteration and exits. Safe to call from any thread (spec.md §5:
// the stop flag is one of the few cross-thread-visible fields).
func (b *Base) RequestStop() {
	b.stopping.Store(true)
	if b.wake != nil {
		b.wake()
	}
}

func (b *Base) stopRequested() bool { return b.stopping.Load() }

// enqueue pushes r onto the ready FIFO and posts a wakeup so a Run loop
// blocked in (or about to enter) its kernel wait notices the new work
// without riding out the poll timeout, whether or not callerTID is the
// worker's own thread.
func (b *Base) enqueue(r Runnable, callerTID int64) {
	b.ready.push(r)
	if b.wake != nil {
		b.wake()
	}
}

// Seed enqueues r without the same-thread check, for Runtime.Dispatch's
// root-task scheduling (SPEC_FULL.md §8), which may run before or after
// the worker's Run loop has started. It always posts a wakeup: called
// before Run, that wakeup is a no-op racing the loop's own startup;
// called after Run, it's what lets a Dispatch issued against an already
// running worker take effect on the loop's very next iteration instead of
// waiting out a poll timeout.
func (b *Base) Seed(r Runnable) {
	b.ready.push(r)
	if b.wake != nil {
		b.wake()
	}
}
