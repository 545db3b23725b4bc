// Package awaiter implements the protocol bridging a pending kernel
// operation and a suspended task, per spec.md §4.4.
package awaiter

import "github.com/quaydev/aio/pkg/task"

// Awaiter is a kernel-backed operation with the three observable methods
// spec.md §4.4 requires. Its completion record is a heap-allocated
// worker.Operation that the concrete awaiter takes from its worker's pool
// in OnSuspend; the Go garbage collector never moves heap objects, so the
// record's address stays fixed for the operation's duration, and the
// worker returns it to the pool only after delivering the completion.
type Awaiter interface {
	// IsReady always returns false: there is no fast-path bypass of
	// suspension even when an operation might complete synchronously — the
	// worker handles both paths uniformly through the completion record,
	// per spec.md §4.4.
	IsReady() bool

	// OnSuspend records root as the frame to notify on completion, submits
	// the kernel request, and reports whether the operation is truly
	// pending (true) or already resolved without needing the worker's
	// completion queue (false: submit failure, or a result already
	// written into the completion record via a synchronous-completion
	// fast path).
	OnSuspend(root task.Frame) bool

	// OnResume reads the completion record and returns the operation's
	// result: bytes transferred (or another operation-defined count) and
	// an error. If OnSuspend returned true, OnResume blocks the calling
	// goroutine until the worker has recorded the completion.
	OnResume() (int32, error)
}

// Await runs the is_ready/on_suspend/on_resume protocol for a on behalf of
// root, the frame whose logical call stack this I/O operation belongs to.
func Await(root task.Frame, a Awaiter) (int32, error) {
	if !a.IsReady() {
		a.OnSuspend(root)
	}
	return a.OnResume()
}

// Base implements the blocking half of the Awaiter contract: concrete
// operation awaiters (see pkg/socket) embed Base and call Complete exactly
// once, either synchronously from OnSuspend (fast path) or later from a
// worker's completion-drain loop, then implement OnResume by delegating to
// Result.
type Base struct {
	done chan struct{}
	n    int32
	err  error
}

// NewBase constructs a Base ready to receive exactly one Complete call.
func NewBase() Base {
	return Base{done: make(chan struct{})}
}

// Complete records the operation's outcome and unblocks any goroutine
// parked in Result. Calling Complete more than once panics: it would mean
// two completions targeted the same operation, which spec.md §3 rules out
// by construction (a completion record is reused only after its previous
// operation has fully resolved).
func (b *Base) Complete(n int32, err error) {
	b.n, b.err = n, err
	close(b.done)
}

// Result blocks until Complete has been called, then returns the recorded
// outcome. Safe to call after Complete has already run: the closed channel
// receives immediately.
func (b *Base) Result() (int32, error) {
	<-b.done
	return b.n, b.err
}
