// Package task implements the runtime's suspendable computation: a
// reference-counted frame forming a logical call stack with a designated
// root, per spec.md §3/§4.3.
//
// Go has no stackless coroutines. Per the design notes in SPEC_FULL.md §6,
// a Task is realized as one goroutine; "awaiting" a not-yet-complete task is
// a blocking receive on the callee's completion channel from the caller's
// own goroutine — the Go scheduler parks and resumes that goroutine exactly
// the way a symmetric coroutine transfer parks and resumes a stack frame,
// with no worker-FIFO hop for ordinary task-to-task awaits. Only awaiting a
// kernel-backed I/O operation touches a worker (see package awaiter).
//
// The reference-counted handle is grounded on the teacher's
// pkg/reference.Pointer, generalized here into pkg/ref.Counter.
//
// Task bodies run on a package-wide github.com/brickingsoft/rxp goroutine
// pool rather than bare goroutines, grounded on the teacher's own
// Startup/Shutdown/Executors() singleton (executors.go); see Startup.
package task

import (
	"context"
	"runtime"
	"sync"

	"github.com/brickingsoft/rxp"

	"github.com/quaydev/aio/pkg/ref"
)

// pool is the package-wide bounded goroutine pool task bodies run on,
// grounded on the teacher's executors.go Startup/Shutdown/Executors()
// singleton: rio gates all of its async work through a single
// rxp.Executors, created lazily with rxp.New() if the embedder never
// calls Startup, and torn down by a finalizer if Shutdown is never
// called either. This module has no per-connection ctx to thread an
// executor through the way rio's context-carried executors.go does (a
// task's fn takes no context), so pool is process-wide rather than
// per-Runtime.
var (
	pool     rxp.Executors
	poolOnce sync.Once
)

// Startup installs a customized goroutine pool (bounding concurrent task
// goroutines via opts, e.g. rxp.MaxGoroutines/rxp.MinGOMAXPROCS) for every
// task.Go call for the remainder of the process's lifetime. Optional: Go
// falls back to a lazily created default pool if this is never called,
// exactly like the teacher's rio.Startup/Executors(). Must be called
// before the first task.Go, otherwise it has no effect.
func Startup(opts ...rxp.Option) error {
	if pool != nil {
		return nil
	}
	p, err := rxp.New(opts...)
	if err != nil {
		return err
	}
	pool = p
	return nil
}

// Shutdown closes the package's goroutine pool ungracefully, matching
// rio.Shutdown.
func Shutdown() error {
	runtime.SetFinalizer(pool, nil)
	return executors().Close()
}

func executors() rxp.Executors {
	poolOnce.Do(func() {
		if pool == nil {
			p, _ := rxp.New()
			pool = p
			runtime.SetFinalizer(pool, rxp.Executors.Close)
		}
	})
	return pool
}

// Frame is the type-erased view of a task frame that the rest of the
// runtime (worker, awaiter) needs regardless of the task's result type:
// whether its coroutine has finished, and the ability to hold or release
// the transient reference an outstanding I/O operation keeps on it, per
// spec.md §3's "(b) transient references held by the scheduler between
// enqueue and resume".
type Frame interface {
	// Done reports whether the frame's coroutine has run to completion.
	Done() bool
	// HoldIO adds a reference on behalf of a completion record that now
	// owns a pointer to this frame's root, keeping it alive until the
	// matching ReleaseIO.
	HoldIO()
	// ReleaseIO releases a reference added by HoldIO.
	ReleaseIO()
}

// Handle is the reference-counted awaitable handle a caller holds on a
// Task[T]. Cloning increments the refcount; Close decrements it, releasing
// the frame's resources when the count reaches zero (spec.md §4.3).
//
// A Handle's refcount is non-atomic: all operations on a given Handle, and
// all operations on the Task it refers to, must occur on a single
// goroutine/worker, matching spec.md §5.
type Handle[T any] struct {
	rc *ref.Counter[*frameImpl[T]]
}

// frameImpl backs a Handle[T] and implements Frame.
type frameImpl[T any] struct {
	self *ref.Counter[*frameImpl[T]] // same counter the Handle holds

	fn       func(self Frame) (T, error)
	resultCh chan struct{} // closed exactly once, when the coroutine finishes
	result   T
	err      error
	isDone   bool

	parent Frame
	root   Frame
}

func (f *frameImpl[T]) Done() bool { return f.isDone }
func (f *frameImpl[T]) HoldIO()    { f.self.Clone() }
func (f *frameImpl[T]) ReleaseIO() { f.self.Release() }

// Release is invoked by the backing ref.Counter when the last reference to
// this frame goes away. The frame itself has no OS resource beyond the Go
// runtime's own goroutine and channel bookkeeping, which the garbage
// collector reclaims; Release exists so the frame satisfies ref.Releaser
// and so a future resource has a place to be torn down exactly once, per
// spec.md §3's destruction invariant.
func (f *frameImpl[T]) Release() {}

// Go starts fn as a new task frame and returns the refcounted handle to
// it, with an initial reference count of one — the reference the caller is
// handed back, per spec.md §3's lifecycle rule.
//
// fn receives its own frame as self, type-erased to Frame: a task's body
// needs to hand something to awaiter.Await (as the "root" a pending kernel
// operation must keep alive) and to nested Handle[U].Await calls, and there
// is no race-free way to obtain that value from outside the goroutine that
// is about to run fn — Go, unlike a coroutine handle available before the
// first resume, starts fn's goroutine immediately.
//
// A newly created task initializes parent=nil, root=itself (spec.md §4.3's
// "Root bookkeeping"); the first await mutates both.
//
// f.run is submitted to the package's rxp.Executors pool (see Startup)
// rather than started as a bare goroutine, bounding how many task bodies
// run concurrently the way the teacher's rio bounds its own connection
// handlers; TryExecute's grounding is rio's dialer.go dead-code call
// pattern (rxp.TryExecute(ctx, &task)) since it is the only executor
// entry point rio names by signature.
//
// A pool at capacity falls back to a bare goroutine instead of blocking
// the caller or failing the dispatch: Handle.Await parks its calling
// goroutine on a channel receive for as long as the awaited task takes,
// so if every submission had to wait for a pool slot, a chain of tasks
// awaiting each other could deadlock the pool once it's full of blocked
// awaiters with no slot left to run the task they're waiting on. The
// fallback keeps that scenario merely unbounded in goroutine count,
// which is the same cost bare `go` already has, rather than a hang.
func Go[T any](fn func(self Frame) (T, error)) *Handle[T] {
	f := &frameImpl[T]{
		fn:       fn,
		resultCh: make(chan struct{}),
	}
	f.self = ref.New[*frameImpl[T]](f)
	f.root = f
	if !executors().TryExecute(context.Background(), taskRunner(f.run)) {
		go f.run()
	}
	return &Handle[T]{rc: f.self}
}

// taskRunner adapts a task frame's run method to rxp.Task, the interface
// rxp.Executors.TryExecute takes.
type taskRunner func()

func (r taskRunner) Handle(context.Context) { r() }

func (f *frameImpl[T]) run() {
	defer func() {
		if r := recover(); r != nil {
			f.err = asError(r)
		}
		f.isDone = true
		close(f.resultCh)
	}()
	f.result, f.err = f.fn(f)
}

// Clone increments the handle's refcount, matching spec.md §4.3's "It is
// clonable; cloning increments the refcount."
func (h *Handle[T]) Clone() *Handle[T] {
	return &Handle[T]{rc: h.rc.Clone()}
}

// Close decrements the handle's refcount, destroying the frame's tracked
// resources when the count reaches zero.
func (h *Handle[T]) Close() {
	h.rc.Release()
}

// Done reports whether the task's coroutine has already run to completion,
// used by the awaiting protocol's fast path (spec.md §4.3: "If B's
// coroutine is already done, A does not suspend").
func (h *Handle[T]) Done() bool {
	return h.rc.Value().isDone
}

// Frame exposes this handle's frame through the type-erased Frame view,
// for callers (workers, awaiters) that only need Done/HoldIO/ReleaseIO.
func (h *Handle[T]) Frame() Frame {
	return h.rc.Value()
}

// Await blocks the calling goroutine until the task completes, then
// returns its result (or re-raises its captured failure), implementing
// spec.md §4.3's awaiting protocol. parent, if non-nil, is linked as this
// task's logical caller: its root becomes this task's root too, preserving
// a single root across nested awaits.
func (h *Handle[T]) Await(parent Frame) (T, error) {
	f := h.rc.Value()
	if parent != nil {
		f.parent = parent
		if pf, ok := parent.(interface{ rootFrame() Frame }); ok {
			f.root = pf.rootFrame()
		}
	}
	if !f.isDone {
		<-f.resultCh
	}
	return f.result, f.err
}

// rootFrame lets a parent frame of any result type hand its root down to a
// child being awaited, without either side needing to know the other's T.
func (f *frameImpl[T]) rootFrame() Frame { return f.root }

// Root returns the type-erased root frame of this task's logical call
// stack, used by I/O awaiters to know which frame a completion record's
// owning-task pointer must ultimately keep alive (spec.md §3's completion
// record invariant).
func (h *Handle[T]) Root() Frame {
	return h.rc.Value().root
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{value: r}
}

type panicError struct{ value any }

func (p *panicError) Error() string {
	return "task: panic: " + errString(p.value)
}

func errString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic value"
}
