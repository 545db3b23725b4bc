package aio

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/brickingsoft/errors"

	"github.com/quaydev/aio/pkg/task"
	"github.com/quaydev/aio/pkg/worker"
)

// Runtime is the fixed pool of reactor workers described in SPEC_FULL.md
// §8: one goroutine per worker, each pinned to its own OS thread and
// running that worker's single-threaded completion-drain loop until Stop.
// Grounded on the teacher's engine_windows.go Engine, generalized to both
// platforms by delegating everything backend-specific to pkg/worker.
type Runtime struct {
	workers []*worker.Worker

	wg      sync.WaitGroup
	stopped atomic.Bool
	next    atomic.Uint64 // round-robin cursor for Dispatch
}

// NewRuntime builds a Runtime with the given options and performs any
// process-wide setup its backend requires (Windows: WSAStartup, paired
// with Stop's WSACleanup, per the teacher's engine_windows.go). Workers
// are constructed but not started; call Run to start their loops.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	o := buildRuntimeOptions(opts...)
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Workers <= 0 {
		return nil, ErrNoWorkers
	}

	if err := platformInit(); err != nil {
		return nil, errors.New("aio: platform init", errors.WithWrap(err))
	}

	if len(o.TaskPool) > 0 {
		if err := task.Startup(o.TaskPool...); err != nil {
			platformCleanup()
			return nil, errors.New("aio: task pool startup", errors.WithWrap(err))
		}
	}

	workers := make([]*worker.Worker, 0, o.Workers)
	for i := 0; i < o.Workers; i++ {
		w, err := worker.New(i, o.RingEntries)
		if err != nil {
			for _, done := range workers {
				done.RequestStop()
			}
			platformCleanup()
			return nil, errors.New("aio: create worker", errors.WithWrap(err))
		}
		workers = append(workers, w)
	}
	return &Runtime{workers: workers}, nil
}

// Workers returns the runtime's worker pool, for callers that build their
// own dispatch logic instead of using the package-level Dispatch helper
// (e.g. to pin a root task to a specific worker rather than round-robin).
func (rt *Runtime) Workers() []*worker.Worker { return rt.workers }

// Run starts one runtime.LockOSThread-pinned goroutine per worker and
// returns immediately; it does not block waiting for the workers to stop.
// Each worker's own Run method does the actual thread pinning (see
// pkg/worker's platform files), matching the teacher's engine_windows.go
// cylinder-spawn loop.
func (rt *Runtime) Run() {
	rt.wg.Add(len(rt.workers))
	for _, w := range rt.workers {
		w := w
		go func() {
			defer rt.wg.Done()
			_ = w.Run()
		}()
	}
}

// Stop requests every worker to exit its loop and blocks until all of them
// have. Safe to call from any goroutine.
func (rt *Runtime) Stop() {
	if !rt.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, w := range rt.workers {
		w.RequestStop()
	}
	rt.wg.Wait()
	platformCleanup()
}

// pick returns the next worker in round-robin order, spreading dispatched
// root tasks evenly across the pool absent a caller preference.
func (rt *Runtime) pick() *worker.Worker {
	i := rt.next.Add(1) - 1
	return rt.workers[i%uint64(len(rt.workers))]
}

// Dispatch builds one root task by calling fn on a worker chosen by
// round-robin, then returns its handle once that worker's loop has taken
// ownership of it.
//
// Go gives no race-free way to construct a task.Handle before its
// coroutine's goroutine exists (see task.Go's own doc comment), so fn runs
// as soon as task.Go is called; what Dispatch actually defers onto the
// worker is the *call* to task.Go itself, via Base.Seed, so that fn's
// synchronous prefix — up to its first await — executes on the worker's
// own pinned OS thread rather than on whatever goroutine called Dispatch.
// That matters because fn is handed w and may call w.Schedule directly
// before ever suspending, and Schedule's same-thread contract (pkg/worker)
// only tolerates that from the worker's own thread once it is running.
//
// Dispatch may be called before or after Run; either way it blocks until
// the target worker's loop has drained the seeded closure, which happens
// on the loop's very first iteration if Run precedes Dispatch, or within
// one poll interval of Run starting if Dispatch precedes it. Calling
// Dispatch after Stop returns ErrStopped without seeding anything, since a
// stopped worker's loop will never drain the seed.
func Dispatch[T any](rt *Runtime, fn func(w *worker.Worker, self task.Frame) (T, error)) (*task.Handle[T], error) {
	if rt.stopped.Load() {
		return nil, ErrStopped
	}
	w := rt.pick()
	ch := make(chan *task.Handle[T], 1)
	w.Seed(worker.Func(func() {
		ch <- task.Go(func(self task.Frame) (T, error) {
			return fn(w, self)
		})
	}))
	return <-ch, nil
}

// DispatchAll seeds one root task onto every worker in the pool (each
// worker directly, not through Dispatch's round-robin pick), running fn
// concurrently on every reactor — the shape SPEC_FULL.md §8 describes for a
// runtime's initial fan-out ("builds one root task per worker"). Handles
// are returned in worker order.
func DispatchAll[T any](rt *Runtime, fn func(w *worker.Worker, self task.Frame) (T, error)) ([]*task.Handle[T], error) {
	handles := make([]*task.Handle[T], len(rt.workers))
	chans := make([]chan *task.Handle[T], len(rt.workers))
	if rt.stopped.Load() {
		return nil, ErrStopped
	}
	for i, w := range rt.workers {
		w := w
		ch := make(chan *task.Handle[T], 1)
		chans[i] = ch
		w.Seed(worker.Func(func() {
			ch <- task.Go(func(self task.Frame) (T, error) {
				return fn(w, self)
			})
		}))
	}
	for i, ch := range chans {
		handles[i] = <-ch
	}
	return handles, nil
}
