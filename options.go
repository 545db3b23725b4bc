package aio

import (
	"github.com/brickingsoft/rxp"
)

// RuntimeOptions configures a Runtime at construction time: worker count,
// per-worker kernel completion-queue depth, and the task goroutine pool's
// sizing knobs, following the same functional-options style as
// pkg/socket.Options.
type RuntimeOptions struct {
	Workers     int
	RingEntries uint32
	TaskPool    []rxp.Option
}

// RuntimeOption mutates an in-progress RuntimeOptions value.
type RuntimeOption func(*RuntimeOptions)

// WithWorkers sets the number of reactor workers the runtime starts. Zero
// or negative defaults to runtime.GOMAXPROCS(0) at NewRuntime time.
func WithWorkers(n int) RuntimeOption {
	return func(o *RuntimeOptions) { o.Workers = n }
}

// WithRingEntries sets each worker's kernel completion-queue depth (the
// io_uring submission-queue size on Linux; ignored on Windows, where IOCP
// has no comparable fixed-depth knob).
func WithRingEntries(n uint32) RuntimeOption {
	return func(o *RuntimeOptions) { o.RingEntries = n }
}

// WithTaskPool tunes the goroutine pool every task body runs on (see
// pkg/task.Startup), e.g. rxp.MaxGoroutines or rxp.MinGOMAXPROCS. Applies
// process-wide, matching pkg/task.Startup's own scope, and only takes
// effect if this is the first Runtime constructed in the process.
func WithTaskPool(opts ...rxp.Option) RuntimeOption {
	return func(o *RuntimeOptions) { o.TaskPool = append(o.TaskPool, opts...) }
}

func buildRuntimeOptions(opts ...RuntimeOption) RuntimeOptions {
	var o RuntimeOptions
	for _, apply := range opts {
		apply(&o)
	}
	return o
}
