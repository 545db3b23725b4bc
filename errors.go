package aio

import "github.com/brickingsoft/errors"

// ErrStopped is returned by Dispatch once Stop has been called; the
// runtime does not accept new root tasks after it starts winding down,
// mirroring spec.md §4.2's "operations on a stopped runtime fail rather
// than silently doing nothing".
var ErrStopped = errors.Define("aio: runtime is stopped")

// ErrNoWorkers is returned by NewRuntime when the worker count is still not
// positive after a zero or negative WithWorkers value has been replaced by
// runtime.GOMAXPROCS(0) — a runtime with zero reactors can dispatch no
// root task, so this is rejected at construction rather than left to
// surface later as a mysterious hang.
var ErrNoWorkers = errors.Define("aio: runtime requires at least one worker")
