package worker

import "github.com/quaydev/aio/pkg/task"

// Record is the completion record embedded in every kernel-backed
// operation (see pkg/socket), matching spec.md §3: an owning task pointer
// identifying which frame to wake, plus a generation counter.
//
// The generation counter is a supplement beyond spec.md: operations are
// recycled from a sync.Pool (grounded on the teacher's
// pkg/ring.Ring.operations pool), so a record's address is reused across
// unrelated operations over its lifetime. Gen is bumped every time a
// record is handed out by the pool; a concrete awaiter snapshots the value
// it was submitted with, and the worker's drain loop refuses to deliver a
// completion whose snapshot no longer matches the record's current
// generation — catching a completion for an operation whose record has
// already been recycled for something else, which the teacher's
// CompareAndSwap(&done) latch guards against implicitly but which is worth
// making an explicit, checkable invariant here.
type Record struct {
	Owner task.Frame
	Gen   uint64
}

// Acquire bumps the record's generation and returns the value a caller
// must keep alongside the record pointer for later comparison in Stale.
func (r *Record) Acquire(owner task.Frame) uint64 {
	r.Gen++
	r.Owner = owner
	owner.HoldIO()
	return r.Gen
}

// Stale reports whether wantGen no longer matches this record's current
// generation, meaning the record has since been recycled for a different
// operation.
func (r *Record) Stale(wantGen uint64) bool {
	return r.Gen != wantGen
}

// Release drops the transient reference Acquire added on behalf of the
// worker's completion queue, once the operation this record belonged to
// has resolved (successfully, by error, or as stale).
func (r *Record) Release() {
	if r.Owner != nil {
		r.Owner.ReleaseIO()
		r.Owner = nil
	}
}
