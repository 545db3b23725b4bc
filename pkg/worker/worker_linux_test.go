//go:build linux

package worker

import "testing"

// TestSubmitFlushesAndRetriesAtCapacity exercises spec.md §4.4's
// submission back-pressure rule (scenario S4): once the queued-but-not-
// yet-submitted operations reach the ring's capacity, Submit must flush
// them to the kernel synchronously and then queue the operation that
// tipped it over, rather than growing the queue past subCap.
func TestSubmitFlushesAndRetriesAtCapacity(t *testing.T) {
	w, err := New(0, 4)
	if err != nil {
		t.Skipf("io_uring unavailable on this host: %v", err)
	}
	defer w.ring.QueueExit()

	owner := &fakeFrame{}
	for i := 0; i < int(w.subCap); i++ {
		op := w.AcquireOperation(owner)
		op.Kind = OpNop
		w.Submit(op)
	}
	if got := len(w.subs); got != int(w.subCap) {
		t.Fatalf("len(w.subs) = %d before overflow, want %d", got, w.subCap)
	}

	overflow := w.AcquireOperation(owner)
	overflow.Kind = OpNop
	w.Submit(overflow)

	// The overflowing Submit must have flushed the previously queued
	// batch to the kernel (leaving w.subs holding only the op that
	// triggered the flush) instead of letting the queue grow unbounded.
	if got := len(w.subs); got != 1 {
		t.Fatalf("len(w.subs) after overflow = %d, want 1 (flush-and-retry)", got)
	}
	if w.subs[0] != overflow {
		t.Fatalf("w.subs[0] = %p, want the overflowing operation %p", w.subs[0], overflow)
	}
}
