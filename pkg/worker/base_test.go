package worker

import "testing"

type countingRunnable struct{ n *int }

func (c countingRunnable) Run() { *c.n++ }

func TestReadyQueueSwapDefersConcurrentPushes(t *testing.T) {
	var q readyQueue
	n := 0
	q.push(countingRunnable{&n})
	q.push(countingRunnable{&n})

	batch := q.swap()
	if len(batch) != 2 {
		t.Fatalf("swap() returned %d items, want 2", len(batch))
	}
	if q.len() != 0 {
		t.Fatalf("queue not empty after swap: %d", q.len())
	}

	// pushes that happen "during" iteration of batch must not appear in
	// batch itself, matching the swap-before-drain discipline.
	for range batch {
		q.push(countingRunnable{&n})
	}
	if len(batch) != 2 {
		t.Errorf("batch mutated by later pushes: len=%d", len(batch))
	}
	if q.len() != 2 {
		t.Errorf("deferred pushes not queued: len=%d", q.len())
	}
}

func TestBaseRequestStopIsIdempotent(t *testing.T) {
	b := NewBase(1)
	b.RequestStop()
	b.RequestStop()
	if !b.stopRequested() {
		t.Fatal("stopRequested() = false after RequestStop")
	}
}

func TestBaseOnOwnThread(t *testing.T) {
	b := NewBase(1)
	b.bindThread(42)
	if !b.onOwnThread(42) {
		t.Error("onOwnThread(42) = false, want true")
	}
	if b.onOwnThread(43) {
		t.Error("onOwnThread(43) = true, want false")
	}
}
