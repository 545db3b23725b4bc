package worker

import "testing"

type fakeFrame struct {
	holds int
	done  bool
}

func (f *fakeFrame) Done() bool { return f.done }
func (f *fakeFrame) HoldIO()    { f.holds++ }
func (f *fakeFrame) ReleaseIO() { f.holds-- }

func TestRecordAcquireHoldsOwnerAndBumpsGeneration(t *testing.T) {
	var r Record
	owner := &fakeFrame{}

	g1 := r.Acquire(owner)
	if owner.holds != 1 {
		t.Fatalf("owner.holds = %d, want 1 after Acquire", owner.holds)
	}
	if r.Stale(g1) {
		t.Error("Stale(g1) = true immediately after Acquire")
	}

	r.Release()
	if owner.holds != 0 {
		t.Errorf("owner.holds = %d, want 0 after Release", owner.holds)
	}

	other := &fakeFrame{}
	g2 := r.Acquire(other)
	if g2 == g1 {
		t.Error("generation did not change across Acquire calls")
	}
	if !r.Stale(g1) {
		t.Error("Stale(g1) = false after record recycled with a new generation")
	}
	if r.Stale(g2) {
		t.Error("Stale(g2) = true for the current generation")
	}
}
