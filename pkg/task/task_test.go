package task_test

import (
	"errors"
	"testing"

	"github.com/quaydev/aio/pkg/task"
)

func TestGoAwaitReturnsResult(t *testing.T) {
	h := task.Go(func(task.Frame) (int, error) { return 42, nil })
	defer h.Close()

	got, err := h.Await(nil)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if got != 42 {
		t.Errorf("Await() = %d, want 42", got)
	}
	if !h.Done() {
		t.Error("Done() = false after Await returned")
	}
}

func TestAwaitPropagatesFailure(t *testing.T) {
	sentinel := errors.New("boom")
	h := task.Go(func(task.Frame) (int, error) { return 0, sentinel })
	defer h.Close()

	_, err := h.Await(nil)
	if !errors.Is(err, sentinel) {
		t.Errorf("Await() error = %v, want %v", err, sentinel)
	}
}

func TestAwaitAlreadyDoneFastPath(t *testing.T) {
	h := task.Go(func(task.Frame) (int, error) { return 7, nil })
	defer h.Close()

	// Force the first await to actually observe completion.
	if _, err := h.Await(nil); err != nil {
		t.Fatal(err)
	}
	if !h.Done() {
		t.Fatal("expected task done before second Await")
	}
	// A second Await must return immediately without re-blocking.
	got, err := h.Await(nil)
	if err != nil || got != 7 {
		t.Errorf("second Await() = (%d, %v), want (7, nil)", got, err)
	}
}

// TestSelfFrameStableAcrossRun checks that the self frame handed to a
// task's body is the same value HoldIO/ReleaseIO calls made through the
// task's own Handle affect, i.e. self really is this task's own frame.
func TestSelfFrameStableAcrossRun(t *testing.T) {
	var seen task.Frame
	h := task.Go(func(self task.Frame) (int, error) {
		seen = self
		return 1, nil
	})
	defer h.Close()

	if _, err := h.Await(nil); err != nil {
		t.Fatal(err)
	}
	if seen != h.Frame() {
		t.Error("self frame passed into task body does not match Handle.Frame()")
	}
}

// TestNestedAwaitPropagatesValue implements spec.md §8's nested-await value
// propagation property: a chain of tasks, each awaiting the next, must
// propagate the innermost value unchanged to the outermost awaiter.
func TestNestedAwaitPropagatesValue(t *testing.T) {
	leaf := task.Go(func(task.Frame) (int, error) { return 99, nil })
	defer leaf.Close()

	mid := task.Go(func(self task.Frame) (int, error) {
		v, err := leaf.Await(self)
		if err != nil {
			return 0, err
		}
		return v + 1, nil
	})
	defer mid.Close()

	root := task.Go(func(self task.Frame) (int, error) {
		v, err := mid.Await(self)
		if err != nil {
			return 0, err
		}
		return v + 1, nil
	})
	defer root.Close()

	got, err := root.Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 101 {
		t.Errorf("nested await result = %d, want 101", got)
	}
}

// TestRootSharedAcrossAwaitChain checks that awaiting with an explicit
// parent frame propagates the parent's root down the chain, per spec.md
// §4.3's root bookkeeping rule.
func TestRootSharedAcrossAwaitChain(t *testing.T) {
	root := task.Go(func(task.Frame) (int, error) { return 1, nil })
	defer root.Close()
	// force completion before using root.Frame() as a parent
	if _, err := root.Await(nil); err != nil {
		t.Fatal(err)
	}

	child := task.Go(func(task.Frame) (int, error) { return 2, nil })
	defer child.Close()

	if _, err := child.Await(root.Frame()); err != nil {
		t.Fatal(err)
	}
	if child.Root() != root.Root() {
		t.Error("child's root did not adopt parent's root")
	}
}

func TestHandleCloneAndClose(t *testing.T) {
	h := task.Go(func(task.Frame) (int, error) { return 5, nil })
	clone := h.Clone()
	if _, err := h.Await(nil); err != nil {
		t.Fatal(err)
	}
	h.Close()
	// clone still holds a live reference; Frame() must not panic.
	if clone.Frame() == nil {
		t.Error("cloned handle lost its frame after original was closed")
	}
	clone.Close()
}
