package awaiter_test

import (
	"errors"
	"testing"
	"time"

	"github.com/quaydev/aio/pkg/awaiter"
	"github.com/quaydev/aio/pkg/task"
)

// syncAwaiter completes inside OnSuspend, exercising the "operation
// resolved without touching the worker" path.
type syncAwaiter struct {
	awaiter.Base
}

func (a *syncAwaiter) IsReady() bool { return false }

func (a *syncAwaiter) OnSuspend(root task.Frame) bool {
	a.Complete(3, nil)
	return false
}

func (a *syncAwaiter) OnResume() (int32, error) { return a.Result() }

func TestAwaitSyncCompletion(t *testing.T) {
	root := task.Go(func(task.Frame) (int, error) { return 0, nil })
	defer root.Close()

	n, err := awaiter.Await(root.Frame(), &syncAwaiter{Base: awaiter.NewBase()})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Await() = %d, want 3", n)
	}
}

// asyncAwaiter defers its Complete call to a separate goroutine, standing
// in for a worker's completion-drain loop waking a truly-pending op.
type asyncAwaiter struct {
	awaiter.Base
}

func (a *asyncAwaiter) IsReady() bool { return false }

func (a *asyncAwaiter) OnSuspend(root task.Frame) bool {
	go func() {
		time.Sleep(time.Millisecond)
		a.Complete(7, nil)
	}()
	return true
}

func (a *asyncAwaiter) OnResume() (int32, error) { return a.Result() }

func TestAwaitBlocksUntilComplete(t *testing.T) {
	root := task.Go(func(task.Frame) (int, error) { return 0, nil })
	defer root.Close()

	n, err := awaiter.Await(root.Frame(), &asyncAwaiter{Base: awaiter.NewBase()})
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("Await() = %d, want 7", n)
	}
}

func TestAwaitPropagatesError(t *testing.T) {
	sentinel := errors.New("submit failed")
	a := &syncAwaiterErr{Base: awaiter.NewBase(), err: sentinel}
	root := task.Go(func(task.Frame) (int, error) { return 0, nil })
	defer root.Close()

	_, err := awaiter.Await(root.Frame(), a)
	if !errors.Is(err, sentinel) {
		t.Errorf("Await() error = %v, want %v", err, sentinel)
	}
}

type syncAwaiterErr struct {
	awaiter.Base
	err error
}

func (a *syncAwaiterErr) IsReady() bool { return false }
func (a *syncAwaiterErr) OnSuspend(root task.Frame) bool {
	a.Complete(0, a.err)
	return false
}
func (a *syncAwaiterErr) OnResume() (int32, error) { return a.Result() }
