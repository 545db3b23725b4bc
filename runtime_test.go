//go:build linux

package aio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/quaydev/aio"
	"github.com/quaydev/aio/pkg/netaddr"
	"github.com/quaydev/aio/pkg/task"
	"github.com/quaydev/aio/pkg/worker"
)

// TestRuntimeDispatchTCPRoundTrip implements scenario S2 (SPEC_FULL.md §12)
// end to end through the public Runtime/Dispatch surface rather than
// pkg/worker and pkg/socket directly: two root tasks on a two-worker
// runtime exchange a message over a loopback TCP connection.
func TestRuntimeDispatchTCPRoundTrip(t *testing.T) {
	rt, err := aio.NewRuntime(aio.WithWorkers(2))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.Run()
	defer rt.Stop()

	loopback := netaddr.NewEndpointV4(netaddr.V4(127, 0, 0, 1), 0)
	listener, err := aio.Listen(rt, loopback)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()
	addr := listener.LocalAddr()

	const payload = "hello over the runtime"

	server, err := aio.Dispatch(rt, func(w *worker.Worker, self task.Frame) (int, error) {
		stream, err := listener.AcceptAsync(self)
		if err != nil {
			return 0, err
		}
		defer stream.Close()
		buf := make([]byte, len(payload))
		if _, err := stream.RecvAsync(self, buf); err != nil {
			return 0, err
		}
		if string(buf) != payload {
			return 0, errors.New("server: unexpected payload")
		}
		return len(buf), nil
	})
	if err != nil {
		t.Fatalf("Dispatch server: %v", err)
	}
	defer server.Close()

	client, err := aio.Dispatch(rt, func(w *worker.Worker, self task.Frame) (int, error) {
		conn, err := aio.Dial(rt, addr)
		if err != nil {
			return 0, err
		}
		defer conn.Close()
		return conn.Send([]byte(payload))
	})
	if err != nil {
		t.Fatalf("Dispatch client: %v", err)
	}
	defer client.Close()

	if _, err := client.Await(nil); err != nil {
		t.Fatalf("client task: %v", err)
	}
	if _, err := server.Await(nil); err != nil {
		t.Fatalf("server task: %v", err)
	}
}

// TestRuntimeStopIsIdempotent checks Stop can be called more than once
// without blocking forever or panicking, and that Dispatch after Stop
// returns ErrStopped rather than hanging on a worker that will never run
// again.
func TestRuntimeStopIsIdempotent(t *testing.T) {
	rt, err := aio.NewRuntime(aio.WithWorkers(1))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.Run()
	rt.Stop()
	rt.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := aio.Dispatch(rt, func(w *worker.Worker, self task.Frame) (int, error) {
			return 0, nil
		})
		if !errors.Is(err, aio.ErrStopped) {
			t.Errorf("Dispatch after Stop error = %v, want ErrStopped", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch after Stop did not return")
	}
}

func TestNewRuntimeZeroWorkersUsesDefault(t *testing.T) {
	rt, err := aio.NewRuntime(aio.WithWorkers(0))
	if err != nil {
		t.Fatalf("NewRuntime with default worker count: %v", err)
	}
	rt.Stop()
}
