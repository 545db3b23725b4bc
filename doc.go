// Package aio is a completion-based asynchronous I/O runtime: a fixed pool
// of single-threaded reactor workers, each pinned to its own OS thread and
// backed by a kernel completion queue (io_uring on Linux, an I/O completion
// port on Windows), running root tasks built from pkg/task's suspendable
// coroutine abstraction. pkg/socket layers TCP, UDP and Unix domain socket
// adaptors over the reactor as pkg/awaiter-compatible operations.
//
// A typical program builds a Runtime, starts the reactor loops with Run,
// dispatches root tasks with Dispatch or DispatchAll, and calls Stop once
// its work is done:
//
//	rt, err := aio.NewRuntime(aio.WithWorkers(4))
//	if err != nil {
//		log.Fatal(err)
//	}
//	rt.Run()
//	handles, err := aio.DispatchAll(rt, func(w *worker.Worker, self task.Frame) (int, error) {
//		// ... build sockets against w, await them via self ...
//		return 0, nil
//	})
//	for _, h := range handles {
//		h.Await(nil)
//	}
//	rt.Stop()
package aio
