//go:build linux

package aio

// platformInit is a no-op on Linux: io_uring rings are created per worker
// (see pkg/worker.New) and need no process-wide setup.
func platformInit() error { return nil }

func platformCleanup() {}
