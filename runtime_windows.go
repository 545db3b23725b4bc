//go:build windows

package aio

import (
	"sync"
	"syscall"

	"github.com/brickingsoft/errors"
)

// wsaMu and wsaRefs pair WSAStartup/WSACleanup calls across however many
// Runtimes a process creates, since Winsock treats them as a process-wide
// resource (spec.md §5's "process-wide resource with paired init/
// teardown"), grounded on the teacher's engine_windows.go, which calls
// WSAStartup once per Engine.Start with no such guard — this module adds
// the refcount since, unlike the teacher's single-engine-per-process
// assumption, nothing here rules out a test suite constructing more than
// one Runtime in the same process.
var (
	wsaMu   sync.Mutex
	wsaRefs int
)

func platformInit() error {
	wsaMu.Lock()
	defer wsaMu.Unlock()
	if wsaRefs > 0 {
		wsaRefs++
		return nil
	}
	var data syscall.WSAData
	if err := syscall.WSAStartup(uint32(0x202), &data); err != nil {
		return errors.New("aio: WSAStartup failed", errors.WithWrap(err))
	}
	wsaRefs++
	return nil
}

func platformCleanup() {
	wsaMu.Lock()
	defer wsaMu.Unlock()
	if wsaRefs == 0 {
		return
	}
	wsaRefs--
	if wsaRefs == 0 {
		_ = syscall.WSACleanup()
	}
}
