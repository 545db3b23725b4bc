//go:build windows

package worker

import (
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/windows"

	"github.com/quaydev/aio/pkg/task"
)

// ErrSubmitFailed is returned when an overlapped call fails for a reason
// other than ERROR_IO_PENDING (spec.md §4.4's "only an actual submit
// failure short-circuits into a synchronous error").
var ErrSubmitFailed = errors.Define("worker: overlapped submit failed")

// OpKind enumerates the overlapped operations this runtime issues.
type OpKind uint8

const (
	OpNop OpKind = iota
	OpAccept
	OpConnect
	OpRecv
	OpSend
	OpRecvFrom
	OpSendTo
)

// Operation is one in-flight (or pool-recycled) overlapped request. Its
// windows.Overlapped must sit at a fixed address for the operation's
// duration; being embedded by value inside a heap-allocated *Operation
// pulled from a sync.Pool guarantees that (grounded on the teacher's
// pkg/aio's acquireOperator/Operator pooling for accept_windows.go /
// recv_windows.go).
type Operation struct {
	// overlapped must be the first field: GetQueuedCompletionStatus hands
	// back a *windows.Overlapped, and Run recovers the enclosing
	// *Operation by reinterpreting that pointer, so the two addresses must
	// coincide. Its declared type is syscall.Overlapped rather than
	// windows.Overlapped since the WSARecv/WSASend family this runtime
	// issues its I/O through (see pkg/socket) are stdlib syscall package
	// functions, grounded on the teacher's pkg/aio/recv_windows.go and
	// send_windows.go; the two Overlapped types share the same layout, so
	// Overlapped() hands out the windows.Overlapped view IOCP calls need.
	overlapped syscall.Overlapped

	Record

	Kind   OpKind
	Handle windows.Handle
	Buf    syscall.WSABuf

	// AcceptSocket is a pre-created socket handle for OpAccept, per
	// spec.md §4.5: "pre-creates the accepted socket, registers it to the
	// worker queue" before invoking AcceptEx.
	AcceptSocket windows.Handle
	AcceptBuf    [2 * (sockaddrStorageSize + 16)]byte

	ConnectAddr    []byte
	ConnectAddrLen int32

	gen uint64

	Notify func(n int32, err error)
}

// sockaddrStorageSize mirrors sizeof(sockaddr_storage). AcceptEx's
// documented address-buffer layout requires 16 extra bytes per side, which
// the AcceptEx callers add to both halves (lsan+16 and rsan+16, as the
// teacher's own accept_windows.go does) and which AcceptBuf is sized for
// (spec.md's REDESIGN FLAG on the original's off-by-16 buffer size).
const sockaddrStorageSize = 128

// Worker is the Windows IOCP-backed reactor: one completion port handle, a
// ready FIFO of resumable task frames, and pool of reusable Operations.
type Worker struct {
	Base

	iocp windows.Handle
	pool sync.Pool
}

// New creates a Windows worker backed by a fresh I/O completion port.
func New(id int, _ uint32) (*Worker, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, errors.New("worker: create IOCP", errors.WithWrap(err))
	}
	w := &Worker{Base: NewBase(id), iocp: iocp}
	w.pool = sync.Pool{New: func() any { return &Operation{} }}
	w.SetWake(w.postWake)
	return w, nil
}

// postWake posts a null completion packet so a Run loop parked in
// GetQueuedCompletionStatus returns immediately instead of riding out its
// poll timeout, grounded on the teacher's IOCPCylinder.Stop
// (pkg/aio/engine_windows.go: PostQueuedCompletionStatus(fd, 0, 0, nil)).
// Run's ovl == nil check already treats this as nothing to deliver, so the
// resulting wakeup has no further effect. Safe to call from any thread.
func (w *Worker) postWake() {
	_ = windows.PostQueuedCompletionStatus(w.iocp, 0, 0, nil)
}

// IOCP exposes the completion port handle so socket setup can associate a
// newly created socket with this worker via CreateIoCompletionPort's
// "add an existing handle" form, per spec.md §4.5's "registers with the
// current worker's queue".
func (w *Worker) IOCP() windows.Handle { return w.iocp }

// AcquireOperation returns a pooled Operation with its completion record
// armed for owner, mirroring pkg/worker's Linux AcquireOperation.
func (w *Worker) AcquireOperation(owner task.Frame) *Operation {
	op := w.pool.Get().(*Operation)
	op.overlapped = syscall.Overlapped{}
	op.gen = op.Record.Acquire(owner)
	return op
}

func (w *Worker) releaseOperation(op *Operation) {
	op.Record.Release()
	op.Buf = syscall.WSABuf{}
	op.ConnectAddr = nil
	op.Notify = nil
	w.pool.Put(op)
}

// CompleteSync notifies op's owner immediately without going through the
// completion port — used both when a call to AcceptEx/WSARecv/WSASend
// fails synchronously with something other than ERROR_IO_PENDING (spec.md
// §4.4's on_suspend "false" path) and when it succeeds synchronously on a
// handle configured with skip-on-success (FILE_SKIP_COMPLETION_PORT_ON_SUCCESS):
// in the latter case no completion packet is ever posted to the IOCP, so
// the caller must deliver n and a nil err itself instead of relying on
// Run's GetQueuedCompletionStatus loop.
func (w *Worker) CompleteSync(op *Operation, n int32, err error) {
	if op.Notify != nil {
		op.Notify(n, err)
	}
	w.releaseOperation(op)
}

// SyscallOverlapped returns the address of op's OVERLAPPED structure typed
// for the stdlib syscall package's WSARecv/WSASend/WSARecvFrom/WSASendto
// calls.
func (op *Operation) SyscallOverlapped() *syscall.Overlapped { return &op.overlapped }

// Overlapped returns the same address typed for golang.org/x/sys/windows
// calls (AcceptEx, WSARecvMsg, WSASendMsg, and the IOCP APIs themselves).
func (op *Operation) Overlapped() *windows.Overlapped {
	return (*windows.Overlapped)(unsafe.Pointer(&op.overlapped))
}

// Run runs the single-threaded IOCP drain loop of spec.md §4.1: pinned to
// its own OS thread, blocking on GetQueuedCompletionStatus, then
// swap-and-resume of the ready FIFO.
func (w *Worker) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.bindThread(int64(windows.GetCurrentThreadId()))
	defer w.running.Store(false)
	defer windows.CloseHandle(w.iocp)

	for !w.stopRequested() {
		var n uint32
		var key uintptr
		var ovl *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(w.iocp, &n, &key, &ovl, 1000)
		if ovl != nil {
			op := (*Operation)(unsafe.Pointer(ovl))
			w.completeOp(op, n, err)
		}

		for {
			var n2 uint32
			var key2 uintptr
			var ovl2 *windows.Overlapped
			gerr := windows.GetQueuedCompletionStatus(w.iocp, &n2, &key2, &ovl2, 0)
			if ovl2 == nil {
				break
			}
			op := (*Operation)(unsafe.Pointer(ovl2))
			w.completeOp(op, n2, gerr)
		}

		for _, r := range w.ready.swap() {
			r.Run()
		}
	}
	return nil
}

func (w *Worker) completeOp(op *Operation, n uint32, err error) {
	if op.Record.Stale(op.gen) {
		return
	}
	if err != nil {
		err = errors.New("worker: overlapped completion", errors.WithWrap(err))
	}
	if op.Notify != nil {
		op.Notify(int32(n), err)
	}
	w.releaseOperation(op)
}

// Schedule enqueues r for resumption on this worker, enforcing the
// same-thread contract of spec.md §4.1/§7.
func (w *Worker) Schedule(r Runnable) {
	tid := int64(windows.GetCurrentThreadId())
	if w.running.Load() && !w.onOwnThread(tid) {
		panic(ErrCrossThreadSchedule)
	}
	w.enqueue(r, tid)
}
