//go:build linux

package worker

import (
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/brickingsoft/errors"
	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/quaydev/aio/pkg/task"
)

// ErrSubmitFailed wraps a failed io_uring_enter call that could not be
// retried away (spec.md §4.4's "only an actual submit failure short-
// circuits into a synchronous error").
var ErrSubmitFailed = errors.Define("worker: io_uring submit failed")

// OpKind enumerates the io_uring operations this runtime issues: a subset
// of the teacher's pkg/ring.OperationKind restricted to what spec.md's
// socket adaptors require (§4.5) plus the UDP/Unix supplements
// (SPEC_FULL.md §9).
type OpKind uint8

const (
	OpNop OpKind = iota
	OpAccept
	OpConnect
	OpRecv
	OpSend
	OpRecvFrom
	OpSendTo
	OpCancel
)

// Operation is one in-flight (or pool-recycled) kernel request, grounded
// on the teacher's pkg/ring.Operation. A concrete socket awaiter
// (pkg/socket) obtains an *Operation from Worker.AcquireOperation,
// populates the kind-specific fields, and calls Worker.Submit.
type Operation struct {
	Record

	Kind OpKind
	FD   int

	Buf  []byte
	Msg  syscall.Msghdr
	addr syscall.RawSockaddrAny
	// acceptAddrLen backs the address-length out-parameter io_uring writes
	// back to on OpAccept; it must outlive the syscall, so it lives here
	// rather than as a prepare()-local, unlike the length itself which the
	// kernel only ever shrinks from sizeof(sockaddr_storage).
	acceptAddrLen uint32

	// ConnectAddr holds raw sockaddr bytes for OpConnect, and doubles as a
	// keep-alive slot for OpSendTo's destination address (prepare only
	// hands the kernel a pointer via Msg.Name; this field keeps the
	// backing array alive until the submission completes).
	ConnectAddr    []byte
	ConnectAddrLen uint32

	gen uint64 // snapshot of Record.Gen at the moment this op was submitted

	// Notify is called exactly once with the operation's outcome, whether
	// resolved synchronously (submit failure) or via a later completion.
	// Concrete socket awaiters (pkg/socket) set this to their embedded
	// awaiter.Base's Complete method.
	Notify func(n int32, err error)
}

// AcceptedAddr returns the raw peer address io_uring wrote into this
// operation's embedded address buffer after a successful OpAccept.
func (op *Operation) AcceptedAddr() *syscall.RawSockaddrAny { return &op.addr }

// Worker is the Linux io_uring-backed reactor: one *giouring.Ring, a ready
// FIFO of resumable task frames, and a submission-side queue of not-yet-
// issued Operations, matching spec.md §4.1/§5.
type Worker struct {
	Base

	ring *giouring.Ring

	// ringMu serializes every access to the io_uring submission-queue
	// producer side (GetSQE/SetData/Submit): flushSubmissions runs on the
	// worker's own thread, but postWake can be called from any thread that
	// calls Submit/RequestStop/Schedule concurrently with it.
	ringMu sync.Mutex

	subMu  sync.Mutex
	subs   []*Operation
	subCap uint32

	pool sync.Pool
}

// New creates a Linux worker backed by an io_uring instance of the given
// submission-queue depth (grounded on pkg/ring.New).
func New(id int, entries uint32) (*Worker, error) {
	if entries == 0 {
		entries = 256
	}
	r, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, errors.New("worker: create io_uring", errors.WithWrap(err))
	}
	w := &Worker{Base: NewBase(id), ring: r, subCap: entries}
	w.pool = sync.Pool{New: func() any { return &Operation{} }}
	w.SetWake(w.postWake)
	return w, nil
}

// postWake submits a bare NOP SQE with a nil user-data pointer so a Run
// loop parked in WaitCQEs returns immediately instead of riding out
// waitTimeout, grounded on the teacher's own submission-side NOP handling
// (pkg/ring/ring.go:270-271, pkg/ring/prepare.go:142-143). handleCQE
// already treats UserData == 0 as nothing to deliver, so the resulting
// completion is a pure wakeup with no further effect. Safe to call from
// any thread; ringMu keeps it from racing flushSubmissions's own use of
// the ring's submission side.
func (w *Worker) postWake() {
	w.ringMu.Lock()
	defer w.ringMu.Unlock()
	sqe := w.ring.GetSQE()
	if sqe == nil {
		return
	}
	sqe.PrepareNop()
	sqe.SetData(nil)
	w.doSubmit()
}

// AcquireOperation returns a pooled Operation ready for a new submission,
// with its completion record's generation bumped and owner set (spec.md
// §3's per-operation completion record; the generation counter is
// SPEC_FULL.md §5's stale-completion supplement).
func (w *Worker) AcquireOperation(owner task.Frame) *Operation {
	op := w.pool.Get().(*Operation)
	op.gen = op.Record.Acquire(owner)
	return op
}

// releaseOperation returns op to the pool once its result has been
// delivered, releasing the completion record's reference on its owner.
func (w *Worker) releaseOperation(op *Operation) {
	op.Record.Release()
	op.Buf = nil
	op.ConnectAddr = nil
	op.Notify = nil
	w.pool.Put(op)
}

// Submit queues op for submission on this worker's next loop iteration and
// wakes the loop if it is parked in a kernel wait. Per spec.md §4.4's
// submission back-pressure rule, if the queue is already at the ring's
// capacity the caller first flushes the queued batch to the kernel
// synchronously and then queues op, so the queue never grows past subCap.
//
// Unlike the teacher's design (where a coroutine's resumption runs
// synchronously on the worker's own thread, so submission always
// originates there), a Go task's body runs on its own goroutine and may
// call Submit concurrently with other tasks scheduled on the same worker.
// subMu makes that safe; see DESIGN.md for why this is a deliberate,
// documented departure from spec.md §5's "no synchronization" assumption.
func (w *Worker) Submit(op *Operation) {
	w.subMu.Lock()
	full := len(w.subs) >= int(w.subCap)
	if !full {
		w.subs = append(w.subs, op)
	}
	w.subMu.Unlock()
	if full {
		w.flushSubmissions()
		w.subMu.Lock()
		w.subs = append(w.subs, op)
		w.subMu.Unlock()
	}
	w.postWake()
}

func (w *Worker) takeSubmissions() []*Operation {
	w.subMu.Lock()
	subs := w.subs
	w.subs = nil
	w.subMu.Unlock()
	return subs
}

// flushSubmissions prepares every currently queued Operation into an SQE
// and calls io_uring_enter, matching the teacher's ring.listenSQ but
// folded into this worker's single loop iteration instead of a second
// goroutine (SPEC_FULL.md §7).
func (w *Worker) flushSubmissions() {
	subs := w.takeSubmissions()
	w.ringMu.Lock()
	defer w.ringMu.Unlock()
	prepared := 0
	for _, op := range subs {
		sqe := w.ring.GetSQE()
		if sqe == nil {
			// Ring is full; submit what we have so far and retry this op.
			w.doSubmit()
			sqe = w.ring.GetSQE()
			if sqe == nil {
				if op.Notify != nil {
					op.Notify(0, ErrSubmitFailed)
				}
				w.releaseOperation(op)
				continue
			}
		}
		w.prepare(sqe, op)
		prepared++
	}
	if prepared > 0 {
		w.doSubmit()
	}
}

func (w *Worker) doSubmit() {
	for {
		_, err := w.ring.Submit()
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return
		}
		return
	}
}

func (w *Worker) prepare(sqe *giouring.SubmissionQueueEntry, op *Operation) {
	switch op.Kind {
	case OpNop:
		sqe.PrepareNop()
	case OpAccept:
		op.addr = syscall.RawSockaddrAny{}
		op.acceptAddrLen = uint32(syscall.SizeofSockaddrAny)
		sqe.PrepareAccept(op.FD, uintptr(unsafe.Pointer(&op.addr)), uint64(uintptr(unsafe.Pointer(&op.acceptAddrLen))), 0)
	case OpConnect:
		sqe.PrepareConnect(op.FD, (*syscall.Sockaddr)(unsafe.Pointer(&op.ConnectAddr[0])), uint64(op.ConnectAddrLen))
	case OpRecv:
		sqe.PrepareRecv(op.FD, uintptr(unsafe.Pointer(&op.Buf[0])), uint32(len(op.Buf)), 0)
	case OpSend:
		sqe.PrepareSend(op.FD, uintptr(unsafe.Pointer(&op.Buf[0])), uint32(len(op.Buf)), 0)
	case OpRecvFrom:
		sqe.PrepareRecvMsg(op.FD, &op.Msg, 0)
	case OpSendTo:
		sqe.PrepareSendMsg(op.FD, &op.Msg, 0)
	case OpCancel:
		sqe.PrepareCancel64(uint64(uintptr(unsafe.Pointer(op))), 0)
	default:
		sqe.PrepareNop()
	}
	sqe.SetData(unsafe.Pointer(op))
	runtime.KeepAlive(op)
}

// Run pins the calling goroutine to its own OS thread (SPEC_FULL.md §8's
// "one OS thread per worker") and runs the single-threaded reactor loop of
// spec.md §4.1 until RequestStop is observed: flush queued submissions,
// wait for a completion (or a postWake-injected NOP), drain everything
// immediately available, then swap-and-resume the ready FIFO.
func (w *Worker) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.bindThread(int64(unix.Gettid()))
	defer w.running.Store(false)
	defer w.ring.QueueExit()

	cqes := make([]*giouring.CompletionQueueEvent, 256)
	waitTimeout := syscall.NsecToTimespec(time.Second.Nanoseconds())

	for !w.stopRequested() {
		w.flushSubmissions()

		if _, err := w.ring.WaitCQEs(1, &waitTimeout, nil); err != nil {
			if !errors.Is(err, syscall.EINTR) && !errors.Is(err, syscall.EAGAIN) && !errors.Is(err, syscall.ETIME) {
				return errors.New("worker: wait completions", errors.WithWrap(err))
			}
		}

		for {
			n := w.ring.PeekBatchCQE(cqes)
			if n == 0 {
				break
			}
			for i := uint32(0); i < n; i++ {
				w.handleCQE(cqes[i])
				cqes[i] = nil
			}
			w.ring.CQAdvance(n)
			if n < uint32(len(cqes)) {
				break
			}
		}

		for _, r := range w.ready.swap() {
			r.Run()
		}
	}
	return nil
}

func (w *Worker) handleCQE(cqe *giouring.CompletionQueueEvent) {
	if cqe.UserData == 0 {
		return
	}
	op := (*Operation)(unsafe.Pointer(uintptr(cqe.UserData)))
	if op.Record.Stale(op.gen) {
		return
	}
	var n int32
	var err error
	if cqe.Res < 0 {
		err = syscall.Errno(-cqe.Res)
	} else {
		n = cqe.Res
	}
	if op.Notify != nil {
		op.Notify(n, err)
	}
	w.releaseOperation(op)
}

// Schedule enqueues r for resumption on this worker. While the worker is
// running, calls from any other thread panic per spec.md §4.1/§7's
// "asserts recommended" for the same-thread contract. Runtime.Dispatch
// does not go through Schedule: it uses Base.Seed, which skips the thread
// check and may be called before or after Run starts.
func (w *Worker) Schedule(r Runnable) {
	tid := int64(unix.Gettid())
	if w.running.Load() && !w.onOwnThread(tid) {
		panic(ErrCrossThreadSchedule)
	}
	w.enqueue(r, tid)
}
