//go:build linux

package socket

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/quaydev/aio/pkg/awaiter"
	"github.com/quaydev/aio/pkg/task"
	"github.com/quaydev/aio/pkg/worker"
)

// UnixListener and UnixStream are the SPEC_FULL.md §9 Unix domain socket
// supplement: a path-addressed sibling of TCPListener/TCPStream that shares
// its empty/owned state machine and issues the same OpAccept/OpConnect/
// OpRecv/OpSend operations against an AF_UNIX SOCK_STREAM socket.
type UnixListener struct {
	st   state
	fd   int
	w    *worker.Worker
	path string
	opts Options
}

// NewUnixListener returns an empty listener bound to worker w.
func NewUnixListener(w *worker.Worker, opts ...Option) *UnixListener {
	return &UnixListener{w: w, opts: buildOptions(opts...)}
}

// Bind creates, binds and listens on an AF_UNIX socket at path. Unlike TCP,
// a stale socket file at path is not implicitly removed: callers that want
// bind-to-replace semantics unlink path themselves first, matching the
// teacher's stream.go treatment of listener setup as strictly additive.
func (l *UnixListener) Bind(path string) error {
	if l.st != stateEmpty {
		return ErrAlreadyOwned
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return wrapErr("socket: unix socket() failed", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: unix bind failed", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: unix listen failed", err)
	}
	l.fd = fd
	l.path = path
	l.st = stateOwned
	return nil
}

// Path returns the filesystem path the listener is bound to.
func (l *UnixListener) Path() string { return l.path }

// Accept blocks until a peer connects, polling the non-blocking listener
// fd while no connection is pending.
func (l *UnixListener) Accept() (*UnixStream, error) {
	if l.st != stateOwned {
		return nil, ErrEmpty
	}
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if err == unix.EAGAIN || err == unix.EINTR {
			fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
			if _, perr := unix.Poll(fds, -1); perr != nil && perr != unix.EINTR {
				return nil, wrapErr("socket: unix accept failed", perr)
			}
			continue
		}
		if err != nil {
			return nil, wrapErr("socket: unix accept failed", err)
		}
		return newConnectedUnixStream(l.w, nfd, l.opts), nil
	}
}

type unixAcceptAwaiter struct {
	awaiter.Base
	l      *UnixListener
	stream *UnixStream
}

// AcceptAsync is the awaiter form of Accept.
func (l *UnixListener) AcceptAsync(root task.Frame) (*UnixStream, error) {
	if l.st != stateOwned {
		return nil, ErrEmpty
	}
	a := &unixAcceptAwaiter{Base: awaiter.NewBase(), l: l}
	if _, err := awaiter.Await(root, a); err != nil {
		return nil, err
	}
	return a.stream, nil
}

func (a *unixAcceptAwaiter) IsReady() bool { return false }

func (a *unixAcceptAwaiter) OnSuspend(root task.Frame) bool {
	op := a.l.w.AcquireOperation(root)
	op.Kind = worker.OpAccept
	op.FD = a.l.fd
	op.Notify = func(n int32, err error) {
		if err == nil {
			a.stream = newConnectedUnixStream(a.l.w, int(n), a.l.opts)
		}
		a.Complete(n, err)
	}
	a.l.w.Submit(op)
	return true
}

func (a *unixAcceptAwaiter) OnResume() (int32, error) { return a.Result() }

// Close releases the listener's socket. The backing path is left on disk;
// callers that want it removed call unix.Unlink themselves after Close.
func (l *UnixListener) Close() error {
	if l.st != stateOwned {
		return nil
	}
	err := unix.Close(l.fd)
	l.st = stateEmpty
	l.fd = -1
	return wrapErr("socket: close failed", err)
}

// UnixStream is the connect/send/recv half of the Unix domain adaptor.
type UnixStream struct {
	st     state
	fd     int
	w      *worker.Worker
	local  string
	remote string
	opts   Options
}

func newConnectedUnixStream(w *worker.Worker, fd int, opts Options) *UnixStream {
	s := &UnixStream{st: stateOwned, fd: fd, w: w, opts: opts}
	applyUnixStreamOptions(fd, opts)
	if sa, err := unix.Getsockname(fd); err == nil {
		s.local = unixPathOf(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		s.remote = unixPathOf(sa)
	}
	return s
}

// NewUnixStream returns an empty stream bound to worker w.
func NewUnixStream(w *worker.Worker, opts ...Option) *UnixStream {
	return &UnixStream{w: w, opts: buildOptions(opts...)}
}

func (s *UnixStream) LocalPath() string  { return s.local }
func (s *UnixStream) RemotePath() string { return s.remote }

// Connect blocks until the connection to path completes.
func (s *UnixStream) Connect(path string) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return wrapErr("socket: unix socket() failed", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: unix connect failed", err)
	}
	s.fd = fd
	s.st = stateOwned
	applyUnixStreamOptions(fd, s.opts)
	s.remote = path
	return nil
}

type unixConnectAwaiter struct {
	awaiter.Base
	s    *UnixStream
	path string
}

// ConnectAsync is the awaiter form of Connect. io_uring's PrepareConnect
// needs a raw sockaddr, so this builds one the same way OpConnect does for
// TCP's rawSockaddrBytes, just for AF_UNIX's path-based layout instead.
func (s *UnixStream) ConnectAsync(root task.Frame, path string) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return wrapErr("socket: unix socket() failed", err)
	}
	s.fd = fd
	s.st = stateOwned
	a := &unixConnectAwaiter{Base: awaiter.NewBase(), s: s, path: path}
	if _, err := awaiter.Await(root, a); err != nil {
		s.st = stateEmpty
		_ = unix.Close(fd)
		return err
	}
	applyUnixStreamOptions(fd, s.opts)
	s.remote = path
	return nil
}

func (a *unixConnectAwaiter) IsReady() bool { return false }

func (a *unixConnectAwaiter) OnSuspend(root task.Frame) bool {
	raw := rawSockaddrUnixBytes(a.path)
	op := a.s.w.AcquireOperation(root)
	op.Kind = worker.OpConnect
	op.FD = a.s.fd
	op.ConnectAddr = raw
	op.ConnectAddrLen = uint32(len(raw))
	op.Notify = a.Complete
	a.s.w.Submit(op)
	return true
}

func (a *unixConnectAwaiter) OnResume() (int32, error) { return a.Result() }

// Send writes buf synchronously.
func (s *UnixStream) Send(buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		return n, wrapErr("socket: unix send failed", err)
	}
	return n, nil
}

// Recv reads into buf synchronously.
func (s *UnixStream) Recv(buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return n, wrapErr("socket: unix recv failed", err)
	}
	return n, nil
}

type unixIOAwaiter struct {
	awaiter.Base
	s    *UnixStream
	kind worker.OpKind
	buf  []byte
}

func (a *unixIOAwaiter) IsReady() bool { return false }

func (a *unixIOAwaiter) OnSuspend(root task.Frame) bool {
	op := a.s.w.AcquireOperation(root)
	op.Kind = a.kind
	op.FD = a.s.fd
	op.Buf = a.buf
	op.Notify = a.Complete
	a.s.w.Submit(op)
	return true
}

func (a *unixIOAwaiter) OnResume() (int32, error) { return a.Result() }

// SendAsync produces an awaiter for a send of buf.
func (s *UnixStream) SendAsync(root task.Frame, buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &unixIOAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpSend, buf: buf}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

// RecvAsync produces an awaiter for a recv into buf.
func (s *UnixStream) RecvAsync(root task.Frame, buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &unixIOAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpRecv, buf: buf}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

// Close releases the stream's socket.
func (s *UnixStream) Close() error {
	if s.st != stateOwned {
		return nil
	}
	err := unix.Close(s.fd)
	s.st = stateEmpty
	s.fd = -1
	return wrapErr("socket: close failed", err)
}

func applyUnixStreamOptions(fd int, o Options) {
	if o.ReadBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, o.ReadBufferSize)
	}
	if o.WriteBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, o.WriteBufferSize)
	}
}

func unixPathOf(sa unix.Sockaddr) string {
	if u, ok := sa.(*unix.SockaddrUnix); ok {
		return u.Name
	}
	return ""
}

// rawSockaddrUnixBytes builds a raw sockaddr_un for io_uring's PrepareConnect,
// which needs a pointer+length rather than the unix.Sockaddr interface
// unix.Connect accepts.
func rawSockaddrUnixBytes(path string) []byte {
	var raw unix.RawSockaddrUnix
	raw.Family = unix.AF_UNIX
	for i := 0; i < len(path) && i < len(raw.Path)-1; i++ {
		raw.Path[i] = int8(path[i])
	}
	size := int(unsafe.Offsetof(raw.Path)) + len(path) + 1
	buf := (*[unsafe.Sizeof(raw)]byte)(unsafe.Pointer(&raw))[:]
	out := make([]byte, size)
	copy(out, buf[:size])
	return out
}
