//go:build linux

package socket

import (
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/quaydev/aio/pkg/awaiter"
	"github.com/quaydev/aio/pkg/netaddr"
	"github.com/quaydev/aio/pkg/task"
	"github.com/quaydev/aio/pkg/worker"
)

const listenBacklog = 1024

// TCPListener is the bind-then-accept half of spec.md §4.5's TCP adaptor.
// Move is supported via Go's normal value semantics (a *TCPListener is
// simply reassigned); copy of the underlying socket is prevented by never
// exposing fd.
type TCPListener struct {
	st    state
	fd    int
	w     *worker.Worker
	local netaddr.Endpoint
	opts  Options
}

// NewTCPListener returns an empty listener bound to worker w. Bind must be
// called before Accept.
func NewTCPListener(w *worker.Worker, opts ...Option) *TCPListener {
	return &TCPListener{w: w, opts: buildOptions(opts...)}
}

// Bind creates a socket matching endpoint's family, enables address- and
// port-reuse, registers with the worker's kernel queue (a no-op on Linux:
// io_uring operations simply reference the raw fd directly), binds and
// listens with a large backlog, per spec.md §4.5. On any failure the
// partially-constructed socket is closed and the listener remains empty.
func (l *TCPListener) Bind(endpoint netaddr.Endpoint) error {
	if l.st != stateEmpty {
		return ErrAlreadyOwned
	}
	domain := unix.AF_INET
	if endpoint.Family() == netaddr.FamilyV6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return wrapErr("socket: listener socket() failed", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: SO_REUSEADDR failed", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: SO_REUSEPORT failed", err)
	}
	sa := endpointToSockaddr(endpoint)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: bind failed", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: listen failed", err)
	}
	l.fd = fd
	l.local = endpoint
	l.st = stateOwned
	return nil
}

// LocalAddr returns the endpoint the listener is bound to.
func (l *TCPListener) LocalAddr() netaddr.Endpoint { return l.local }

// Accept blocks the calling goroutine (via a raw, synchronous accept4,
// polling the non-blocking listener fd while no connection is pending)
// until a connection arrives, the "blocking" variant of spec.md §4.5.
func (l *TCPListener) Accept() (*TCPStream, error) {
	if l.st != stateOwned {
		return nil, ErrEmpty
	}
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if err == unix.EAGAIN || err == unix.EINTR {
			fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
			if _, perr := unix.Poll(fds, -1); perr != nil && perr != unix.EINTR {
				return nil, wrapErr("socket: accept failed", perr)
			}
			continue
		}
		if err != nil {
			return nil, wrapErr("socket: accept failed", err)
		}
		return newConnectedStream(l.w, nfd, l.opts), nil
	}
}

// acceptAwaiter implements the is_ready/on_suspend/on_resume protocol for
// an asynchronous accept, grounded on the teacher's pkg/ring accept path.
type acceptAwaiter struct {
	awaiter.Base
	l      *TCPListener
	op     *worker.Operation
	stream *TCPStream
}

// AcceptAsync returns an Awaiter that, once resolved, yields a connected
// TCPStream — spec.md §4.5's Linux accept_async: "submits accept to
// io_uring with the address output slot; the resulting fd becomes the new
// stream."
func (l *TCPListener) AcceptAsync(root task.Frame) (*TCPStream, error) {
	if l.st != stateOwned {
		return nil, ErrEmpty
	}
	a := &acceptAwaiter{Base: awaiter.NewBase(), l: l}
	if _, err := awaiter.Await(root, a); err != nil {
		return nil, err
	}
	return a.stream, nil
}

func (a *acceptAwaiter) IsReady() bool { return false }

func (a *acceptAwaiter) OnSuspend(root task.Frame) bool {
	op := a.l.w.AcquireOperation(root)
	op.Kind = worker.OpAccept
	op.FD = a.l.fd
	op.Notify = func(n int32, err error) {
		if err == nil {
			addr := op.AcceptedAddr()
			nfd := int(n)
			a.stream = newConnectedStream(a.l.w, nfd, a.l.opts)
			a.stream.remote = sockaddrToEndpoint(addr)
		}
		a.Complete(n, err)
	}
	a.op = op
	a.l.w.Submit(op)
	return true
}

func (a *acceptAwaiter) OnResume() (int32, error) { return a.Result() }

// Close releases the listener's socket and clears its state.
func (l *TCPListener) Close() error {
	if l.st != stateOwned {
		return nil
	}
	err := unix.Close(l.fd)
	l.st = stateEmpty
	l.fd = -1
	return wrapErr("socket: close failed", err)
}

// TCPStream is the connect/send/recv half of spec.md §4.5's TCP adaptor.
type TCPStream struct {
	st     state
	fd     int
	w      *worker.Worker
	local  netaddr.Endpoint
	remote netaddr.Endpoint
	opts   Options
}

func newConnectedStream(w *worker.Worker, fd int, opts Options) *TCPStream {
	s := &TCPStream{st: stateOwned, fd: fd, w: w, opts: opts}
	applyStreamOptions(fd, opts)
	if sa, err := unix.Getsockname(fd); err == nil {
		s.local = sockaddrFromRaw(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		s.remote = sockaddrFromRaw(sa)
	}
	return s
}

// NewTCPStream returns an empty stream bound to worker w.
func NewTCPStream(w *worker.Worker, opts ...Option) *TCPStream {
	return &TCPStream{w: w, opts: buildOptions(opts...)}
}

func (s *TCPStream) LocalAddr() netaddr.Endpoint  { return s.local }
func (s *TCPStream) RemoteAddr() netaddr.Endpoint { return s.remote }

// Connect blocks the calling goroutine until the connection completes.
func (s *TCPStream) Connect(endpoint netaddr.Endpoint) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	domain := unix.AF_INET
	if endpoint.Family() == netaddr.FamilyV6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return wrapErr("socket: stream socket() failed", err)
	}
	sa := endpointToSockaddr(endpoint)
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: connect failed", err)
	}
	s.fd = fd
	s.st = stateOwned
	applyStreamOptions(fd, s.opts)
	s.remote = endpoint
	if lsa, err := unix.Getsockname(fd); err == nil {
		s.local = sockaddrFromRaw(lsa)
	}
	return nil
}

// connectAwaiter implements the async connect path over io_uring.
type connectAwaiter struct {
	awaiter.Base
	s        *TCPStream
	endpoint netaddr.Endpoint
}

// ConnectAsync is the awaiter form of Connect.
func (s *TCPStream) ConnectAsync(root task.Frame, endpoint netaddr.Endpoint) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	domain := unix.AF_INET
	if endpoint.Family() == netaddr.FamilyV6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return wrapErr("socket: stream socket() failed", err)
	}
	s.fd = fd
	s.st = stateOwned
	a := &connectAwaiter{Base: awaiter.NewBase(), s: s, endpoint: endpoint}
	if _, err := awaiter.Await(root, a); err != nil {
		s.st = stateEmpty
		_ = unix.Close(fd)
		return err
	}
	applyStreamOptions(fd, s.opts)
	s.remote = endpoint
	if lsa, err := unix.Getsockname(fd); err == nil {
		s.local = sockaddrFromRaw(lsa)
	}
	return nil
}

func (a *connectAwaiter) IsReady() bool { return false }

func (a *connectAwaiter) OnSuspend(root task.Frame) bool {
	raw := rawSockaddrBytes(a.endpoint)
	op := a.s.w.AcquireOperation(root)
	op.Kind = worker.OpConnect
	op.FD = a.s.fd
	op.ConnectAddr = raw
	op.ConnectAddrLen = uint32(len(raw))
	op.Notify = a.Complete
	a.s.w.Submit(op)
	return true
}

func (a *connectAwaiter) OnResume() (int32, error) { return a.Result() }

// Send writes buf synchronously; the blocking counterpart to SendAsync.
func (s *TCPStream) Send(buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		return n, wrapErr("socket: send failed", err)
	}
	return n, nil
}

// Recv reads into buf synchronously.
func (s *TCPStream) Recv(buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return n, wrapErr("socket: recv failed", err)
	}
	return n, nil
}

// ioAwaiter implements the protocol for a plain send/recv, parameterized
// by (socket, buffer, length) per spec.md §4.5.
type ioAwaiter struct {
	awaiter.Base
	s    *TCPStream
	kind worker.OpKind
	buf  []byte
}

func (a *ioAwaiter) IsReady() bool { return false }

func (a *ioAwaiter) OnSuspend(root task.Frame) bool {
	op := a.s.w.AcquireOperation(root)
	op.Kind = a.kind
	op.FD = a.s.fd
	op.Buf = a.buf
	op.Notify = a.Complete
	a.s.w.Submit(op)
	return true
}

func (a *ioAwaiter) OnResume() (int32, error) { return a.Result() }

// SendAsync produces an awaiter for a send of buf.
func (s *TCPStream) SendAsync(root task.Frame, buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &ioAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpSend, buf: buf}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

// RecvAsync produces an awaiter for a recv into buf.
func (s *TCPStream) RecvAsync(root task.Frame, buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &ioAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpRecv, buf: buf}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

// Close releases the stream's socket.
func (s *TCPStream) Close() error {
	if s.st != stateOwned {
		return nil
	}
	err := unix.Close(s.fd)
	s.st = stateEmpty
	s.fd = -1
	return wrapErr("socket: close failed", err)
}

func applyStreamOptions(fd int, o Options) {
	if o.NoDelay {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	if o.KeepAlive {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		if o.KeepAlivePeriod > 0 {
			secs := int(o.KeepAlivePeriod.Seconds())
			if secs < 1 {
				secs = 1
			}
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
		}
	}
	if o.ReadBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, o.ReadBufferSize)
	}
	if o.WriteBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, o.WriteBufferSize)
	}
	if ms := timeoutMillis(o.ReadTimeout); ms > 0 {
		tv := unix.NsecToTimeval((time.Duration(ms) * time.Millisecond).Nanoseconds())
		_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	}
	if ms := timeoutMillis(o.WriteTimeout); ms > 0 {
		tv := unix.NsecToTimeval((time.Duration(ms) * time.Millisecond).Nanoseconds())
		_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
	}
}

func endpointToSockaddr(e netaddr.Endpoint) unix.Sockaddr {
	ip := e.IP()
	if e.Family() == netaddr.FamilyV6 {
		var sa unix.SockaddrInet6
		sa.Port = int(e.Port())
		sa.ZoneId = e.ScopeID()
		copy(sa.Addr[:], ip.AsSlice())
		return &sa
	}
	var sa unix.SockaddrInet4
	sa.Port = int(e.Port())
	copy(sa.Addr[:], ip.AsSlice())
	return &sa
}

func sockaddrFromRaw(sa unix.Sockaddr) netaddr.Endpoint {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := netaddr.V4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3])
		return netaddr.NewEndpointV4(ip, uint16(a.Port))
	case *unix.SockaddrInet6:
		var b [16]byte
		copy(b[:], a.Addr[:])
		ip := netaddr.V6(b)
		return netaddr.NewEndpointV6(ip, uint16(a.Port), 0, a.ZoneId)
	default:
		return netaddr.Endpoint{}
	}
}

func sockaddrToEndpoint(raw *syscall.RawSockaddrAny) netaddr.Endpoint {
	switch raw.Addr.Family {
	case syscall.AF_INET:
		in := (*syscall.RawSockaddrInet4)(unsafe.Pointer(raw))
		ip := netaddr.V4(in.Addr[0], in.Addr[1], in.Addr[2], in.Addr[3])
		port := uint16(in.Port>>8) | uint16(in.Port<<8)
		return netaddr.NewEndpointV4(ip, port)
	case syscall.AF_INET6:
		in := (*syscall.RawSockaddrInet6)(unsafe.Pointer(raw))
		ip := netaddr.V6(in.Addr)
		port := uint16(in.Port>>8) | uint16(in.Port<<8)
		return netaddr.NewEndpointV6(ip, port, 0, in.Scope_id)
	default:
		return netaddr.Endpoint{}
	}
}

func rawSockaddrBytes(e netaddr.Endpoint) []byte {
	if e.Family() == netaddr.FamilyV6 {
		var raw syscall.RawSockaddrInet6
		raw.Family = syscall.AF_INET6
		raw.Port = uint16(e.Port()>>8) | uint16(e.Port()<<8)
		copy(raw.Addr[:], e.IP().AsSlice())
		raw.Scope_id = e.ScopeID()
		buf := (*[unsafe.Sizeof(raw)]byte)(unsafe.Pointer(&raw))[:]
		out := make([]byte, len(buf))
		copy(out, buf)
		return out
	}
	var raw syscall.RawSockaddrInet4
	raw.Family = syscall.AF_INET
	raw.Port = uint16(e.Port()>>8) | uint16(e.Port()<<8)
	copy(raw.Addr[:], e.IP().AsSlice())
	buf := (*[unsafe.Sizeof(raw)]byte)(unsafe.Pointer(&raw))[:]
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}
