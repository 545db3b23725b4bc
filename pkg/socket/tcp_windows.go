//go:build windows

package socket

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/quaydev/aio/pkg/awaiter"
	"github.com/quaydev/aio/pkg/netaddr"
	"github.com/quaydev/aio/pkg/task"
	"github.com/quaydev/aio/pkg/worker"
)

const listenBacklog = 1024

// TCPListener is the Windows counterpart to tcp_linux.go's listener,
// grounded on the teacher's pkg/aio/accept_windows.go. Socket creation goes
// through golang.org/x/sys/windows.WSASocket, the one call the teacher
// itself never issues via the stdlib syscall package (there is no
// syscall.WSASocket); every other socket call below matches the teacher's
// accept_windows.go/connect_windows.go/recv_windows.go/send_windows.go,
// which are all built on syscall.
type TCPListener struct {
	st    state
	sock  syscall.Handle
	w     *worker.Worker
	local netaddr.Endpoint
	opts  Options
}

func NewTCPListener(w *worker.Worker, opts ...Option) *TCPListener {
	return &TCPListener{w: w, opts: buildOptions(opts...)}
}

// Bind creates a socket, enables address-reuse, registers it with the
// worker's completion port, binds, and listens with a large backlog, per
// spec.md §4.5.
func (l *TCPListener) Bind(endpoint netaddr.Endpoint) error {
	if l.st != stateEmpty {
		return ErrAlreadyOwned
	}
	sock, err := newOverlappedSocket(endpoint.Family())
	if err != nil {
		return wrapErr("socket: WSASocket failed", err)
	}
	if err := syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: SO_REUSEADDR failed", err)
	}
	if err := registerIOCP(l.w, sock); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: register with IOCP failed", err)
	}
	sa := endpointToSockaddr(endpoint)
	if err := syscall.Bind(sock, sa); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: bind failed", err)
	}
	if err := syscall.Listen(sock, listenBacklog); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: listen failed", err)
	}
	l.sock = sock
	l.local = endpoint
	l.st = stateOwned
	return nil
}

func (l *TCPListener) LocalAddr() netaddr.Endpoint { return l.local }

// Accept blocks synchronously. Neither stdlib syscall nor
// golang.org/x/sys/windows implement a real blocking accept() on Windows
// (syscall.Accept is a stub returning EWINDOWS), so this drives AcceptEx
// the same way AcceptAsync does and waits for it with
// windows.GetOverlappedResult instead of going through the worker's
// completion port.
func (l *TCPListener) Accept() (*TCPStream, error) {
	if l.st != stateOwned {
		return nil, ErrEmpty
	}
	sock, err := newOverlappedSocket(l.local.Family())
	if err != nil {
		return nil, wrapErr("socket: WSASocket failed", err)
	}
	var ovl syscall.Overlapped
	var buf [2 * (sockaddrStorageSize + 16)]byte
	var bytesRet uint32
	lsan := uint32(sockaddrStorageSize)
	rsan := uint32(sockaddrStorageSize)
	acceptErr := syscall.AcceptEx(l.sock, sock, &buf[0], 0, lsan+16, rsan+16, &bytesRet, &ovl)
	if acceptErr != nil && acceptErr != syscall.ERROR_IO_PENDING {
		_ = syscall.Closesocket(sock)
		return nil, wrapErr("socket: AcceptEx failed", acceptErr)
	}
	if acceptErr == syscall.ERROR_IO_PENDING {
		var done uint32
		wovl := (*windows.Overlapped)(unsafe.Pointer(&ovl))
		if werr := windows.GetOverlappedResult(windows.Handle(l.sock), wovl, &done, true); werr != nil {
			_ = syscall.Closesocket(sock)
			return nil, wrapErr("socket: AcceptEx failed", werr)
		}
	}
	_ = syscall.Setsockopt(sock, syscall.SOL_SOCKET, syscall.SO_UPDATE_ACCEPT_CONTEXT,
		(*byte)(unsafe.Pointer(&l.sock)), int32(unsafe.Sizeof(l.sock)))
	return newConnectedStream(l.w, sock, l.opts), nil
}

type acceptAwaiter struct {
	awaiter.Base
	l      *TCPListener
	stream *TCPStream
}

// AcceptAsync pre-creates the accepted socket, registers it with the
// worker's completion port, configures skip-on-success (spec.md §4.4),
// and invokes AcceptEx with an embedded address buffer sized per side at
// sockaddr-storage+16 bytes (the fix the original REDESIGN FLAG calls
// out; the teacher's accept_windows.go already applies it consistently
// via lsan+16 and rsan+16).
func (l *TCPListener) AcceptAsync(root task.Frame) (*TCPStream, error) {
	if l.st != stateOwned {
		return nil, ErrEmpty
	}
	sock, err := newOverlappedSocket(l.local.Family())
	if err != nil {
		return nil, wrapErr("socket: WSASocket failed", err)
	}
	if err := registerIOCP(l.w, sock); err != nil {
		_ = syscall.Closesocket(sock)
		return nil, wrapErr("socket: register accepted socket failed", err)
	}
	if err := skipCompletionPortOnSuccess(sock); err != nil {
		_ = syscall.Closesocket(sock)
		return nil, wrapErr("socket: skip-on-success failed", err)
	}

	a := &acceptAwaiter{Base: awaiter.NewBase(), l: l}
	op := l.w.AcquireOperation(root)
	op.Kind = worker.OpAccept
	op.Handle = windows.Handle(l.sock)
	op.AcceptSocket = windows.Handle(sock)
	op.Notify = func(n int32, err error) {
		if err != nil {
			_ = syscall.Closesocket(sock)
			a.Complete(0, err)
			return
		}
		_ = syscall.Setsockopt(sock, syscall.SOL_SOCKET, syscall.SO_UPDATE_ACCEPT_CONTEXT,
			(*byte)(unsafe.Pointer(&l.sock)), int32(unsafe.Sizeof(l.sock)))
		a.stream = newConnectedStream(l.w, sock, l.opts)
		a.Complete(n, nil)
	}

	lsan := uint32(sockaddrStorageSize)
	rsan := uint32(sockaddrStorageSize)
	var bytesRet uint32
	acceptErr := syscall.AcceptEx(l.sock, sock, &op.AcceptBuf[0], 0, lsan+16, rsan+16, &bytesRet, op.SyscallOverlapped())
	if acceptErr != nil && acceptErr != syscall.ERROR_IO_PENDING {
		_ = syscall.Closesocket(sock)
		l.w.CompleteSync(op, 0, acceptErr)
		return nil, wrapErr("socket: AcceptEx failed", acceptErr)
	}
	if acceptErr == nil {
		// Synchronous success: skip-on-success (set above) means this
		// completion will never arrive through the IOCP, so deliver it
		// here directly instead of leaving Await parked forever.
		l.w.CompleteSync(op, int32(bytesRet), nil)
	}
	n, err := awaiter.Await(root, a)
	if err != nil {
		return nil, err
	}
	_ = n
	return a.stream, nil
}

func (a *acceptAwaiter) IsReady() bool                  { return false }
func (a *acceptAwaiter) OnSuspend(root task.Frame) bool { return true }
func (a *acceptAwaiter) OnResume() (int32, error)       { return a.Result() }

func (l *TCPListener) Close() error {
	if l.st != stateOwned {
		return nil
	}
	err := syscall.Closesocket(l.sock)
	l.st = stateEmpty
	return wrapErr("socket: close failed", err)
}

// TCPStream is the connect/send/recv half of the Windows adaptor.
type TCPStream struct {
	st     state
	sock   syscall.Handle
	w      *worker.Worker
	local  netaddr.Endpoint
	remote netaddr.Endpoint
	opts   Options
}

func newConnectedStream(w *worker.Worker, sock syscall.Handle, opts Options) *TCPStream {
	s := &TCPStream{st: stateOwned, sock: sock, w: w, opts: opts}
	applyStreamOptions(sock, opts)
	if sa, err := syscall.Getsockname(sock); err == nil {
		s.local = sockaddrFromRaw(sa)
	}
	if sa, err := syscall.Getpeername(sock); err == nil {
		s.remote = sockaddrFromRaw(sa)
	}
	return s
}

func NewTCPStream(w *worker.Worker, opts ...Option) *TCPStream {
	return &TCPStream{w: w, opts: buildOptions(opts...)}
}

func (s *TCPStream) LocalAddr() netaddr.Endpoint  { return s.local }
func (s *TCPStream) RemoteAddr() netaddr.Endpoint { return s.remote }

// Connect blocks synchronously using a plain syscall.Connect call.
func (s *TCPStream) Connect(endpoint netaddr.Endpoint) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	sock, err := newOverlappedSocket(endpoint.Family())
	if err != nil {
		return wrapErr("socket: WSASocket failed", err)
	}
	sa := endpointToSockaddr(endpoint)
	if err := syscall.Connect(sock, sa); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: connect failed", err)
	}
	s.sock = sock
	s.st = stateOwned
	applyStreamOptions(sock, s.opts)
	s.remote = endpoint
	return nil
}

// connectAwaiter drives ConnectEx, which — unlike WSAConnect — requires the
// socket to already be bound to a local address before it is called.
type connectAwaiter struct {
	awaiter.Base
	s        *TCPStream
	endpoint netaddr.Endpoint
}

// ConnectAsync pre-creates and registers the socket, binds it to the
// wildcard address (ConnectEx's documented prerequisite), and issues
// ConnectEx overlapped, grounded on the teacher's connect_windows.go
// connectEx path.
func (s *TCPStream) ConnectAsync(root task.Frame, endpoint netaddr.Endpoint) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	wildcard := netaddr.NewEndpointV4(netaddr.V4(0, 0, 0, 0), 0)
	if endpoint.Family() == netaddr.FamilyV6 {
		wildcard = netaddr.NewEndpointV6(netaddr.V6([16]byte{}), 0, 0, 0)
	}
	sock, err := newOverlappedSocket(endpoint.Family())
	if err != nil {
		return wrapErr("socket: WSASocket failed", err)
	}
	if err := syscall.Bind(sock, endpointToSockaddr(wildcard)); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: pre-connect bind failed", err)
	}
	if err := registerIOCP(s.w, sock); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: register with IOCP failed", err)
	}
	if err := skipCompletionPortOnSuccess(sock); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: skip-on-success failed", err)
	}
	s.sock = sock
	s.st = stateOwned

	a := &connectAwaiter{Base: awaiter.NewBase(), s: s, endpoint: endpoint}
	op := s.w.AcquireOperation(root)
	op.Kind = worker.OpConnect
	op.Handle = windows.Handle(sock)
	op.Notify = a.Complete

	sa := endpointToSockaddr(endpoint)
	connErr := syscall.ConnectEx(sock, sa, nil, 0, nil, op.SyscallOverlapped())
	if connErr != nil && connErr != syscall.ERROR_IO_PENDING {
		s.st = stateEmpty
		_ = syscall.Closesocket(sock)
		s.w.CompleteSync(op, 0, connErr)
		return wrapErr("socket: ConnectEx failed", connErr)
	}
	if connErr == nil {
		// Synchronous success: skip-on-success (set above) means this
		// completion will never arrive through the IOCP.
		s.w.CompleteSync(op, 0, nil)
	}
	if _, err := awaiter.Await(root, a); err != nil {
		s.st = stateEmpty
		_ = syscall.Closesocket(sock)
		return err
	}
	_ = syscall.Setsockopt(sock, syscall.SOL_SOCKET, syscall.SO_UPDATE_CONNECT_CONTEXT, nil, 0)
	applyStreamOptions(sock, s.opts)
	s.remote = endpoint
	if lsa, err := syscall.Getsockname(sock); err == nil {
		s.local = sockaddrFromRaw(lsa)
	}
	return nil
}

func (a *connectAwaiter) IsReady() bool                  { return false }
func (a *connectAwaiter) OnSuspend(root task.Frame) bool { return true }
func (a *connectAwaiter) OnResume() (int32, error)       { return a.Result() }

// Send/Recv block by calling WSASend/WSARecv with a nil OVERLAPPED, which
// Winsock documents as executing synchronously even on a socket opened
// WSA_FLAG_OVERLAPPED (ReadFile/WriteFile, by contrast, require a non-nil
// OVERLAPPED on such a handle and cannot be used here).
func (s *TCPStream) Send(buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	wsabuf := syscall.WSABuf{Len: uint32(len(buf)), Buf: bufPtr(buf)}
	var sent uint32
	if err := syscall.WSASend(s.sock, &wsabuf, 1, &sent, 0, nil, nil); err != nil {
		return int(sent), wrapErr("socket: send failed", err)
	}
	return int(sent), nil
}

func (s *TCPStream) Recv(buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	wsabuf := syscall.WSABuf{Len: uint32(len(buf)), Buf: bufPtr(buf)}
	var recvd, flags uint32
	if err := syscall.WSARecv(s.sock, &wsabuf, 1, &recvd, &flags, nil, nil); err != nil {
		return int(recvd), wrapErr("socket: recv failed", err)
	}
	return int(recvd), nil
}

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
	op.Handle = windows.Handle(a.s.sock)
	op.Buf = syscall.WSABuf{Len: uint32(len(a.buf)), Buf: bufPtr(a.buf)}
	op.Notify = a.Complete
	wsabuf := op.Buf
	handle := a.s.sock
	var flags uint32
	var bytes uint32
	var err error
	if a.kind == worker.OpSend {
		err = syscall.WSASend(handle, &wsabuf, 1, &bytes, 0, op.SyscallOverlapped(), nil)
	} else {
		err = syscall.WSARecv(handle, &wsabuf, 1, &bytes, &flags, op.SyscallOverlapped(), nil)
	}
	if err != nil && err != syscall.ERROR_IO_PENDING {
		a.s.w.CompleteSync(op, 0, err)
	} else if err == nil {
		// Synchronous success: skip-on-success (set at Accept/Connect
		// time) means this completion will never arrive through the
		// IOCP, so deliver bytes transferred here directly.
		a.s.w.CompleteSync(op, int32(bytes), nil)
	}
	return true
}

func (a *ioAwaiter) OnResume() (int32, error) { return a.Result() }

func (s *TCPStream) SendAsync(root task.Frame, buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &ioAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpSend, buf: buf}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

func (s *TCPStream) RecvAsync(root task.Frame, buf []byte) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &ioAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpRecv, buf: buf}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

func (s *TCPStream) Close() error {
	if s.st != stateOwned {
		return nil
	}
	err := syscall.Closesocket(s.sock)
	s.st = stateEmpty
	return wrapErr("socket: close failed", err)
}

func applyStreamOptions(sock syscall.Handle, o Options) {
	if o.NoDelay {
		_ = syscall.SetsockoptInt(sock, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	}
	if o.KeepAlive {
		_ = syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
	}
	if o.ReadBufferSize > 0 {
		_ = syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_RCVBUF, o.ReadBufferSize)
	}
	if o.WriteBufferSize > 0 {
		_ = syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_SNDBUF, o.WriteBufferSize)
	}
}

// newOverlappedSocket creates a WSA_FLAG_OVERLAPPED socket for family. This
// is the one call this runtime keeps on golang.org/x/sys/windows rather than
// stdlib syscall: syscall has no WSASocket, and the teacher's own
// socket_windows.go reaches for windows.WSASocket for exactly this reason.
func newOverlappedSocket(family netaddr.Family) (syscall.Handle, error) {
	af := windows.AF_INET
	if family == netaddr.FamilyV6 {
		af = windows.AF_INET6
	}
	sock, err := windows.WSASocket(int32(af), windows.SOCK_STREAM, 0, nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return 0, err
	}
	return syscall.Handle(sock), nil
}

// registerIOCP associates sock with w's completion port, grounded on the
// teacher's engine_windows.go createSubIoCompletionPort, which converts to
// windows.Handle at exactly this boundary and nowhere else.
func registerIOCP(w *worker.Worker, sock syscall.Handle) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(sock), w.IOCP(), 0, 0)
	return err
}

func endpointToSockaddr(e netaddr.Endpoint) syscall.Sockaddr {
	ip := e.IP()
	if e.Family() == netaddr.FamilyV6 {
		var sa syscall.SockaddrInet6
		sa.Port = int(e.Port())
		copy(sa.Addr[:], ip.AsSlice())
		return &sa
	}
	var sa syscall.SockaddrInet4
	sa.Port = int(e.Port())
	copy(sa.Addr[:], ip.AsSlice())
	return &sa
}

func sockaddrFromRaw(sa syscall.Sockaddr) netaddr.Endpoint {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		ip := netaddr.V4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3])
		return netaddr.NewEndpointV4(ip, uint16(a.Port))
	case *syscall.SockaddrInet6:
		var b [16]byte
		copy(b[:], a.Addr[:])
		ip := netaddr.V6(b)
		return netaddr.NewEndpointV6(ip, uint16(a.Port), 0, 0)
	default:
		return netaddr.Endpoint{}
	}
}

func bufPtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

// skipCompletionPortOnSuccess configures sock to skip both event
// signaling and IOCP posting when an overlapped operation completes
// synchronously, per spec.md §4.4's "Skip-on-success policy".
func skipCompletionPortOnSuccess(sock syscall.Handle) error {
	return syscall.SetFileCompletionNotificationModes(sock,
		syscall.FILE_SKIP_COMPLETION_PORT_ON_SUCCESS|syscall.FILE_SKIP_SET_EVENT_ON_HANDLE)
}
