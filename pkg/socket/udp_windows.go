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

// UDPSocket is the Windows counterpart to udp_linux.go, backed by
// WSARecvFrom/WSASendto over the IOCP worker, matching tcp_windows.go's
// syscall-first convention (windows.WSASocket only for creation).
type UDPSocket struct {
	st    state
	sock  syscall.Handle
	w     *worker.Worker
	local netaddr.Endpoint
	opts  Options
}

func NewUDPSocket(w *worker.Worker, opts ...Option) *UDPSocket {
	return &UDPSocket{w: w, opts: buildOptions(opts...)}
}

func (s *UDPSocket) Bind(endpoint netaddr.Endpoint) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	af := windows.AF_INET
	if endpoint.Family() == netaddr.FamilyV6 {
		af = windows.AF_INET6
	}
	wsock, err := windows.WSASocket(int32(af), windows.SOCK_DGRAM, 0, nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return wrapErr("socket: WSASocket failed", err)
	}
	sock := syscall.Handle(wsock)
	if err := registerIOCP(s.w, sock); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: register with IOCP failed", err)
	}
	if err := skipCompletionPortOnSuccess(sock); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: skip-on-success failed", err)
	}
	sa := endpointToSockaddr(endpoint)
	if err := syscall.Bind(sock, sa); err != nil {
		_ = syscall.Closesocket(sock)
		return wrapErr("socket: bind failed", err)
	}
	if s.opts.ReadBufferSize > 0 {
		_ = syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_RCVBUF, s.opts.ReadBufferSize)
	}
	if s.opts.WriteBufferSize > 0 {
		_ = syscall.SetsockoptInt(sock, syscall.SOL_SOCKET, syscall.SO_SNDBUF, s.opts.WriteBufferSize)
	}
	s.sock = sock
	s.st = stateOwned
	s.local = endpoint
	return nil
}

func (s *UDPSocket) LocalAddr() netaddr.Endpoint { return s.local }

// ReadFrom and WriteTo call WSARecvFrom/WSASendto with a nil OVERLAPPED,
// which Winsock executes synchronously; syscall.Recvfrom/Sendto are stubs
// on Windows (both stdlib syscall and golang.org/x/sys/windows return
// EWINDOWS unconditionally, per their "TODO fix all needed for net"
// comment) and cannot be used.
func (s *UDPSocket) ReadFrom(buf []byte) (int, netaddr.Endpoint, error) {
	if s.st != stateOwned {
		return 0, netaddr.Endpoint{}, ErrEmpty
	}
	wsabuf := syscall.WSABuf{Len: uint32(len(buf)), Buf: bufPtr(buf)}
	var raw syscall.RawSockaddrAny
	rawLen := int32(unsafe.Sizeof(raw))
	var recvd, flags uint32
	if err := syscall.WSARecvFrom(s.sock, &wsabuf, 1, &recvd, &flags, &raw, &rawLen, nil, nil); err != nil {
		return int(recvd), netaddr.Endpoint{}, wrapErr("socket: recvfrom failed", err)
	}
	return int(recvd), sockaddrFromRawAny(&raw), nil
}

func (s *UDPSocket) WriteTo(buf []byte, endpoint netaddr.Endpoint) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	sa := endpointToSockaddr(endpoint)
	wsabuf := syscall.WSABuf{Len: uint32(len(buf)), Buf: bufPtr(buf)}
	var sent uint32
	if err := syscall.WSASendto(s.sock, &wsabuf, 1, &sent, 0, sa, nil, nil); err != nil {
		return int(sent), wrapErr("socket: sendto failed", err)
	}
	return int(sent), nil
}

type udpAwaiter struct {
	awaiter.Base
	s    *UDPSocket
	kind worker.OpKind
	buf  []byte
	to   netaddr.Endpoint

	rawAddr syscall.RawSockaddrAny
	rawLen  int32
	from    netaddr.Endpoint
}

func (a *udpAwaiter) IsReady() bool { return false }

func (a *udpAwaiter) OnSuspend(root task.Frame) bool {
	op := a.s.w.AcquireOperation(root)
	op.Kind = a.kind
	op.Handle = windows.Handle(a.s.sock)
	op.Buf = syscall.WSABuf{Len: uint32(len(a.buf)), Buf: bufPtr(a.buf)}

	handle := a.s.sock
	var bytes, flags uint32
	var err error
	switch a.kind {
	case worker.OpRecvFrom:
		a.rawLen = int32(unsafe.Sizeof(a.rawAddr))
		wsabuf := op.Buf
		op.Notify = func(n int32, e error) {
			if e == nil {
				a.from = sockaddrFromRawAny(&a.rawAddr)
			}
			a.Complete(n, e)
		}
		err = syscall.WSARecvFrom(handle, &wsabuf, 1, &bytes, &flags,
			(*syscall.RawSockaddrAny)(unsafe.Pointer(&a.rawAddr)), &a.rawLen, op.SyscallOverlapped(), nil)
	case worker.OpSendTo:
		sa := endpointToSockaddr(a.to)
		wsabuf := op.Buf
		op.Notify = a.Complete
		err = syscall.WSASendto(handle, &wsabuf, 1, &bytes, 0, sa, op.SyscallOverlapped(), nil)
	}
	if err != nil && err != syscall.ERROR_IO_PENDING {
		a.s.w.CompleteSync(op, 0, err)
	} else if err == nil {
		// Synchronous success: skip-on-success (set at Bind time) means
		// this completion will never arrive through the IOCP.
		a.s.w.CompleteSync(op, int32(bytes), nil)
	}
	return true
}

func (a *udpAwaiter) OnResume() (int32, error) { return a.Result() }

func (s *UDPSocket) ReadFromAsync(root task.Frame, buf []byte) (int, netaddr.Endpoint, error) {
	if s.st != stateOwned {
		return 0, netaddr.Endpoint{}, ErrEmpty
	}
	a := &udpAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpRecvFrom, buf: buf}
	n, err := awaiter.Await(root, a)
	if err != nil {
		return int(n), netaddr.Endpoint{}, err
	}
	return int(n), a.from, nil
}

func (s *UDPSocket) WriteToAsync(root task.Frame, buf []byte, endpoint netaddr.Endpoint) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &udpAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpSendTo, buf: buf, to: endpoint}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

func (s *UDPSocket) Close() error {
	if s.st != stateOwned {
		return nil
	}
	err := syscall.Closesocket(s.sock)
	s.st = stateEmpty
	return wrapErr("socket: close failed", err)
}

func sockaddrFromRawAny(raw *syscall.RawSockaddrAny) netaddr.Endpoint {
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
