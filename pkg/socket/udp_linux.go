//go:build linux

package socket

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/quaydev/aio/pkg/awaiter"
	"github.com/quaydev/aio/pkg/netaddr"
	"github.com/quaydev/aio/pkg/task"
	"github.com/quaydev/aio/pkg/worker"
)

// UDPSocket is the SPEC_FULL.md §9 UDP supplement: the original's socket
// layer is send/recv *and* sendto/recvfrom symmetric across TCP and UDP, so
// this adaptor shares the empty/owned state machine with TCPStream but
// carries a peer address on every datagram instead of a fixed remote.
type UDPSocket struct {
	st    state
	fd    int
	w     *worker.Worker
	local netaddr.Endpoint
	opts  Options
}

// NewUDPSocket returns an empty socket bound to worker w.
func NewUDPSocket(w *worker.Worker, opts ...Option) *UDPSocket {
	return &UDPSocket{w: w, opts: buildOptions(opts...)}
}

// Bind creates and binds the underlying UDP socket to endpoint.
func (s *UDPSocket) Bind(endpoint netaddr.Endpoint) error {
	if s.st != stateEmpty {
		return ErrAlreadyOwned
	}
	domain := unix.AF_INET
	if endpoint.Family() == netaddr.FamilyV6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return wrapErr("socket: udp socket() failed", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: SO_REUSEADDR failed", err)
	}
	sa := endpointToSockaddr(endpoint)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return wrapErr("socket: bind failed", err)
	}
	if s.opts.ReadBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, s.opts.ReadBufferSize)
	}
	if s.opts.WriteBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, s.opts.WriteBufferSize)
	}
	s.fd = fd
	s.st = stateOwned
	s.local = endpoint
	return nil
}

// LocalAddr returns the endpoint the socket is bound to.
func (s *UDPSocket) LocalAddr() netaddr.Endpoint { return s.local }

// ReadFrom blocks until a datagram arrives, returning its length and the
// sender's endpoint.
func (s *UDPSocket) ReadFrom(buf []byte) (int, netaddr.Endpoint, error) {
	if s.st != stateOwned {
		return 0, netaddr.Endpoint{}, ErrEmpty
	}
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return n, netaddr.Endpoint{}, wrapErr("socket: recvfrom failed", err)
	}
	return n, sockaddrFromRaw(from), nil
}

// WriteTo blocks until buf has been queued for delivery to endpoint.
func (s *UDPSocket) WriteTo(buf []byte, endpoint netaddr.Endpoint) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	sa := endpointToSockaddr(endpoint)
	if err := unix.Sendto(s.fd, buf, 0, sa); err != nil {
		return 0, wrapErr("socket: sendto failed", err)
	}
	return len(buf), nil
}

// udpAwaiter drives an OpRecvFrom/OpSendTo through the io_uring msghdr
// path, filling in Operation.Msg the way the teacher's pkg/ring recvfrom
// path does.
type udpAwaiter struct {
	awaiter.Base
	s    *UDPSocket
	kind worker.OpKind
	buf  []byte
	to   netaddr.Endpoint // set for OpSendTo

	iov   unix.Iovec
	raw   syscall.RawSockaddrAny
	rawSz uint32
	from  netaddr.Endpoint // populated on completion for OpRecvFrom
}

func (a *udpAwaiter) IsReady() bool { return false }

func (a *udpAwaiter) OnSuspend(root task.Frame) bool {
	op := a.s.w.AcquireOperation(root)
	op.Kind = a.kind
	op.FD = a.s.fd

	a.iov.Base = &a.buf[0]
	a.iov.SetLen(len(a.buf))

	switch a.kind {
	case worker.OpRecvFrom:
		a.rawSz = uint32(syscall.SizeofSockaddrAny)
		op.Msg = syscall.Msghdr{
			Name:    (*byte)(unsafe.Pointer(&a.raw)),
			Namelen: a.rawSz,
			Iov:     (*syscall.Iovec)(unsafe.Pointer(&a.iov)),
			Iovlen:  1,
		}
	case worker.OpSendTo:
		raw := rawSockaddrBytes(a.to)
		op.ConnectAddr = raw // reused purely as a keep-alive slot for the raw bytes
		op.Msg = syscall.Msghdr{
			Name:    (*byte)(unsafe.Pointer(&raw[0])),
			Namelen: uint32(len(raw)),
			Iov:     (*syscall.Iovec)(unsafe.Pointer(&a.iov)),
			Iovlen:  1,
		}
	}

	op.Notify = func(n int32, err error) {
		if err == nil && a.kind == worker.OpRecvFrom {
			a.from = sockaddrToEndpoint(&a.raw)
		}
		a.Complete(n, err)
	}
	a.s.w.Submit(op)
	return true
}

func (a *udpAwaiter) OnResume() (int32, error) { return a.Result() }

// ReadFromAsync is the awaiter form of ReadFrom.
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

// WriteToAsync is the awaiter form of WriteTo.
func (s *UDPSocket) WriteToAsync(root task.Frame, buf []byte, endpoint netaddr.Endpoint) (int, error) {
	if s.st != stateOwned {
		return 0, ErrEmpty
	}
	a := &udpAwaiter{Base: awaiter.NewBase(), s: s, kind: worker.OpSendTo, buf: buf, to: endpoint}
	n, err := awaiter.Await(root, a)
	return int(n), err
}

// Close releases the socket.
func (s *UDPSocket) Close() error {
	if s.st != stateOwned {
		return nil
	}
	err := unix.Close(s.fd)
	s.st = stateEmpty
	s.fd = -1
	return wrapErr("socket: close failed", err)
}
