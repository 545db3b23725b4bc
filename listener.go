package aio

import (
	"github.com/quaydev/aio/pkg/netaddr"
	"github.com/quaydev/aio/pkg/socket"
)

// Listen binds a TCP listener on a worker chosen by round-robin from rt's
// pool and returns it ready to Accept/AcceptAsync, per SPEC_FULL.md §9's
// realization of the socket adaptors. The returned listener's Accept calls
// block the calling goroutine directly; AcceptAsync suspends the calling
// task instead, and must only be awaited by a task whose root runs on the
// same worker the listener was bound to (SPEC_FULL.md §10).
func Listen(rt *Runtime, endpoint netaddr.Endpoint, opts ...socket.Option) (*socket.TCPListener, error) {
	l := socket.NewTCPListener(rt.pick(), opts...)
	if err := l.Bind(endpoint); err != nil {
		return nil, err
	}
	return l, nil
}

// ListenUDP binds a UDP socket the same way Listen binds a TCP listener.
func ListenUDP(rt *Runtime, endpoint netaddr.Endpoint, opts ...socket.Option) (*socket.UDPSocket, error) {
	s := socket.NewUDPSocket(rt.pick(), opts...)
	if err := s.Bind(endpoint); err != nil {
		return nil, err
	}
	return s, nil
}

// ListenUnix binds a Unix domain stream listener at path. Returns
// ErrUnixUnsupported on Windows (SPEC_FULL.md §9's Unix domain socket
// supplement is Linux-only).
func ListenUnix(rt *Runtime, path string, opts ...socket.Option) (*socket.UnixListener, error) {
	l := socket.NewUnixListener(rt.pick(), opts...)
	if err := l.Bind(path); err != nil {
		return nil, err
	}
	return l, nil
}
