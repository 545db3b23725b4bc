package aio

import (
	"github.com/quaydev/aio/pkg/netaddr"
	"github.com/quaydev/aio/pkg/socket"
)

// Dial connects a TCP stream to endpoint from a worker chosen by
// round-robin from rt's pool. As with Listen, the returned stream's
// ConnectAsync/SendAsync/RecvAsync must only be awaited by a task rooted
// on that same worker.
func Dial(rt *Runtime, endpoint netaddr.Endpoint, opts ...socket.Option) (*socket.TCPStream, error) {
	s := socket.NewTCPStream(rt.pick(), opts...)
	if err := s.Connect(endpoint); err != nil {
		return nil, err
	}
	return s, nil
}

// DialUnix connects a Unix domain stream to path.
func DialUnix(rt *Runtime, path string, opts ...socket.Option) (*socket.UnixStream, error) {
	s := socket.NewUnixStream(rt.pick(), opts...)
	if err := s.Connect(path); err != nil {
		return nil, err
	}
	return s, nil
}

// NewUDPSocket allocates an empty UDP socket on a worker chosen by
// round-robin. Callers still call Bind before ReadFrom/WriteTo/their
// Async forms, same as constructing a socket.UDPSocket directly; this
// helper only takes the worker-selection decision off the caller's hands.
func NewUDPSocket(rt *Runtime, opts ...socket.Option) *socket.UDPSocket {
	return socket.NewUDPSocket(rt.pick(), opts...)
}
