// Package socket implements the TCP, UDP and Unix domain socket adaptors
// of spec.md §4.5, expressed as awaiters over the reactor in pkg/worker
// and pkg/awaiter, grounded on the teacher's pkg/sockets state machine.
package socket

import (
	"github.com/brickingsoft/errors"

	"github.com/quaydev/aio/pkg/netaddr"
)

// state tracks the empty/owned lifecycle spec.md §4.5 assigns every
// adaptor: "empty (no socket) or owned (socket open and registered with
// the current worker's kernel queue)".
type state uint8

const (
	stateEmpty state = iota
	stateOwned
)

var (
	// ErrEmpty is returned by any operation attempted on an adaptor with
	// no open socket.
	ErrEmpty = errors.Define("socket: adaptor is empty")
	// ErrAlreadyOwned is returned by bind/connect on an adaptor that
	// already owns a socket.
	ErrAlreadyOwned = errors.Define("socket: adaptor already owns a socket")
	// ErrClosed is not returned by the adaptors in this package: Close
	// puts an adaptor back in the empty state, so operations attempted
	// after Close return ErrEmpty.
	ErrClosed = errors.Define("socket: closed")
)

// Endpoints is satisfied by TCPStream, the one adaptor in this package with
// both a local and a remote IP endpoint. TCPListener and UDPSocket expose
// only LocalAddr, and the Unix domain adaptors expose paths (Path,
// LocalPath, RemotePath) instead of endpoints.
type Endpoints interface {
	LocalAddr() netaddr.Endpoint
	RemoteAddr() netaddr.Endpoint
}

// wrapErr wraps cause with msg, or returns nil if cause is nil. Callers are
// responsible for closing any partially constructed socket themselves
// before calling wrapErr, per spec.md §4.5's "Failure of adaptors".
func wrapErr(msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return errors.New(msg, errors.WithWrap(cause))
}
