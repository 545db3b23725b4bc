//go:build windows

package socket

import (
	"github.com/brickingsoft/errors"

	"github.com/quaydev/aio/pkg/task"
	"github.com/quaydev/aio/pkg/worker"
)

// ErrUnixUnsupported is returned by every UnixListener/UnixStream method on
// Windows. AF_UNIX exists on recent Windows builds but is not wired into
// AcceptEx/ConnectEx the way this runtime's IOCP path requires, and the
// teacher's own Windows engine never attempts it either; SPEC_FULL.md's
// Unix domain socket supplement is a Linux-only addition for that reason.
var ErrUnixUnsupported = errors.Define("socket: unix domain sockets are not supported on windows")

type UnixListener struct{}

func NewUnixListener(w *worker.Worker, opts ...Option) *UnixListener { return &UnixListener{} }

func (l *UnixListener) Bind(path string) error { return ErrUnixUnsupported }
func (l *UnixListener) Path() string           { return "" }
func (l *UnixListener) Accept() (*UnixStream, error) {
	return nil, ErrUnixUnsupported
}
func (l *UnixListener) AcceptAsync(root task.Frame) (*UnixStream, error) {
	return nil, ErrUnixUnsupported
}
func (l *UnixListener) Close() error { return nil }

type UnixStream struct{}

func NewUnixStream(w *worker.Worker, opts ...Option) *UnixStream { return &UnixStream{} }

func (s *UnixStream) LocalPath() string                                { return "" }
func (s *UnixStream) RemotePath() string                               { return "" }
func (s *UnixStream) Connect(path string) error                        { return ErrUnixUnsupported }
func (s *UnixStream) ConnectAsync(root task.Frame, path string) error  { return ErrUnixUnsupported }
func (s *UnixStream) Send(buf []byte) (int, error)                     { return 0, ErrUnixUnsupported }
func (s *UnixStream) Recv(buf []byte) (int, error)                     { return 0, ErrUnixUnsupported }
func (s *UnixStream) SendAsync(root task.Frame, buf []byte) (int, error) {
	return 0, ErrUnixUnsupported
}
func (s *UnixStream) RecvAsync(root task.Frame, buf []byte) (int, error) {
	return 0, ErrUnixUnsupported
}
func (s *UnixStream) Close() error { return nil }
