package socket

import "time"

// Options configures a socket adaptor at construction time, following the
// functional-options style the teacher's root Option type uses (see
// option.go's WithParallelAcceptors/WithMaxConnections): no CLI, no config
// files, no env vars — every tunable is either a constructor argument or a
// With* functional option (SPEC_FULL.md §2).
type Options struct {
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	NoDelay         bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadBufferSize  int
	WriteBufferSize int
}

// Option mutates an in-progress Options value.
type Option func(*Options)

// WithKeepAlive enables TCP keep-alive probing, matching spec.md §4.5's
// exposed socket-option set.
func WithKeepAlive(period time.Duration) Option {
	return func(o *Options) {
		o.KeepAlive = true
		o.KeepAlivePeriod = period
	}
}

// WithNoDelay toggles Nagle's algorithm.
func WithNoDelay(noDelay bool) Option {
	return func(o *Options) { o.NoDelay = noDelay }
}

// WithReadTimeout sets the per-direction read timeout. spec.md §4.5: "a
// non-positive duration means no timeout". On Linux the value is converted
// to milliseconds and set as SO_RCVTIMEO on TCP streams; the Windows
// backend and the Unix domain adaptor do not apply read or write timeouts.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReadTimeout = d }
}

// WithWriteTimeout sets the per-direction write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) { o.WriteTimeout = d }
}

// WithReadBuffer sets SO_RCVBUF. Zero leaves the OS default in place.
// SPEC_FULL.md §9 supplement beyond the distilled spec's keep-
// alive/no-delay/timeout set.
func WithReadBuffer(bytes int) Option {
	return func(o *Options) { o.ReadBufferSize = bytes }
}

// WithWriteBuffer sets SO_SNDBUF.
func WithWriteBuffer(bytes int) Option {
	return func(o *Options) { o.WriteBufferSize = bytes }
}

func buildOptions(opts ...Option) Options {
	var o Options
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// timeoutMillis converts a Go duration to the millisecond form spec.md
// §4.5 calls for, treating any non-positive duration as "no timeout" (0).
func timeoutMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return int(ms)
}
