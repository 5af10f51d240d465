// Package transport provides the engine's I/O boundary: a non-blocking-style
// Endpoint the ConnectionEngine fills from and flushes to, decoupled from
// any particular net.Conn implementation (SPEC_FULL.md §4.1 "Transport
// Endpoint"). It plays the role the teacher's conn.go/conn_reader.go pair
// plays for net/http, but surfaces readiness through callbacks instead of
// blocking the calling goroutine for the whole request lifetime.
package transport

import (
	"errors"
	"net"
)

// ErrEndpointClosed is returned by Fill/Flush once Close has completed.
var ErrEndpointClosed = errors.New("transport: endpoint closed")

// Endpoint is the abstract transport surface the engine drives. A concrete
// Endpoint (ConnEndpoint being the reference one) owns exactly one
// underlying connection and is driven by exactly one ConnectionEngine at a
// time, matching the single-writer-per-connection rule in SPEC_FULL.md §5.
type Endpoint interface {
	// Fill performs at most one non-blocking read into p, returning the
	// number of bytes read. n==0, err==nil means "no data currently
	// available, register interest" (caller should call
	// TryFillInterested with a ReadyCallback and wait). io.EOF signals a
	// clean peer shutdown of the read side.
	Fill(p []byte) (n int, err error)

	// Flush performs at most one non-blocking write of p, returning how
	// much of p was accepted. A short write means the socket buffer is
	// full; the caller registers write interest and retries the
	// remainder once notified.
	Flush(p []byte) (n int, err error)

	// TryFillInterested arranges for cb to be invoked once more bytes are
	// believed available (or the read side reached EOF/errored). Exactly
	// one outstanding fill-interest registration is supported at a time.
	TryFillInterested(cb ReadyCallback)

	// TryFlushInterested arranges for cb to be invoked once the socket
	// send buffer has drained enough to accept more bytes.
	TryFlushInterested(cb ReadyCallback)

	// ShutdownOutput half-closes the write side (TCP FIN) without
	// tearing down the read side, used for the Connection: close drain
	// sequence in SPEC_FULL.md §4.3.
	ShutdownOutput() error

	// IsOutputShutdown reports whether ShutdownOutput has completed.
	IsOutputShutdown() bool

	// IsOpen reports whether the endpoint is still usable at all.
	IsOpen() bool

	// Close tears down both directions immediately (abnormal teardown,
	// idle timeout past the grace period, or after output shutdown once
	// the peer's FIN is observed).
	Close() error

	// LocalAddr and RemoteAddr mirror net.Conn for logging/metrics
	// labels (SPEC_FULL.md ambient logging fields).
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Encrypted reports whether the underlying transport is TLS, the
	// "decrypted marker" §4.3/§6 use to fill a request's scheme (http vs
	// https).
	Encrypted() bool
}

// ReadyCallback is invoked from an arbitrary goroutine once an endpoint
// becomes ready for the interest it was registered under. ok=false means
// the wait ended in error or closure rather than genuine readiness; callers
// still must call Fill/Flush to discover the concrete error.
type ReadyCallback func(ok bool)
