package transport

import (
	"errors"
	"net"
	"sync"
	"time"
)

// aLongTimeAgo is the same deadline-in-the-past trick the teacher's
// conn_reader.go uses to abort an in-flight blocking Read: setting it
// makes a concurrent Read return immediately with a timeout error.
var aLongTimeAgo = time.Unix(1, 0)

// pollWindow is how long Fill and Flush wait on the socket before reporting
// would-block. A deadline that has already passed makes net.Conn fail the
// call at once without moving any bytes, even when the peer is ready.
const pollWindow = time.Millisecond

// ConnEndpoint adapts a net.Conn to the Endpoint interface. Because
// net.Conn has no portable non-blocking mode, readiness is detected the way
// the teacher's connReader.backgroundRead does it: a background goroutine
// performs a real blocking Read of a single byte, and its arrival (or EOF,
// or error) is what "fill interest satisfied" means. That single
// sniffed byte is replayed to the next Fill call before it touches the
// socket again.
type ConnEndpoint struct {
	conn      net.Conn
	encrypted bool

	mu        sync.Mutex
	cond      *sync.Cond
	inSniff   bool
	sniffed   bool
	sniffByte [1]byte
	aborted   bool

	outputShutdown bool
	closed         bool
}

// NewConnEndpoint wraps conn for use by a ConnectionEngine. Pass encrypted
// true when conn is a *tls.Conn (or similar), so HeaderComplete fills the
// request scheme as "https" (§4.3).
func NewConnEndpoint(conn net.Conn, encrypted bool) *ConnEndpoint {
	e := &ConnEndpoint{conn: conn, encrypted: encrypted}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Encrypted reports whether this endpoint was constructed over TLS.
func (e *ConnEndpoint) Encrypted() bool { return e.encrypted }

func (e *ConnEndpoint) Fill(p []byte) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEndpointClosed
	}
	if e.sniffed {
		if len(p) == 0 {
			e.mu.Unlock()
			return 0, nil
		}
		e.sniffed = false
		p[0] = e.sniffByte[0]
		e.mu.Unlock()
		return 1, nil
	}
	e.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	e.conn.SetReadDeadline(time.Now().Add(pollWindow))
	n, err := e.conn.Read(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

func (e *ConnEndpoint) TryFillInterested(cb ReadyCallback) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cb(false)
		return
	}
	if e.inSniff {
		e.mu.Unlock()
		panic("transport: overlapping TryFillInterested calls")
	}
	e.inSniff = true
	e.mu.Unlock()

	e.conn.SetReadDeadline(time.Time{})
	go e.sniff(cb)
}

func (e *ConnEndpoint) sniff(cb ReadyCallback) {
	n, err := e.conn.Read(e.sniffByte[:])
	e.mu.Lock()
	aborted := e.aborted
	e.aborted = false
	e.inSniff = false
	if n == 1 {
		e.sniffed = true
	}
	e.mu.Unlock()
	e.cond.Broadcast()

	if aborted {
		return
	}
	if err != nil && n == 0 {
		cb(false)
		return
	}
	cb(true)
}

// abortSniff cancels an in-flight background read, used when the engine
// wants to close the endpoint out from under a pending fill-interest wait.
func (e *ConnEndpoint) abortSniff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inSniff {
		return
	}
	e.aborted = true
	e.conn.SetReadDeadline(aLongTimeAgo)
	for e.inSniff {
		e.cond.Wait()
	}
}

func (e *ConnEndpoint) Flush(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	e.conn.SetWriteDeadline(time.Now().Add(pollWindow))
	n, err := e.conn.Write(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// TryFlushInterested has no portable way to learn "socket send buffer has
// space" short of another blocking write, so it fires immediately: the
// engine's SendIterator treats this as "retry the write now," which is
// always correct (if still full, Flush(p) above reports 0 again) and costs
// one extra no-op write attempt in the worst case rather than a stall.
func (e *ConnEndpoint) TryFlushInterested(cb ReadyCallback) { cb(true) }

func (e *ConnEndpoint) ShutdownOutput() error {
	e.mu.Lock()
	e.outputShutdown = true
	e.mu.Unlock()
	if cw, ok := e.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (e *ConnEndpoint) IsOutputShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputShutdown
}

func (e *ConnEndpoint) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

func (e *ConnEndpoint) Close() error {
	e.abortSniff()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.conn.Close()
}

func (e *ConnEndpoint) LocalAddr() net.Addr  { return e.conn.LocalAddr() }
func (e *ConnEndpoint) RemoteAddr() net.Addr { return e.conn.RemoteAddr() }

// Raw exposes the underlying net.Conn for successor protocols taking over
// the connection after an upgrade (wslink/h2clink), matching the teacher's
// Hijack() escape hatch in spirit.
func (e *ConnEndpoint) Raw() net.Conn { return e.conn }
