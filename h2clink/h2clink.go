// Package h2clink bridges a detected h2c cleartext-HTTP/2 preface
// (SPEC_FULL.md §4.3, §8 scenario S6) onto golang.org/x/net/http2's server
// loop. The engine only ever recognizes the preface bytes; running the
// actual multiplexed protocol is delegated entirely to x/net/http2, whose
// public surface is shaped around net/http's Handler/ResponseWriter/Request
// rather than this module's channel.Channel — reimplementing HTTP/2 framing
// by hand to avoid that glue would defeat the point of wiring the
// dependency, so the bridge below translates each h2 stream into one
// channel.Accept/Dispatch call instead.
package h2clink

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/badu/h1engine/channel"
	"github.com/badu/h1engine/fields"
)

// New returns the factory engine.Options.H2C expects: given the connection's
// buffered bytes (the client preface and anything after it), it builds an UpgradeHandler that, once
// TakeOver is called, hands the raw connection to an http2.Server for the
// rest of its lifetime.
func New(ch channel.Channel, log *zap.Logger) func(leftover []byte) (channel.UpgradeHandler, bool) {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http2.Server{}
	return func(leftover []byte) (channel.UpgradeHandler, bool) {
		return &handler{ch: ch, log: log, srv: srv, leftover: leftover}, true
	}
}

type handler struct {
	ch       channel.Channel
	log      *zap.Logger
	srv      *http2.Server
	leftover []byte
	raw      net.Conn
}

var _ channel.UpgradeHandler = (*handler)(nil)

func (h *handler) TakeOver(leftover []byte) {
	// leftover holds the buffered client preface and anything after it;
	// http2.Server reads the preface itself. The engine passes the same
	// bytes to the factory and to TakeOver, so the factory's copy is only
	// used when this argument is empty.
	if len(leftover) == 0 {
		leftover = h.leftover
	}
	raw := h.raw
	if raw == nil {
		h.log.Warn("h2clink: TakeOver called without a bound raw connection")
		return
	}
	var conn net.Conn = raw
	if len(leftover) > 0 {
		conn = &prefixConn{prefix: leftover, Conn: raw}
	}
	go h.srv.ServeConn(conn, &http2.ServeConnOpts{Handler: http.HandlerFunc(h.serveHTTP)})
}

// BindRaw attaches the underlying net.Conn this handler will take over.
// The engine calls this (using the Raw() escape hatch
// transport.ConnEndpoint exposes) just before TakeOver, since
// channel.UpgradeHandler itself carries no notion of a transport.
func (h *handler) BindRaw(raw net.Conn) { h.raw = raw }

func (h *handler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{})
	st := &h2Stream{w: w, r: r, done: done, id: nextStreamID()}
	meta := requestMetaFrom(r)
	task := h.ch.Accept(meta, st)
	h.ch.Dispatch(task)
	<-done
}

var streamIDCounter uint64

func nextStreamID() uint64 { return atomic.AddUint64(&streamIDCounter, 1) }

func requestMetaFrom(r *http.Request) channel.RequestMeta {
	f := &fields.Fields{}
	for name, values := range r.Header {
		for _, v := range values {
			f.Add(name, v)
		}
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	cl := int64(-1)
	if r.ContentLength >= 0 {
		cl = r.ContentLength
	}
	return channel.RequestMeta{
		Method:        r.Method,
		URI:           r.RequestURI,
		Major:         2,
		Minor:         0,
		Scheme:        scheme,
		Authority:     r.Host,
		ContentLength: cl,
		Fields:        f,
	}
}

// h2Stream adapts one h2 request/response exchange to channel.StreamHandle.
// Unlike the HTTP/1.x exchangeStream, there is no connection-wide mutex to
// serialize against: http2.Server already gives each stream its own
// goroutine, so h2Stream only needs to protect its own small bit of state.
type h2Stream struct {
	w    http.ResponseWriter
	r    *http.Request
	id   uint64
	done chan struct{}

	mu        sync.Mutex
	committed bool
	complete  bool
}

var _ channel.StreamHandle = (*h2Stream)(nil)

func (s *h2Stream) ReadContent() (*channel.Content, error) {
	buf := make([]byte, 32*1024)
	n, err := s.r.Body.Read(buf)
	if n > 0 {
		return &channel.Content{Kind: channel.ContentChunk, Bytes: buf[:n]}, nil
	}
	if err != nil {
		return &channel.Content{Kind: channel.ContentEOF}, nil
	}
	return nil, nil
}

func (s *h2Stream) DemandContent(onReady func()) {
	// http.Request.Body.Read blocks, so satisfy the demand synchronously
	// on this stream's own goroutine rather than registering interest.
	onReady()
}

func (s *h2Stream) Send(meta *channel.ResponseMeta, content []byte, last bool, cb channel.SendCallback) {
	s.mu.Lock()
	if meta != nil && !s.committed {
		s.committed = true
		if meta.Fields != nil {
			meta.Fields.Each(func(name, value string) { s.w.Header().Add(name, value) })
		}
		s.w.WriteHeader(meta.Status)
	}
	s.mu.Unlock()

	if len(content) > 0 {
		if _, err := s.w.Write(content); err != nil {
			cb.Failed(err)
			return
		}
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	cb.Succeeded()
}

func (s *h2Stream) IsCommitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *h2Stream) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

func (s *h2Stream) Succeeded() {
	s.mu.Lock()
	if s.complete {
		s.mu.Unlock()
		return
	}
	s.complete = true
	s.mu.Unlock()
	close(s.done)
}

func (s *h2Stream) Failed(error) { s.Succeeded() }

func (s *h2Stream) Upgrade(channel.UpgradeHandler) bool { return false }

func (s *h2Stream) Push(target string) error {
	p, ok := s.w.(http.Pusher)
	if !ok {
		return channel.ErrPushUnsupported
	}
	return p.Push(target, nil)
}

func (s *h2Stream) GetNanoTimeStamp() int64 { return 0 }

func (s *h2Stream) GetID() uint64 { return s.id }

// prefixConn replays prefix before reads reach the wrapped net.Conn.
type prefixConn struct {
	prefix []byte
	net.Conn
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
