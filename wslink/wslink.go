// Package wslink is the WebSocket successor protocol for a stream that
// called StreamHandle.Upgrade (SPEC_FULL.md §4.8, EXPANSION 2). It performs
// the RFC 6455 handshake on the already-completed HTTP/1.1 request (the
// engine only checks that an Upgrade header is present, and this package
// does not inspect its token either: it only needs the Sec-WebSocket-Key)
// and hands the connection to gorilla/websocket once
// the 101 response is on the wire.
package wslink

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/badu/h1engine/channel"
)

// wsMagic is the RFC 6455 §1.3 GUID used to compute Sec-WebSocket-Accept.
const wsMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

var errMissingKey = errors.New("wslink: missing Sec-WebSocket-Key")

// Handler implements channel.UpgradeHandler for a single successful
// WebSocket upgrade: it owns the raw connection from the point the engine
// cedes it onward.
type Handler struct {
	raw    net.Conn
	accept string
	log    *zap.Logger
	serve  func(*websocket.Conn)
}

var _ channel.UpgradeHandler = (*Handler)(nil)

// New validates the request's Sec-WebSocket-Key against fields and returns
// a Handler ready to take over once the application calls
// stream.Upgrade(handler). The handler has no raw net.Conn yet: like
// h2clink's handler, it receives one through BindRaw, which the engine
// calls just before TakeOver (RequestMeta/StreamHandle never expose the
// raw connection directly). serve runs on its own goroutine once the
// handshake response has been written and the *websocket.Conn is live; it
// owns the connection for the rest of its lifetime.
func New(fields fieldGetter, log *zap.Logger, serve func(*websocket.Conn)) (*Handler, error) {
	key := fields.Get("Sec-Websocket-Key")
	if key == "" {
		key = fields.Get("Sec-WebSocket-Key")
	}
	if key == "" {
		return nil, errMissingKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{accept: acceptKey(key), log: log, serve: serve}, nil
}

// BindRaw attaches the underlying net.Conn this handler will take over,
// called by the engine after Upgrade succeeds and before TakeOver, mirroring
// h2clink.handler.BindRaw.
func (h *Handler) BindRaw(raw net.Conn) { h.raw = raw }

// fieldGetter is the subset of *fields.Fields New needs, kept narrow so
// this package doesn't need to import fields just for the Get method's
// receiver type (channel.RequestMeta.Fields satisfies it directly).
type fieldGetter interface {
	Get(name string) string
}

// TakeOver writes the 101 Switching Protocols response, replays any bytes
// already buffered past the triggering request to the websocket reader,
// and starts serving.
func (h *Handler) TakeOver(leftover []byte) {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + h.accept + "\r\n\r\n"
	if _, err := io.WriteString(h.raw, resp); err != nil {
		h.log.Warn("wslink: handshake write failed", zap.Error(err))
		h.raw.Close()
		return
	}

	var rawConn net.Conn = h.raw
	if len(leftover) > 0 {
		rawConn = &prefixConn{prefix: leftover, Conn: h.raw}
	}
	conn := websocket.NewConn(rawConn, true, defaultReadBufferSize, defaultWriteBufferSize)

	if h.serve == nil {
		conn.Close()
		return
	}
	go h.serve(conn)
}

// prefixConn replays prefix before further reads reach the wrapped
// net.Conn, so bytes the engine already pulled off the socket past the
// triggering request (pipelined WebSocket frames) aren't lost to the
// handshake.
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

// acceptKey implements RFC 6455 §4.2.2 step 4.
func acceptKey(clientKey string) string {
	h := sha1.New()
	io.WriteString(h, strings.TrimSpace(clientKey))
	io.WriteString(h, wsMagic)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
