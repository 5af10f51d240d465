package engine

import (
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/badu/h1engine/channel"
	"github.com/badu/h1engine/config"
	"github.com/badu/h1engine/pool"
	"github.com/badu/h1engine/transport"
	"github.com/badu/h1engine/wire"
)

// h2cPreface is the exact byte sequence RFC 7540 §3.5 requires a client
// opening a cleartext HTTP/2 connection to send first, with zero headers
// (SPEC_FULL.md §4.3, §8 scenario S6). It is not valid HTTP/1.x framing, so
// detection happens by literal byte comparison before the request ever
// reaches wire.Parser.
const h2cPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// ConnectionEngine is the per-connection HTTP/1.x protocol engine bound to
// one transport.Endpoint for its lifetime (SPEC_FULL.md §3 "Connection"):
// one parser, one generator, at most one pooled input buffer, one
// single-shot send iterator, and a nullable current exchange.
//
// The source this was distilled from assumed a single I/O thread serviced
// a connection's whole lifecycle end to end and needed no locking (§9: "no
// locking is needed because the engine is the sole mutator"). Go's
// goroutines are genuinely concurrent rather than cooperative: a dispatched
// handler task, an async write-readiness callback, and an idle-timeout
// callback can each call back into the engine from a different goroutine.
// mu serializes them, standing in for that single-I/O-thread invariant;
// §4.7's "called from the reader vs. called elsewhere" distinction is
// modeled with the dispatching flag below rather than a thread-local.
type ConnectionEngine struct {
	mu sync.Mutex

	ep        transport.Endpoint
	ch        channel.Channel
	log       *zap.Logger
	cfgSource func() *config.Config
	rec       Recorder

	// h2c, if set, builds a successor UpgradeHandler for a detected h2c
	// preface; ok is false to decline (the engine responds 426). Left nil
	// by default: h2clink wires this in at construction when the
	// application wants h2c support.
	h2c func(leftover []byte) (successor channel.UpgradeHandler, ok bool)

	bufPool    *pool.SizedPool
	headerPool *pool.ScratchPool
	chunkPool  *pool.ScratchPool

	input  *bufferBinding
	fillP  *fillPump
	parser *wire.Parser
	padp   *parserAdapter
	gen    *wire.Generator
	sender *sendIterator
	bridge *upgradeBridge

	ex       *exchangeState
	streamID uint64

	committed           bool
	forceKeepAliveHeader bool
	upgraded            bool
	closed              bool
	fillInterestArmed   bool
	dispatching         bool // true while a header-complete dispatch is synchronously unwinding on this goroutine

	demandCallback func()

	lastMethod string // previous exchange's method, for the leading-CRLF tolerance (EXPANSION 4)

	bytesIn  int64
	bytesOut int64
}

// Options carries the collaborators a ConnectionEngine needs beyond the
// transport endpoint itself; all but Channel have usable defaults.
type Options struct {
	Channel    channel.Channel
	Config     func() *config.Config
	BufPool    *pool.SizedPool
	HeaderPool *pool.ScratchPool
	ChunkPool  *pool.ScratchPool
	Log        *zap.Logger
	Recorder   Recorder
	H2C        func(leftover []byte) (channel.UpgradeHandler, bool)
}

// NewConnectionEngine builds an engine bound to ep, ready to drive reads
// once OnReadable is called.
func NewConnectionEngine(ep transport.Endpoint, opt Options) *ConnectionEngine {
	log := opt.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfgSource := opt.Config
	if cfgSource == nil {
		cfgSource = func() *config.Config { return config.Default() }
	}
	bufPool := opt.BufPool
	if bufPool == nil {
		bufPool = pool.NewSizedPool()
	}
	headerPool := opt.HeaderPool
	if headerPool == nil {
		headerPool = pool.NewScratchPool(nil, -2)
	}
	chunkPool := opt.ChunkPool
	if chunkPool == nil {
		chunkPool = pool.NewScratchPool(nil, -3)
	}

	c := &ConnectionEngine{
		ep:         ep,
		ch:         opt.Channel,
		log:        log,
		cfgSource:  cfgSource,
		rec:        opt.Recorder,
		h2c:        opt.H2C,
		bufPool:    bufPool,
		headerPool: headerPool,
		chunkPool:  chunkPool,
	}
	c.input = newBufferBinding(bufPool)
	c.fillP = newFillPump(ep, c.input)
	c.parser = wire.NewParser()
	c.padp = newParserAdapter(c.parser, c.input)
	c.gen = wire.NewGenerator(cfgSource().MaxHeaderBytes)
	c.sender = newSendIterator(c.gen, ep, headerPool, chunkPool, &c.bytesOut)
	c.sender.onDone = c.onSendDone
	c.bridge = newUpgradeBridge(c.input)

	if c.rec != nil {
		c.rec.ConnectionOpened()
	}
	return c
}

// OnReadable drives the read loop per SPEC_FULL.md §4.6, invoked by the
// transport whenever bytes are believed available (directly, or via a
// previously armed fill-interest callback firing).
func (c *ConnectionEngine) OnReadable() {
	c.mu.Lock()
	for {
		if c.closed || c.upgraded {
			c.mu.Unlock()
			return
		}

		res, ferr := c.fillP.fill(&c.bytesIn)
		if ferr != nil {
			c.abortLocked(ferr)
			c.mu.Unlock()
			return
		}

		// 2. EOF and output already shut down: close, done.
		if res == fillEOF && c.ep.IsOutputShutdown() {
			c.closeLocked()
			c.mu.Unlock()
			return
		}

		if c.ex == nil {
			// A non-persistent exchange completed synchronously and closed
			// the parser: no further request is read on this connection.
			if c.parser.Closed() {
				c.closeLocked()
				c.mu.Unlock()
				return
			}
			c.beginExchangeLocked()
			c.trimLeadingCRLFLocked()
			if c.detectH2CPrefaceLocked() {
				c.handleH2CPrefaceLocked()
				c.mu.Unlock()
				return
			}
		}

		// 3. parse
		headerComplete, perr := c.padp.parse(c.ex)
		if perr != nil {
			c.abortLocked(perr)
			c.mu.Unlock()
			return
		}

		// 4. transport rebound mid-parse (shouldn't happen post-parse since
		// upgrade only follows header-complete dispatch, but mirrors §4.6
		// step 4 defensively).
		if c.upgraded {
			c.mu.Unlock()
			return
		}

		// 5. headers completed: dispatch; if the request isn't fully
		// answered yet, break and resume on a later event.
		if headerComplete {
			c.dispatching = true
			c.mu.Unlock()
			c.dispatchExchange()
			c.mu.Lock()
			c.dispatching = false

			if c.upgraded || c.closed {
				c.mu.Unlock()
				return
			}
			if c.ex != nil {
				c.mu.Unlock()
				return
			}
			continue // completed synchronously: loop to check for pipelined bytes
		}

		// 6. EOF: shut down output, done.
		if res == fillEOF {
			c.ep.ShutdownOutput()
			c.mu.Unlock()
			return
		}

		// 7. fill returned 0: register fill-interest, done.
		if res == fillWouldBlock {
			c.armFillInterestLocked()
			c.mu.Unlock()
			return
		}
		// fillPositive with headers still incomplete: loop to parse further.
	}
}

func (c *ConnectionEngine) beginExchangeLocked() {
	c.ex = newExchangeState(time.Now().UnixNano())
	c.streamID++
}

// trimLeadingCRLFLocked discards leading CRLF bytes some clients
// erroneously send ahead of a pipelined request following a POST (RFC 2616
// §4.1 tolerance, EXPANSION 4).
func (c *ConnectionEngine) trimLeadingCRLFLocked() {
	if c.lastMethod != "POST" {
		return
	}
	c.lastMethod = ""
	b := c.input.current()
	if b == nil {
		return
	}
	buf := b.Bytes()
	n := 0
	for n < len(buf) && (buf[n] == '\r' || buf[n] == '\n') {
		n++
	}
	if n > 0 {
		b.Consume(n)
	}
}

func (c *ConnectionEngine) detectH2CPrefaceLocked() bool {
	b := c.input.current()
	if b == nil {
		return false
	}
	buf := b.Bytes()
	if len(buf) < len(h2cPreface) {
		return false
	}
	if string(buf[:len(h2cPreface)]) != h2cPreface {
		return false
	}
	// The preface stays buffered: it is part of the leftover handed to the
	// h2c successor, and http2.Server reads the client preface itself.
	return true
}

func (c *ConnectionEngine) handleH2CPrefaceLocked() {
	leftover := c.bridge.onUpgradeFrom()
	if c.h2c == nil {
		c.writeSimpleStatusLocked(426, "Upgrade Required")
		c.closeLocked()
		return
	}
	successor, ok := c.h2c(leftover)
	if !ok || successor == nil {
		c.writeSimpleStatusLocked(426, "Upgrade Required")
		c.closeLocked()
		return
	}
	// h2clink's handler drives x/net/http2 directly against the raw
	// connection, bypassing this engine's own wire.Parser/Generator
	// entirely; bind it if the concrete endpoint exposes one.
	if binder, ok := successor.(interface{ BindRaw(net.Conn) }); ok {
		if rawer, ok := c.ep.(interface{ Raw() net.Conn }); ok {
			binder.BindRaw(rawer.Raw())
		}
	}
	c.upgraded = true
	c.ex = nil
	successor.TakeOver(leftover)
}

// dispatchExchange implements §4.3's HeaderComplete decision. It locks only
// to read/mutate connection bookkeeping, and unlocks before handing the
// exchange to the application, since Channel.Accept/Dispatch may run the
// handler task synchronously and call straight back into the stream.
func (c *ConnectionEngine) dispatchExchange() {
	c.mu.Lock()
	ex := c.ex
	if ex == nil {
		c.mu.Unlock()
		return
	}

	persistent, addKeepAlive, perr := c.decidePersistenceLocked(ex)
	if perr != nil {
		c.abortLocked(perr)
		c.mu.Unlock()
		return
	}
	c.gen.Reset(ex.method == "HEAD")
	c.gen.SetPersistent(persistent)
	c.forceKeepAliveHeader = addKeepAlive

	if ex.unknownExpectation {
		c.send417Locked()
		c.mu.Unlock()
		return
	}

	if ex.method == "OPTIONS" && ex.uri == "*" {
		c.sendOptionsShortCircuitLocked()
		c.mu.Unlock()
		return
	}

	meta := c.buildRequestMetaLocked(ex)
	stream := &exchangeStream{conn: c, id: c.streamID}
	c.mu.Unlock()

	task := c.ch.Accept(meta, stream)
	c.ch.Dispatch(task)
}

// decidePersistenceLocked implements §4.3's per-version persistence table.
func (c *ConnectionEngine) decidePersistenceLocked(ex *exchangeState) (persistent, addKeepAliveHeader bool, err *Error) {
	cfg := c.cfgSource()
	switch {
	case ex.major == 1 && ex.minor == 0:
		persistent = (cfg.PersistenceEnabled && ex.connectionKeepAlive && !ex.connectionClose) || ex.method == "CONNECT"
		return persistent, persistent, nil
	case ex.major == 1 && ex.minor == 1:
		persistent = (cfg.PersistenceEnabled && !ex.connectionClose) || ex.method == "CONNECT"
		return persistent, false, nil
	case ex.major == 0:
		return false, false, nil
	default:
		return false, false, badMessage(400, "unsupported HTTP version", nil)
	}
}

func (c *ConnectionEngine) buildRequestMetaLocked(ex *exchangeState) channel.RequestMeta {
	scheme := "http"
	if c.ep.Encrypted() {
		scheme = "https"
	}
	authority := ex.host
	if authority == "" && ex.method != "CONNECT" {
		authority = c.ep.LocalAddr().String()
	}
	return channel.RequestMeta{
		Method:        ex.method,
		URI:           normalizeURI(ex.uri),
		Major:         ex.major,
		Minor:         ex.minor,
		Scheme:        scheme,
		Authority:     authority,
		ContentLength: ex.contentLength,
		Fields:        ex.reqFields,
		Upgrade:       ex.upgrade,
		Expect100:     ex.expect100,
		Expect102:     ex.expect102,
		StartedAt:     ex.startedAt,
	}
}

// normalizeURI applies the minimal RFC 3986 path-cleanup the teacher's URL
// package gives the original a full type for; engine only ever needs the
// cleaned request-target string, not a structured URL value.
func normalizeURI(raw string) string {
	if raw == "" || raw == "*" {
		return raw
	}
	p, q, hasQuery := strings.Cut(raw, "?")
	if p == "" {
		return raw
	}
	cleaned := path.Clean(p)
	if p != "/" && strings.HasSuffix(p, "/") && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	if hasQuery {
		return cleaned + "?" + q
	}
	return cleaned
}

// send417Locked synthesizes the 417 response §4.3 requires for an unknown
// Expect token and ends the exchange, matching scenario S5.
func (c *ConnectionEngine) send417Locked() {
	c.gen.SetPersistent(false)
	c.writeSimpleStatusLocked(417, "Expectation Failed")
	c.finishSynthesizedLocked()
}

// sendOptionsShortCircuitLocked answers "OPTIONS *" without reaching the
// application (EXPANSION 4, grounded in the teacher's globalOptionsHandler).
func (c *ConnectionEngine) sendOptionsShortCircuitLocked() {
	c.writeSimpleStatusLocked(200, "OK")
	c.finishSynthesizedLocked()
}

// finishSynthesizedLocked ends an exchange the engine answered itself
// (417/OPTIONS *) without ever handing it to the application: resets or
// closes the parser the same way succeededLocked does, then continues the
// read loop inline (always "called from the reader" since these only ever
// run from within dispatchExchange, itself only called from OnReadable).
func (c *ConnectionEngine) finishSynthesizedLocked() {
	ex := c.ex
	ex.complete = true
	ex.drainQueue()
	c.ex = nil
	c.lastMethod = ex.method

	if !c.parser.Closed() {
		if c.gen.Persistent() {
			c.parser.Reset()
		} else {
			c.parser.Close()
		}
	}
	c.padp.reset()
	c.gen.Reset(false)
	if c.rec != nil {
		c.rec.ExchangeCompleted(time.Since(time.Unix(0, ex.startedAt)).Seconds(), false)
	}
}

// writeSimpleStatusLocked writes a complete minimal response (status line,
// Content-Length: 0, Connection token) directly to the transport, bypassing
// the generator/sendIterator since these are connector-synthesized
// responses that never carry application content.
func (c *ConnectionEngine) writeSimpleStatusLocked(status int, reason string) {
	connToken := "close"
	if c.gen.Persistent() {
		connToken = "keep-alive"
	}
	line := "HTTP/1.1 " + strconv.Itoa(status) + " " + reason +
		"\r\nContent-Length: 0\r\nConnection: " + connToken + "\r\n\r\n"
	c.writeRawLocked([]byte(line))
}

// writeInformationalLocked writes a bare 1xx status line with no headers,
// used for the 100-Continue response (§4.4).
func (c *ConnectionEngine) writeInformationalLocked(status int, reason string) {
	c.writeRawLocked([]byte("HTTP/1.1 " + strconv.Itoa(status) + " " + reason + "\r\n\r\n"))
}

func (c *ConnectionEngine) writeRawLocked(b []byte) {
	written := 0
	for written < len(b) {
		n, err := c.ep.Flush(b[written:])
		if err != nil {
			return
		}
		if n == 0 {
			return // best effort: a genuine stall surfaces on the next real exchange's write
		}
		written += n
	}
}

// readContentLocked implements §4.4's readContent(): drain whatever is
// already queued, else alternate parse/fill until a segment materializes or
// the transport reports would-block or EOF.
func (c *ConnectionEngine) readContentLocked() (*channel.Content, error) {
	if ct, ok := c.ex.popContent(); ok {
		return &ct, nil
	}
	for {
		if _, perr := c.padp.parse(c.ex); perr != nil {
			return nil, perr
		}
		if ct, ok := c.ex.popContent(); ok {
			return &ct, nil
		}
		res, ferr := c.fillP.fill(&c.bytesIn)
		if ferr != nil {
			return nil, ferr
		}
		switch res {
		case fillPositive:
			continue
		case fillEOF:
			return nil, earlyEOF()
		default: // fillWouldBlock
			return nil, nil
		}
	}
}

// maybeSendContinueLocked fires the deferred 100-Continue response on the
// first content demand, per §4.4.
func (c *ConnectionEngine) maybeSendContinueLocked() {
	if c.ex == nil || !c.ex.expect100 {
		return
	}
	c.ex.expect100 = false
	c.writeInformationalLocked(100, "Continue")
}

// registerContentDemandLocked arms a single-shot fill-interest that retries
// the parse/fill cycle each time more bytes arrive, until content
// materializes (or the connection fails/closes), then invokes onReady.
func (c *ConnectionEngine) registerContentDemandLocked(onReady func()) {
	c.demandCallback = onReady
	c.ep.TryFillInterested(c.onContentFillReady)
}

func (c *ConnectionEngine) onContentFillReady(ok bool) {
	c.mu.Lock()
	cb := c.demandCallback
	c.demandCallback = nil
	if !ok {
		c.closeLocked()
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	if c.ex == nil {
		c.mu.Unlock()
		return
	}
	content, err := c.readContentLocked()
	if err != nil {
		c.abortLocked(err)
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	if content == nil {
		c.demandCallback = cb
		c.ep.TryFillInterested(c.onContentFillReady)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// succeededLocked implements §4.7's succeeded(). It returns a deferred
// action the caller must run after releasing mu (dispatching the engine
// back to the executor for pipelined bytes) or nil.
func (c *ConnectionEngine) succeededLocked(id uint64) func() {
	if c.ex == nil || c.streamID != id {
		return nil // idempotent double-completion
	}
	if c.demandCallback != nil {
		return c.failedLocked(id, readPending())
	}

	ex := c.ex
	ex.complete = true
	ex.drainQueue()
	c.ex = nil
	c.committed = false
	c.lastMethod = ex.method

	if ex.expect100 {
		// The application never consumed the expectation: force EOF
		// semantics on the next exchange attempt, the peer is expected to
		// drop the connection.
		c.parser.Close()
	}
	if !c.parser.Closed() {
		if c.gen.Persistent() {
			c.parser.Reset()
		} else {
			c.parser.Close()
		}
	}
	c.padp.reset()
	c.gen.Reset(false)

	if c.rec != nil {
		c.rec.ExchangeCompleted(time.Since(time.Unix(0, ex.startedAt)).Seconds(), false)
	}

	if c.dispatching {
		return nil // synchronous completion: the reader's own loop continues
	}
	return c.continuationActionLocked()
}

// failedLocked implements §4.7's failed(cause): unconditionally closes the
// transport once an exchange is actually taken.
func (c *ConnectionEngine) failedLocked(id uint64, cause error) func() {
	if c.ex == nil || c.streamID != id {
		c.log.Debug("failed called on an already-completed exchange", zap.Error(cause))
		return nil
	}
	ex := c.ex
	ex.failed = cause
	ex.drainQueue()
	c.ex = nil
	c.log.Warn("exchange failed", zap.Error(cause), zap.String("method", ex.method), zap.String("uri", ex.uri))
	if c.rec != nil {
		c.rec.ExchangeCompleted(time.Since(time.Unix(0, ex.startedAt)).Seconds(), true)
	}
	c.closeLocked()
	return nil
}

// continuationActionLocked implements §4.7 step 6 for the "called
// elsewhere" case: decide whether to arm fill-interest, hand the engine
// back to the executor for already-buffered pipelined bytes, or close.
func (c *ConnectionEngine) continuationActionLocked() func() {
	if c.parser.Closed() {
		if c.ep.IsOpen() {
			c.armFillInterestLocked()
		} else {
			c.closeLocked()
		}
		return nil
	}
	if c.parser.AtStart() {
		b := c.input.current()
		if b == nil || b.Len() == 0 {
			c.armFillInterestLocked()
			return nil
		}
		return func() { c.ch.Dispatch(func() { c.OnReadable() }) }
	}
	c.closeLocked()
	return nil
}

func (c *ConnectionEngine) armFillInterestLocked() {
	if c.fillInterestArmed || c.closed {
		return
	}
	c.fillInterestArmed = true
	c.ep.TryFillInterested(c.onFillReady)
}

func (c *ConnectionEngine) onFillReady(ok bool) {
	c.mu.Lock()
	c.fillInterestArmed = false
	if !ok {
		c.closeLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.OnReadable()
}

// upgradeToLocked implements §4.8's handoff: hand unconsumed bytes to
// successor and cede the endpoint (EXPANSION 5's recorded decision).
func (c *ConnectionEngine) upgradeToLocked(successor channel.UpgradeHandler) bool {
	if c.ex == nil || c.ex.upgrade == "" {
		return false
	}
	leftover := c.bridge.onUpgradeFrom()
	ex := c.ex
	ex.complete = true
	ex.drainQueue()
	c.ex = nil
	c.upgraded = true
	// Same optional BindRaw handoff handleH2CPrefaceLocked uses for h2c:
	// the successor (e.g. wslink.Handler) never had direct access to the
	// raw net.Conn the application's Channel constructed it from, since
	// RequestMeta/StreamHandle don't expose one.
	if binder, ok := successor.(interface{ BindRaw(net.Conn) }); ok {
		if rawer, ok := c.ep.(interface{ Raw() net.Conn }); ok {
			binder.BindRaw(rawer.Raw())
		}
	}
	successor.TakeOver(leftover)
	return true
}

// onSendDone runs after a send completes (success or failure), possibly
// from a goroutine other than the one that called Send: shut down the
// transport's write half if the generator asked for it and the connection
// isn't mid-upgrade (SPEC_FULL.md §4.5).
func (c *ConnectionEngine) onSendDone(shutdownOut bool, _ error) {
	if !shutdownOut {
		return
	}
	c.mu.Lock()
	if !c.upgraded && !c.closed {
		c.ep.ShutdownOutput()
	}
	c.mu.Unlock()
}

// abortLocked implements §4.6's exception path: release the input buffer
// and close the transport with cause.
func (c *ConnectionEngine) abortLocked(err error) {
	c.log.Warn("connection aborted", zap.Error(err))
	if eerr, ok := err.(*Error); ok && eerr.K == KindBadMessage && eerr.Status != 0 && !c.gen.HeaderStarted() {
		// The connection is closing regardless of what the generator thinks
		// persistence looks like, so the status line always claims
		// Connection: close rather than deferring to writeSimpleStatusLocked.
		line := "HTTP/1.1 " + strconv.Itoa(eerr.Status) + " " + wire.StatusText(eerr.Status) +
			"\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
		c.writeRawLocked([]byte(line))
	}
	if c.ex != nil {
		c.ex.failed = err
		c.ex.drainQueue()
		c.ex = nil
	}
	c.closeLocked()
}

func (c *ConnectionEngine) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.input.forceRelease()
	c.ep.Close()
	if c.rec != nil {
		c.rec.ConnectionClosed()
	}
}

// OnReadTimeout handles the §9 idle-timeout open question (SPEC_FULL.md
// EXPANSION 5): it aborts the current exchange with a transport error and
// closes the connection directly, or just closes if no exchange is active.
// It does not call any of the application's callbacks itself.
func (c *ConnectionEngine) OnReadTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ex == nil {
		c.closeLocked()
		return
	}
	c.abortLocked(transportError(transport.ErrEndpointClosed))
}
