package engine

import "github.com/badu/h1engine/wire"

// parserAdapter feeds the connection's input buffer to the shared wire.Parser
// and surfaces whether headers completed during this call (SPEC_FULL.md
// §4.2).
//
// Compaction is deferred rather than immediate: a chunk handed to OnBody
// aliases directly into the pooled buffer's backing array (no copy), so
// physically shifting consumed bytes to the front is only safe once the
// buffer is unretained (every queued chunk has been delivered and
// released). pending tracks how many leading bytes have already been fed
// to the parser but not yet compacted out.
type parserAdapter struct {
	parser  *wire.Parser
	buf     *bufferBinding
	pending int
}

func newParserAdapter(p *wire.Parser, buf *bufferBinding) *parserAdapter {
	return &parserAdapter{parser: p, buf: buf}
}

// parse feeds every byte not yet seen by the parser against ex, compacting
// the buffer once it is safe to do so, and reports whether
// OnHeaderComplete fired during this call.
func (a *parserAdapter) parse(ex *exchangeState) (headerComplete bool, err error) {
	b := a.buf.current()
	if b == nil {
		return false, nil
	}
	if a.pending > b.Len() {
		a.pending = b.Len()
	}
	unread := b.Slice(a.pending, b.Len())

	ex.activeBuf = b
	n, hc, perr := a.parser.Feed(unread, ex)
	ex.activeBuf = nil
	a.pending += n

	if !b.Retained() {
		b.Consume(a.pending)
		a.pending = 0
	}
	if perr != nil {
		return hc, translateParseError(perr)
	}
	a.buf.releaseIfDrained()
	return hc, nil
}

// reset clears pending-compaction bookkeeping for the next exchange; called
// alongside wire.Parser.Reset once an exchange completes persistently.
func (a *parserAdapter) reset() { a.pending = 0 }

func translateParseError(err error) error {
	if e, ok := err.(*Error); ok {
		// Already classified by a wire.Handler callback (exchangeState's
		// header validation), so pass it through unchanged instead of
		// flattening it to a generic "bad request".
		return e
	}
	switch err {
	case wire.ErrLineTooLong:
		return badMessage(431, "request header fields too large", err)
	case wire.ErrMalformedRequest, wire.ErrMalformedHeader:
		return badMessage(400, "malformed request", err)
	case wire.ErrMalformedChunk, wire.ErrChunkTooLarge:
		return badMessage(400, "malformed chunked body", err)
	case wire.ErrTrailerTooLong:
		return badMessage(400, "trailer section too large", err)
	default:
		return badMessage(400, "bad request", err)
	}
}
