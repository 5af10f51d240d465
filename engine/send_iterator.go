package engine

import (
	"errors"

	"github.com/badu/h1engine/channel"
	"github.com/badu/h1engine/pool"
	"github.com/badu/h1engine/transport"
	"github.com/badu/h1engine/wire"
)

const (
	defaultChunkSize        = 8 * 1024
	defaultHeaderSize       = 4 * 1024
	maxHeaderOverflowRetries = 3
)

type iteratorState int

const (
	iterIdle iteratorState = iota
	iterBusy
)

// sendIterator is the single-shot send state machine per SPEC_FULL.md §4.5,
// reused across exchanges on a persistent connection via reset. It is the
// write-path analog of parserAdapter: the generator does the protocol
// encoding, sendIterator owns pooled scratch buffers and drives gathered
// writes against the transport.
type sendIterator struct {
	gen        *wire.Generator
	ep         transport.Endpoint
	headerPool *pool.ScratchPool
	chunkPool  *pool.ScratchPool
	bytesOut   *int64

	state iteratorState

	isHead  bool
	info    *wire.ResponseInfo
	content []byte
	last    bool
	cb      channel.SendCallback

	header *pool.Scratch
	chunk  *pool.Scratch

	headerOverflowAttempts int
	shutdownOut            bool
	onDone                 func(shutdownOut bool, err error)

	// pendingWasBodyStage records, for the one flush currently in flight,
	// whether it was framing body content (as opposed to headers). flush
	// may suspend and resume asynchronously via resumeFlush, so this can't
	// live as a run() local — both completion paths route through
	// completeFlush to make the same "stop after a non-final fragment"
	// decision.
	pendingWasBodyStage bool
}

func newSendIterator(gen *wire.Generator, ep transport.Endpoint, headerPool, chunkPool *pool.ScratchPool, bytesOut *int64) *sendIterator {
	return &sendIterator{gen: gen, ep: ep, headerPool: headerPool, chunkPool: chunkPool, bytesOut: bytesOut}
}

// reset starts a new send. See SPEC_FULL.md §4.5 for the busy/closed/no-op
// short-circuits.
func (s *sendIterator) reset(isHead bool, info *channel.ResponseMeta, content []byte, last bool, cb channel.SendCallback, connClosed bool) {
	if s.state == iterBusy {
		cb.Failed(writePending())
		return
	}
	if connClosed {
		cb.Failed(transportError(transport.ErrEndpointClosed))
		return
	}
	if info == nil && len(content) == 0 && !last {
		cb.Succeeded()
		return
	}

	s.state = iterBusy
	s.isHead = isHead
	s.content = content
	s.last = last
	s.cb = cb
	s.headerOverflowAttempts = 0
	s.shutdownOut = false

	if info != nil {
		s.info = &wire.ResponseInfo{
			Status:        info.Status,
			Fields:        info.Fields,
			ContentLength: info.ContentLength,
			HasTrailer:    info.HasTrailer,
		}
	} else {
		s.info = nil
	}

	s.run()
}

// connectorShuttingDown tells the iterator the connector is draining, so
// once this response completes the generator is forced non-persistent and
// output shutdown follows (SPEC_FULL.md §4.5 "if the connector is already
// shutting down").
func (s *sendIterator) connectorShuttingDown() {
	s.gen.SetPersistent(false)
}

func (s *sendIterator) busy() bool { return s.state == iterBusy }

func (s *sendIterator) run() {
	for {
		wasBodyStage := s.gen.BodyStageActive()
		res, err := s.step()
		if err != nil {
			if errors.Is(err, wire.ErrContentLengthMismatch) {
				// §4.5/§8 S4: the handler's declared Content-Length never
				// matched what it actually wrote. Whatever header/body
				// bytes already reached the transport stay there (the
				// generator only reaches this check after committing the
				// status line), so this is reported as a lifecycle
				// violation rather than a transport-level failure.
				s.fail(lifecycleViolation(err.Error()))
				return
			}
			s.fail(err)
			return
		}
		switch res {
		case wire.ResNeedHeader, wire.ResHeaderOverflow:
			if !s.acquireHeader(res == wire.ResHeaderOverflow) {
				return
			}
		case wire.ResNeedChunk:
			s.acquireChunk(defaultChunkSize)
		case wire.ResNeedChunkTrailer:
			s.acquireChunk(defaultHeaderSize)
		case wire.ResFlush:
			// A content fragment (as opposed to the status line/header
			// block) was just framed: append the chunk-data terminator
			// after content, if chunked.
			suffix := wasBodyStage && s.gen.Chunked() && !s.isHead && len(s.content) > 0
			s.pendingWasBodyStage = wasBodyStage
			if !s.flush(suffix) {
				return // suspended awaiting a write-callback resumption; completeFlush decides from here
			}
			if s.completeFlush() {
				return
			}
		case wire.ResShutdownOut:
			s.shutdownOut = true
		case wire.ResContinue:
			continue
		case wire.ResDone:
			s.succeed()
			return
		case wire.ResNeedInfo:
			s.fail(lifecycleViolation("generator demanded info that was already supplied"))
			return
		}
	}
}

func (s *sendIterator) step() (wire.GenResult, error) {
	var sink wire.HeaderSink
	switch {
	case s.header != nil:
		sink = s.header
	case s.chunk != nil:
		sink = s.chunk
	}
	return s.gen.Step(s.info, sink, s.content, s.last)
}

func (s *sendIterator) acquireHeader(overflow bool) bool {
	if overflow {
		s.headerOverflowAttempts++
		if s.headerOverflowAttempts > maxHeaderOverflowRetries {
			s.fail(badMessage(500, "response header too large", nil))
			return false
		}
		cur := 0
		if s.header != nil {
			cur = s.header.Cap()
		}
		s.headerPool.Put(s.header)
		s.header = s.headerPool.Get(cur * 2)
		if s.header.Cap() == 0 {
			s.header = s.headerPool.Get(defaultHeaderSize * 2)
		}
		return true
	}
	if s.header == nil {
		s.header = s.headerPool.Get(defaultHeaderSize)
	}
	return true
}

func (s *sendIterator) acquireChunk(capacity int) {
	if s.chunk == nil {
		s.chunk = s.chunkPool.Get(capacity)
	}
}

// chunkDataCRLF is the fixed two-byte terminator following each chunk's
// data in Transfer-Encoding: chunked (RFC 7230 §4.1); it carries no pool
// since it never varies and is never retained past one flush call.
var chunkDataCRLF = []byte("\r\n")

// flush builds the gather-write vector (header, chunk, content, in that
// order, each possibly empty, plus a trailing chunk-data CRLF when suffix
// is set) and issues a single transport write, suppressing body bytes for
// HEAD requests. Returns true if iteration should continue immediately
// (write fully accepted), false if it suspended awaiting endpoint
// readiness or failed.
func (s *sendIterator) flush(suffix bool) bool {
	var vec [][]byte
	if s.header != nil && len(s.header.Bytes()) > 0 {
		vec = append(vec, s.header.Bytes())
	}
	if s.chunk != nil && len(s.chunk.Bytes()) > 0 {
		vec = append(vec, s.chunk.Bytes())
	}
	if !s.isHead && len(s.content) > 0 {
		vec = append(vec, s.content)
	}
	if suffix {
		vec = append(vec, chunkDataCRLF)
	}

	total := 0
	for _, v := range vec {
		total += len(v)
	}
	joined := make([]byte, 0, total)
	for _, v := range vec {
		joined = append(joined, v...)
	}

	written := 0
	for written < len(joined) {
		n, err := s.ep.Flush(joined[written:])
		if err != nil {
			s.fail(transportError(err))
			return false
		}
		written += n
		if n == 0 {
			remaining := joined[written:]
			s.ep.TryFlushInterested(func(ok bool) {
				if !ok {
					s.fail(transportError(transport.ErrEndpointClosed))
					return
				}
				s.resumeFlush(remaining)
			})
			return false
		}
	}
	*s.bytesOut += int64(total)
	return true
}

// completeFlush runs once a flush (sync or resumed-async) has been fully
// written: it releases this fragment's scratch buffers and decides whether
// iteration stops here (a non-final content fragment just finished) or
// should keep driving the generator. Returns true if the caller should
// stop (succeed has already fired).
func (s *sendIterator) completeFlush() bool {
	s.releaseHeader()
	s.releaseChunk()
	if s.pendingWasBodyStage && !s.last {
		s.gen.FragmentFlushed()
		s.succeed()
		return true
	}
	return false
}

func (s *sendIterator) resumeFlush(remaining []byte) {
	written := 0
	for written < len(remaining) {
		n, err := s.ep.Flush(remaining[written:])
		if err != nil {
			s.fail(transportError(err))
			return
		}
		written += n
		if n == 0 {
			rest := remaining[written:]
			s.ep.TryFlushInterested(func(ok bool) {
				if !ok {
					s.fail(transportError(transport.ErrEndpointClosed))
					return
				}
				s.resumeFlush(rest)
			})
			return
		}
	}
	*s.bytesOut += int64(len(remaining))
	if s.completeFlush() {
		return
	}
	s.run()
}

func (s *sendIterator) releaseHeader() {
	if s.header != nil {
		s.headerPool.Put(s.header)
		s.header = nil
	}
}

func (s *sendIterator) releaseChunk() {
	if s.chunk != nil {
		s.chunkPool.Put(s.chunk)
		s.chunk = nil
	}
}

func (s *sendIterator) succeed() {
	s.state = iterIdle
	cb := s.cb
	s.cb = nil
	shutdown := s.shutdownOut
	s.shutdownOut = false
	if cb != nil {
		cb.Succeeded()
	}
	if s.onDone != nil {
		s.onDone(shutdown, nil)
	}
}

func (s *sendIterator) fail(err error) {
	s.state = iterIdle
	s.releaseHeader()
	s.releaseChunk()
	cb := s.cb
	s.cb = nil
	shutdown := s.shutdownOut
	s.shutdownOut = false
	if cb != nil {
		cb.Failed(err)
	}
	if s.onDone != nil {
		s.onDone(shutdown, err)
	}
}
