package wire

import (
	"errors"
	"fmt"
	"strconv"
)

type genStage int

const (
	stageNeedInfo genStage = iota
	stageNeedHeader
	stageBody
	stageChunkTrailer
	stageShutdown
	stageDone
)

// Generator incrementally encodes one HTTP/1.x response per (reset-to-reset)
// lifetime, driven by engine.SendIterator one step at a time
// (SPEC_FULL.md §4.5, §3 "Generator state"). It owns no I/O: callers supply
// scratch buffers to write into and issue the actual transport write
// themselves on ResFlush.
type Generator struct {
	stage         genStage
	persistent    bool
	isHead        bool
	chunked       bool
	contentLength int64 // -1 = unknown
	written       int64
	headerAttempt int
	maxHeaderCap  int
	shutdownAsked bool

	// chunkPrefixWritten guards against re-writing the hex size line for the
	// same content fragment across the NeedChunk -> acquire -> Step
	// round-trip; FragmentFlushed clears it once that fragment's bytes are
	// on the wire.
	chunkPrefixWritten bool
}

// NewGenerator returns a generator positioned at the start of a new
// exchange, persistent by default (callers call SetPersistent(false) when
// §4.3's persistence decision says otherwise).
func NewGenerator(maxHeaderCap int) *Generator {
	return &Generator{stage: stageNeedInfo, persistent: true, maxHeaderCap: maxHeaderCap}
}

// Reset prepares the generator for the next exchange on a persistent
// connection.
func (g *Generator) Reset(isHead bool) {
	g.stage = stageNeedInfo
	g.isHead = isHead
	g.chunked = false
	g.contentLength = -1
	g.written = 0
	g.headerAttempt = 0
	g.shutdownAsked = false
	g.chunkPrefixWritten = false
	// persistent is left as-is: callers re-assert or clear it per exchange.
}

// FragmentFlushed tells the generator a content fragment's bytes (and, if
// chunked, its size-line prefix) have been fully written to the transport,
// so the next Step call for a new fragment writes a fresh prefix.
func (g *Generator) FragmentFlushed() { g.chunkPrefixWritten = false }

// BodyStageActive reports whether the generator is currently processing
// body content (as opposed to still writing the status line/header block).
// SendIterator uses this, captured before calling Step, to tell a header
// flush apart from a content flush.
func (g *Generator) BodyStageActive() bool { return g.stage == stageBody }

// Chunked reports whether this response is being framed with
// Transfer-Encoding: chunked.
func (g *Generator) Chunked() bool { return g.chunked }

// SetPersistent marks whether this response keeps the connection alive;
// once cleared the generator emits "Connection: close" and Done additionally
// triggers a shutdown recommendation the connection turns into output
// shutdown after flush.
func (g *Generator) SetPersistent(p bool) { g.persistent = p }

// Persistent reports the current persistence flag.
func (g *Generator) Persistent() bool { return g.persistent }

// HeaderStarted reports whether the status line and header block have
// already been handed to a HeaderSink (i.e. the generator is past
// stageNeedHeader), used by the connection to decide whether a BadMessage
// abort still needs to synthesize its own status line.
func (g *Generator) HeaderStarted() bool { return g.stage > stageNeedHeader }

// Step advances the generator by one action. info must be non-nil on every
// call until the header has been written (the header stage reads it); after
// that it is read only for trailers and may be nil. header is required once ResNeedHeader /
// ResHeaderOverflow has been returned, at which point Step writes the
// status line + fields into it. content is the body bytes available this
// call (may be empty); last indicates no more body bytes will follow after
// this call flushes.
func (g *Generator) Step(info *ResponseInfo, header HeaderSink, content []byte, last bool) (GenResult, error) {
	switch g.stage {
	case stageNeedInfo:
		if info == nil {
			return ResNeedInfo, nil
		}
		if info.ContentLength >= 0 {
			g.contentLength = info.ContentLength
		} else if g.persistent {
			g.chunked = true
		}
		g.stage = stageNeedHeader
		fallthrough

	case stageNeedHeader:
		if header == nil {
			return ResNeedHeader, nil
		}
		if err := g.writeStatusAndFields(header, info); err != nil {
			g.headerAttempt++
			if header.Cap() >= g.maxHeaderCap {
				return ResHeaderOverflow, errHeaderTooLarge
			}
			return ResHeaderOverflow, nil
		}
		g.stage = stageBody
		return ResFlush, nil

	case stageBody:
		return g.stepBody(header, content, last)

	case stageChunkTrailer:
		return g.finishChunked(header, info)

	case stageShutdown:
		g.stage = stageDone
		return ResDone, nil

	case stageDone:
		return ResDone, nil
	}
	return ResDone, nil
}

func (g *Generator) stepBody(header HeaderSink, content []byte, last bool) (GenResult, error) {
	suppressBody := g.isHead
	if g.chunked {
		if suppressBody {
			if last {
				g.stage = stageChunkTrailer
				return ResNeedChunkTrailer, nil
			}
			return ResContinue, nil
		}
		if len(content) == 0 {
			if !last {
				return ResContinue, nil
			}
			g.stage = stageChunkTrailer
			return ResNeedChunkTrailer, nil
		}
		// Content present: frame it as one chunk (size line, the data
		// itself, trailing CRLF) before moving on. The caller appends the
		// trailing CRLF itself once BodyStageActive was true for this
		// call (see SendIterator.flush); the size line is written here.
		if header == nil {
			return ResNeedChunk, nil
		}
		if !g.chunkPrefixWritten {
			writeChunkSizeLine(header, len(content))
			g.chunkPrefixWritten = true
		}
		g.written += int64(len(content))
		if last {
			g.stage = stageChunkTrailer
		}
		return ResFlush, nil
	}

	if suppressBody {
		g.stage = g.afterBodyStage()
		return g.maybeShutdown()
	}

	g.written += int64(len(content))
	if !last {
		return ResFlush, nil
	}
	if g.contentLength >= 0 && g.written != g.contentLength {
		// The status line and headers were already written on the Step
		// call that transitioned stageNeedHeader -> stageBody, so this is
		// always a "committed" failure in the §4.5 sense: whatever bytes
		// made it to the transport stay there, and the caller still owes
		// the application a Failed callback rather than a silent Done.
		return ResDone, errContentLengthMismatch(g.contentLength, g.written)
	}
	g.stage = g.afterBodyStage()
	if g.stage == stageShutdown {
		return ResShutdownOut, nil
	}
	return ResFlush, nil
}

// ErrContentLengthMismatch is the sentinel wrapped by errContentLengthMismatch;
// callers can errors.Is against it regardless of the declared/written counts.
var ErrContentLengthMismatch = errors.New("wire: written byte count does not match declared content-length")

func errContentLengthMismatch(declared, written int64) error {
	return fmt.Errorf("%w: content-length %d != %d", ErrContentLengthMismatch, declared, written)
}

func writeChunkSizeLine(h HeaderSink, size int) {
	h.WriteString(strconv.FormatInt(int64(size), 16))
	h.WriteString("\r\n")
}

func (g *Generator) afterBodyStage() genStage {
	if !g.persistent {
		return stageShutdown
	}
	return stageDone
}

func (g *Generator) maybeShutdown() (GenResult, error) {
	if g.stage == stageShutdown {
		return ResShutdownOut, nil
	}
	return ResDone, nil
}

// finishChunked writes the terminating "0\r\n" (+ trailers) "\r\n" into a
// chunk buffer supplied through header (the same HeaderSink interface
// covers both header and chunk scratch slots — callers pass whichever
// pool.Scratch the NeedChunk/NeedChunkTrailer result asked for).
func (g *Generator) finishChunked(header HeaderSink, info *ResponseInfo) (GenResult, error) {
	if header == nil {
		return ResNeedChunkTrailer, nil
	}
	header.WriteString("0\r\n")
	if info != nil && info.HasTrailer && info.Fields != nil {
		info.Fields.Each(func(name, value string) {
			header.WriteString(name)
			header.WriteString(": ")
			header.WriteString(value)
			header.WriteString("\r\n")
		})
	}
	header.WriteString("\r\n")
	g.stage = g.afterBodyStage()
	return ResFlush, nil
}

// HeaderSink is the subset of *pool.Scratch the generator writes wire bytes
// into (kept as an interface so wire doesn't import pool).
type HeaderSink interface {
	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
	Cap() int
}

func (g *Generator) writeStatusAndFields(h HeaderSink, info *ResponseInfo) error {
	statusLine := "HTTP/1.1 " + strconv.Itoa(info.Status) + " " + statusText(info.Status) + "\r\n"
	if _, err := h.WriteString(statusLine); err != nil {
		return err
	}
	if info.Fields != nil {
		var werr error
		info.Fields.Each(func(name, value string) {
			if werr != nil {
				return
			}
			if _, err := h.WriteString(name); err != nil {
				werr = err
				return
			}
			if _, err := h.WriteString(": "); err != nil {
				werr = err
				return
			}
			if _, err := h.WriteString(value); err != nil {
				werr = err
				return
			}
			if _, err := h.WriteString("\r\n"); err != nil {
				werr = err
			}
		})
		if werr != nil {
			return werr
		}
	}
	if g.chunked {
		if _, err := h.WriteString("Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	} else if g.contentLength >= 0 {
		if _, err := h.WriteString("Content-Length: " + strconv.FormatInt(g.contentLength, 10) + "\r\n"); err != nil {
			return err
		}
	}
	if !g.persistent {
		if _, err := h.WriteString("Connection: close\r\n"); err != nil {
			return err
		}
	}
	_, err := h.WriteString("\r\n")
	return err
}
