package engine

import (
	"strconv"
	"strings"

	"github.com/badu/h1engine/channel"
	"github.com/badu/h1engine/fields"
	"github.com/badu/h1engine/pool"
	"github.com/badu/h1engine/wire"
)

// contentEntry pairs a queued Content with the buffer retain it holds open,
// if any (only ContentChunk entries retain; Eof/Trailers carry no bytes).
type contentEntry struct {
	value  channel.Content
	retain *pool.RetainedBuffer
}

// exchangeState is one HTTP request/response lifecycle on a connection,
// SPEC_FULL.md §3 "Exchange". It implements wire.Handler directly: the
// ParserAdapter feeds parser events straight into exchange bookkeeping,
// the way the teacher's Request/transferReader pair is populated
// incrementally while reading (types_request.go's read path).
type exchangeState struct {
	startedAt int64

	method string
	uri    string
	major  int
	minor  int

	contentLength int64 // -1 if undeclared
	authority     string
	host          string
	sawHost       bool
	upgrade       string

	expect100          bool
	expect102          bool
	unknownExpectation bool

	connectionClose    bool
	connectionKeepAlive bool

	reqFields *fields.Fields
	trailers  *fields.Fields

	queue []contentEntry

	headersDone bool
	complete    bool
	failed      error

	// activeBuf is set by parserAdapter.parse for the duration of one
	// Feed call so OnBody can retain the exact buffer its chunk slices
	// alias (SPEC_FULL.md invariant 5); nil outside of a parse call.
	activeBuf *pool.RetainedBuffer
}

func newExchangeState(startedAt int64) *exchangeState {
	return &exchangeState{
		startedAt:     startedAt,
		contentLength: -1,
		reqFields:     &fields.Fields{},
	}
}

func (e *exchangeState) OnStartRequest(rl wire.RequestLine) error {
	e.method = rl.Method
	e.uri = rl.RequestURI
	e.major = rl.Major
	e.minor = rl.Minor
	return nil
}

func (e *exchangeState) OnHeaderField(name, value string) error {
	e.reqFields.Add(name, value)
	switch name {
	case fields.Connection:
		e.observeConnectionToken(value)
	case fields.Host:
		// RFC 7230 §5.4: a server MUST respond with 400 to any request
		// message that contains more than one Host header field, grounded
		// in conn.readRequest's validation block (the teacher rejects a
		// second Host the same way, via badStringError).
		if e.sawHost {
			return badMessage(400, "duplicate Host header", nil)
		}
		if !validHostValue(value) {
			return badMessage(400, "malformed Host header", nil)
		}
		e.sawHost = true
		e.host = value
	case fields.Expect:
		e.observeExpect(value)
	case fields.Upgrade:
		e.upgrade = value
	case fields.ContentLength:
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && n >= 0 {
			e.contentLength = n
		}
	}
	return nil
}

// validHostValue rejects the characters RFC 7230 §5.4/§2.7 forbid in a
// Host header's value (empty, any control byte, or embedded whitespace);
// the teacher's conn.go delegates the same check to url.ValidHostHeader
// before accepting a single Host header.
func validHostValue(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c < 0x21 || c == 0x7f {
			return false
		}
	}
	return true
}

func (e *exchangeState) observeConnectionToken(value string) {
	for _, tok := range strings.Split(value, ",") {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "close":
			e.connectionClose = true
		case "keep-alive":
			if e.minor == 0 {
				e.connectionKeepAlive = true
			}
		}
	}
}

func (e *exchangeState) observeExpect(value string) {
	sawKnown := false
	for _, tok := range strings.Split(value, ",") {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "100-continue":
			e.expect100 = true
			sawKnown = true
		case "102-processing":
			e.expect102 = true
			sawKnown = true
		default:
			e.unknownExpectation = true
		}
	}
	if e.unknownExpectation {
		e.expect100 = false
		e.expect102 = false
		_ = sawKnown
	}
}

func (e *exchangeState) OnHeaderComplete() error {
	e.headersDone = true
	return nil
}

func (e *exchangeState) OnBody(chunk []byte, last bool) error {
	if len(chunk) == 0 && !last {
		return nil
	}
	entry := contentEntry{value: channel.Content{Kind: channel.ContentChunk, Bytes: chunk, Last: last}}
	if len(chunk) > 0 && e.activeBuf != nil {
		entry.retain = e.activeBuf.Retain()
	}
	e.queue = append(e.queue, entry)
	return nil
}

func (e *exchangeState) OnTrailerField(name, value string) error {
	if e.trailers == nil {
		e.trailers = &fields.Fields{}
	}
	e.trailers.Add(name, value)
	return nil
}

func (e *exchangeState) OnMessageComplete() error {
	if e.trailers != nil {
		e.queue = append(e.queue, contentEntry{value: channel.Content{Kind: channel.ContentTrailers, Trailers: e.trailers}})
	} else {
		e.queue = append(e.queue, contentEntry{value: channel.Content{Kind: channel.ContentEOF}})
	}
	return nil
}

// popContent dequeues the next buffered Content, releasing any buffer
// retain it held (SPEC_FULL.md invariant 5: retention only covers
// undelivered chunks).
func (e *exchangeState) popContent() (channel.Content, bool) {
	if len(e.queue) == 0 {
		return channel.Content{}, false
	}
	entry := e.queue[0]
	e.queue = e.queue[1:]
	if entry.retain != nil {
		entry.retain.Release()
	}
	return entry.value, true
}

func (e *exchangeState) hasQueuedContent() bool { return len(e.queue) > 0 }

// drainQueue releases every still-retained chunk without delivering it,
// used on the abort/close path so the input buffer's retain count reaches
// zero regardless of whether the application ever read the remainder.
func (e *exchangeState) drainQueue() {
	for _, entry := range e.queue {
		if entry.retain != nil {
			entry.retain.Release()
		}
	}
	e.queue = nil
}
