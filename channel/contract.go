// Package channel declares the application-facing contract the
// ConnectionEngine dispatches through (SPEC_FULL.md §6 "Above the engine").
// It mirrors the shape of the teacher's Handler/ResponseWriter pair
// (server_handler.go, public_response.go) but recast as the async,
// callback-completed contract a cooperative engine needs: the application
// no longer blocks the I/O goroutine for the duration of a request.
package channel

import "github.com/badu/h1engine/fields"

// RequestMeta is the immutable request snapshot the engine hands to a
// Channel once headers are complete (SPEC_FULL.md §4.3). It is assembled
// from the Exchange the engine owns and must not be mutated by the
// application.
type RequestMeta struct {
	Method        string
	URI           string
	Major, Minor  int
	Scheme        string // "http" or "https", from the transport's Encrypted() marker
	Authority     string // from Host, or the transport's local address as fallback
	ContentLength int64  // -1 if unknown (chunked or absent)
	Fields        *fields.Fields
	Upgrade       string // verbatim Upgrade header value, empty if absent
	Expect100     bool
	Expect102     bool
	StartedAt     int64 // monotonic nanoseconds, from Stream.GetNanoTimeStamp's source
}

// Runnable is a unit of application work the engine either runs inline (on
// the transport's I/O goroutine, matching the teacher's synchronous
// ServeHTTP dispatch) or hands to an executor, depending on Channel policy.
type Runnable func()

// Channel is the per-connection application entry point. One Channel
// backs one Connection for its lifetime; Accept is called once per
// exchange, mirroring the teacher's serverHandler.ServeHTTP dispatch
// but returning a deferred task instead of calling straight into the
// handler.
type Channel interface {
	// Accept returns the task that will drive meta through the
	// application handler using stream. The task itself calls
	// stream.ReadContent/DemandContent/Send/Succeeded/Failed; the engine
	// does not interpret the bytes it carries.
	Accept(meta RequestMeta, stream StreamHandle) Runnable

	// Dispatch decides whether to run a Runnable inline or exactly once
	// hand it to a worker pool, per SPEC_FULL.md §4.6 step 5 / §4.7 step
	// 6 ("dispatch the engine to the executor").
	Dispatch(task Runnable)
}

// ContentKind tags a Content value's variant.
type ContentKind int

const (
	ContentChunk ContentKind = iota
	ContentEOF
	ContentTrailers
)

// Content is one body segment handed from the read path to the
// application, per SPEC_FULL.md §3 "Content".
type Content struct {
	Kind     ContentKind
	Bytes    []byte // valid for ContentChunk
	Last     bool   // valid for ContentChunk: true on the chunk that completes a Content-Length body (chunked bodies never set it); a ContentEOF or ContentTrailers segment still follows
	Trailers *fields.Fields
}

// SendCallback reports the outcome of one StreamHandle.Send call.
type SendCallback interface {
	Succeeded()
	Failed(err error)
}

// ResponseMeta is the status+fields the application commits exactly once
// per exchange, feeding wire.ResponseInfo inside the engine.
type ResponseMeta struct {
	Status        int
	Fields        *fields.Fields
	ContentLength int64 // -1 = unknown (forces chunked on a persistent response)
	HasTrailer    bool
}

// StreamHandle is the per-exchange handle the application drives, matching
// SPEC_FULL.md §6's readContent/demandContent/send/isCommitted/isComplete/
// succeeded/failed/upgrade/push/getNanoTimeStamp/getId list. Implemented by
// engine.exchangeStream; application code never constructs one directly.
type StreamHandle interface {
	// ReadContent returns the next buffered Content segment, or nil if
	// none is currently available (caller must call DemandContent).
	ReadContent() (*Content, error)

	// DemandContent registers a one-shot callback invoked once a Content
	// segment is available, or invokes it inline if one already is.
	DemandContent(onReady func())

	// Send commits (on the first call) or continues a response. meta is
	// required on the first call and ignored thereafter. content is the
	// body bytes available this call; last indicates no more will follow.
	// cb is notified once this fragment has been fully written.
	Send(meta *ResponseMeta, content []byte, last bool, cb SendCallback)

	IsCommitted() bool
	IsComplete() bool

	// Succeeded ends the exchange normally; Failed ends it with cause,
	// closing the connection (SPEC_FULL.md §4.7).
	Succeeded()
	Failed(cause error)

	// Upgrade attempts to cede the transport to successor once the
	// response path has nothing left to send; ok is false if the engine
	// declined (e.g. the request was never actually an upgrade).
	Upgrade(successor UpgradeHandler) (ok bool)

	// Push is unsupported by this core (SPEC_FULL.md §6); always returns
	// ErrPushUnsupported.
	Push(path string) error

	GetNanoTimeStamp() int64
	GetID() uint64
}

// UpgradeHandler is the minimal surface a successor protocol connection
// must satisfy to receive a handoff (SPEC_FULL.md §4.8). wslink and
// h2clink both implement this.
type UpgradeHandler interface {
	// TakeOver receives any bytes already read past the triggering
	// request and must arrange for further reads/writes against the raw
	// connection the engine's transport wraps.
	TakeOver(leftover []byte)
}
