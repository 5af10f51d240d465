// Package engine implements the per-connection HTTP/1.x protocol engine:
// the read path (FillPump, ParserAdapter), the exchange lifecycle
// (ExchangeState), the write path (SendIterator), and the top-level
// ConnectionEngine loop that ties them together (SPEC_FULL.md §4). It plays
// the role badu-http's conn.go/response_server.go pair plays for net/http,
// restructured around explicit readiness callbacks instead of one blocking
// goroutine per connection.
package engine

import "fmt"

// Kind classifies an engine-level error per SPEC_FULL.md §7.
type Kind int

const (
	KindBadMessage Kind = iota
	KindEarlyEOF
	KindWritePending
	KindLifecycleViolation
	KindTransportError
	KindReadPending
)

func (k Kind) String() string {
	switch k {
	case KindBadMessage:
		return "BadMessage"
	case KindEarlyEOF:
		return "EarlyEof"
	case KindWritePending:
		return "WritePending"
	case KindLifecycleViolation:
		return "LifecycleViolation"
	case KindTransportError:
		return "TransportError"
	case KindReadPending:
		return "ReadPending"
	default:
		return "Unknown"
	}
}

// Error is the typed error value every engine-level failure path produces,
// carrying enough to let the Channel's error handler synthesize a response
// when the exchange is still uncommitted.
type Error struct {
	K      Kind
	Status int // suggested HTTP status for BadMessage-family errors, 0 if n/a
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine: %s: %s: %v", e.K, e.Reason, e.Cause)
	}
	return fmt.Sprintf("engine: %s: %s", e.K, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

func badMessage(status int, reason string, cause error) *Error {
	return &Error{K: KindBadMessage, Status: status, Reason: reason, Cause: cause}
}

func earlyEOF() *Error {
	return &Error{K: KindEarlyEOF, Status: 400, Reason: "Early EOF"}
}

func lifecycleViolation(reason string) *Error {
	return &Error{K: KindLifecycleViolation, Reason: reason}
}

func transportError(cause error) *Error {
	return &Error{K: KindTransportError, Reason: "transport I/O failure", Cause: cause}
}

func writePending() *Error {
	return &Error{K: KindWritePending, Reason: "send already in flight"}
}

func readPending() *Error {
	return &Error{K: KindReadPending, Reason: "completed with a demand still outstanding"}
}
