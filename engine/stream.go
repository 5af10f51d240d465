package engine

import (
	"github.com/badu/h1engine/channel"
	"github.com/badu/h1engine/fields"
)

// exchangeStream is the concrete channel.StreamHandle the ConnectionEngine
// hands the application for one exchange (SPEC_FULL.md §6, §4.4). It holds
// no state beyond a back-reference to the owning connection and the
// exchange id it was minted for: once the connection moves on to the next
// exchange, a stale handle's calls become no-ops/errors rather than
// touching the new exchange's state (guards against an application holding
// onto a handle past its exchange's completion).
type exchangeStream struct {
	conn *ConnectionEngine
	id   uint64
}

var _ channel.StreamHandle = (*exchangeStream)(nil)

// stale reports whether the connection has moved past the exchange this
// handle was minted for. Caller must hold conn.mu.
func (s *exchangeStream) stale() bool {
	return s.conn.ex == nil || s.conn.streamID != s.id
}

// ReadContent implements §4.4's readContent(): return a buffered segment if
// one exists, else drive one parse-and-fill cycle, else report "nothing
// yet" via (nil, nil) so the caller falls back to DemandContent.
func (s *exchangeStream) ReadContent() (*channel.Content, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.stale() {
		return nil, lifecycleViolation("ReadContent called on a completed exchange")
	}
	return s.conn.readContentLocked()
}

// DemandContent implements §4.4's demandContent(): invoke onReady inline if
// content is already available, otherwise try one parse-and-fill pass and,
// failing that, register a single-shot fill-interest that calls onReady
// once more bytes arrive. Also fires the deferred 100-Continue response
// here, per §4.4's note that it piggybacks on the first demand for content.
func (s *exchangeStream) DemandContent(onReady func()) {
	s.conn.mu.Lock()
	if s.stale() {
		s.conn.mu.Unlock()
		return
	}
	s.conn.maybeSendContinueLocked()

	if s.conn.ex.hasQueuedContent() {
		s.conn.mu.Unlock()
		onReady()
		return
	}

	content, err := s.conn.readContentLocked()
	if err != nil {
		s.conn.abortLocked(err)
		s.conn.mu.Unlock()
		onReady()
		return
	}
	if content != nil {
		s.conn.mu.Unlock()
		onReady()
		return
	}

	s.conn.registerContentDemandLocked(onReady)
	s.conn.mu.Unlock()
}

// Send implements §4.5. It only holds conn.mu long enough to validate the
// handle and prepare the response meta; the actual send (and any
// synchronous completion callback it triggers, which may legitimately call
// back into Succeeded/Failed on this very stream) runs without the lock
// held, since sendIterator serializes itself via its own busy flag.
func (s *exchangeStream) Send(meta *channel.ResponseMeta, content []byte, last bool, cb channel.SendCallback) {
	s.conn.mu.Lock()
	if s.stale() {
		s.conn.mu.Unlock()
		cb.Failed(lifecycleViolation("Send called on a completed exchange"))
		return
	}
	isHead := s.conn.ex.method == "HEAD"
	if meta != nil {
		s.conn.committed = true
		if s.conn.forceKeepAliveHeader {
			if meta.Fields == nil {
				meta.Fields = &fields.Fields{}
			}
			meta.Fields.Set(fields.Connection, "keep-alive")
		}
	}
	closed := s.conn.closed
	s.conn.mu.Unlock()

	s.conn.sender.reset(isHead, meta, content, last, cb, closed)
}

func (s *exchangeStream) IsCommitted() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.conn.committed
}

func (s *exchangeStream) IsComplete() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.stale() {
		return true
	}
	return s.conn.ex.complete && !s.conn.sender.busy()
}

// Succeeded implements §4.7. succeededLocked returns a deferred action
// (dispatching the engine back onto the executor for pipelined bytes) that
// must run after conn.mu is released.
func (s *exchangeStream) Succeeded() {
	s.conn.mu.Lock()
	if s.stale() {
		s.conn.mu.Unlock()
		return
	}
	post := s.conn.succeededLocked(s.id)
	s.conn.mu.Unlock()
	if post != nil {
		post()
	}
}

func (s *exchangeStream) Failed(cause error) {
	s.conn.mu.Lock()
	if s.stale() {
		s.conn.mu.Unlock()
		return
	}
	post := s.conn.failedLocked(s.id, cause)
	s.conn.mu.Unlock()
	if post != nil {
		post()
	}
}

func (s *exchangeStream) Upgrade(successor channel.UpgradeHandler) bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.stale() {
		return false
	}
	return s.conn.upgradeToLocked(successor)
}

func (s *exchangeStream) Push(string) error { return channel.ErrPushUnsupported }

func (s *exchangeStream) GetNanoTimeStamp() int64 {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.stale() {
		return 0
	}
	return s.conn.ex.startedAt
}

func (s *exchangeStream) GetID() uint64 { return s.id }
