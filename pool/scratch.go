package pool

import "github.com/valyala/bytebufferpool"

// ScratchPool hands out growable buffers for the send iterator's header and
// chunk slots (SPEC_FULL.md §4.5 NeedHeader/HeaderOverflow/NeedChunk). These
// buffers grow in place on overflow rather than jumping size classes, which
// is why they're backed by bytebufferpool instead of SizedPool: the
// generator asks for strictly more room on HeaderOverflow and bytebufferpool
// already implements "reuse if it fits, grow if it doesn't" with its own
// internal calibration of pooled sizes.
type ScratchPool struct {
	pool     bytebufferpool.Pool
	metrics  Metrics
	metricID int
}

// NewScratchPool builds a pool; metricID is the class label reported to
// Metrics (the caller picks a stable integer, e.g. -2 for "header", -3 for
// "chunk", to keep prometheus label cardinality fixed).
func NewScratchPool(m Metrics, metricID int) *ScratchPool {
	if m == nil {
		m = noopMetrics{}
	}
	return &ScratchPool{metrics: m, metricID: metricID}
}

// Scratch is a growable buffer drawn from a ScratchPool.
type Scratch struct {
	owner *ScratchPool
	buf   *bytebufferpool.ByteBuffer
}

// Get acquires a scratch buffer with at least capacity bytes available.
func (p *ScratchPool) Get(capacity int) *Scratch {
	bb := p.pool.Get()
	hit := cap(bb.B) > 0
	p.metrics.ObserveGet(p.metricID, hit)
	if cap(bb.B) < capacity {
		bb.B = make([]byte, 0, capacity)
	}
	return &Scratch{owner: p, buf: bb}
}

// Put returns s to its pool. s must not be used afterward.
func (p *ScratchPool) Put(s *Scratch) {
	if s == nil {
		return
	}
	s.buf.Reset()
	p.pool.Put(s.buf)
	p.metrics.ObservePut(p.metricID)
}

// Bytes returns the valid (written) portion.
func (s *Scratch) Bytes() []byte { return s.buf.B }

// Reset empties the buffer for reuse across a HeaderOverflow retry.
func (s *Scratch) Reset() { s.buf.Reset() }

// Write appends p to the buffer (io.Writer).
func (s *Scratch) Write(p []byte) (int, error) { return s.buf.Write(p) }

// WriteString appends a string to the buffer.
func (s *Scratch) WriteString(str string) (int, error) { return s.buf.WriteString(str) }

// Cap reports the backing capacity, used to detect repeated HeaderOverflow
// against the configured maximum.
func (s *Scratch) Cap() int { return cap(s.buf.B) }
