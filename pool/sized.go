// Package pool implements the pooled, reference-counted buffers the
// connection engine binds to its input/header/chunk slots (SPEC_FULL.md
// §3 PooledBuffer, §4.1 RetainedBuffer binding).
//
// Two tiers exist: one size-classed tier backed by sync.Pool, using the
// size-class layout of MiraiMindz-watt/shockwave's buffer_pool.go (input
// buffers, which are always direct byte slices read from the wire), and one
// backed by valyala/bytebufferpool (header/chunk buffers, which are
// grown and shrunk as the generator's NeedHeader/HeaderOverflow states
// dictate — bytebufferpool's "Get grows on demand" semantics fit that
// access pattern better than a fixed size class).
package pool

import "sync"

// Size classes, same progression as shockwave's buffer_pool.go.
const (
	Size2KB  = 2 * 1024
	Size4KB  = 4 * 1024
	Size8KB  = 8 * 1024
	Size16KB = 16 * 1024
	Size32KB = 32 * 1024
	Size64KB = 64 * 1024
)

// Metrics is the hook a caller plugs in to observe pool traffic; engine
// wires this to the prometheus collectors in the metrics package. A nil
// Metrics is valid and simply does nothing.
type Metrics interface {
	ObserveGet(class int, hit bool)
	ObservePut(class int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveGet(int, bool) {}
func (noopMetrics) ObservePut(int)       {}

// SizedPool hands out []byte buffers from six size classes, same routing
// rule as shockwave's BufferPool.Get/Put: a request picks the smallest
// class that satisfies it, a return routes by capacity.
type SizedPool struct {
	classes [6]sizedClass
	metrics Metrics
}

type sizedClass struct {
	size int
	pool sync.Pool
}

// NewSizedPool builds a pool with default metrics disabled (use
// NewSizedPoolWithMetrics to attach instrumentation).
func NewSizedPool() *SizedPool {
	return NewSizedPoolWithMetrics(noopMetrics{})
}

// NewSizedPoolWithMetrics builds a pool reporting Get/Put traffic to m.
func NewSizedPoolWithMetrics(m Metrics) *SizedPool {
	if m == nil {
		m = noopMetrics{}
	}
	p := &SizedPool{metrics: m}
	sizes := [6]int{Size2KB, Size4KB, Size8KB, Size16KB, Size32KB, Size64KB}
	for i, size := range sizes {
		p.classes[i].size = size
		// New hands out an empty slice so get can tell a fresh allocation
		// (a miss) from a buffer that came back through put (a hit).
		p.classes[i].pool.New = func() interface{} {
			return new([]byte)
		}
	}
	return p
}

func (p *SizedPool) classFor(size int) int {
	for i, c := range p.classes {
		if size <= c.size {
			return i
		}
	}
	return -1
}

// get returns a buffer of at least size bytes and the class index it came
// from (-1 for an oversize allocation that bypasses pooling entirely).
func (p *SizedPool) get(size int) ([]byte, int) {
	idx := p.classFor(size)
	if idx < 0 {
		return make([]byte, size), -1
	}
	c := &p.classes[idx]
	bufp, hit := c.pool.Get().(*[]byte), true
	if bufp == nil {
		bufp = &[]byte{}
		hit = false
	}
	buf := *bufp
	if len(buf) == 0 {
		hit = false
		buf = make([]byte, c.size)
	}
	p.metrics.ObserveGet(idx, hit)
	return buf[:c.size], idx
}

func (p *SizedPool) put(buf []byte, class int) {
	if class < 0 || buf == nil {
		return
	}
	c := &p.classes[class]
	if cap(buf) < c.size {
		return
	}
	buf = buf[:c.size]
	c.pool.Put(&buf)
	p.metrics.ObservePut(class)
}
