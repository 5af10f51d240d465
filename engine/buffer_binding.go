package engine

import "github.com/badu/h1engine/pool"

// bufferBinding owns the connection's single input buffer slot, lazily
// acquired and released strictly per SPEC_FULL.md §3 "PooledBuffer" /
// invariant 2: acquire lazily, release only once empty and unretained.
type bufferBinding struct {
	pool *pool.SizedPool
	buf  *pool.RetainedBuffer
}

func newBufferBinding(p *pool.SizedPool) *bufferBinding {
	return &bufferBinding{pool: p}
}

// ensure acquires a buffer of at least capacity bytes if none is currently
// held.
func (b *bufferBinding) ensure(capacity int) *pool.RetainedBuffer {
	if b.buf == nil {
		b.buf = pool.Acquire(b.pool, capacity)
	}
	return b.buf
}

// releaseIfDrained returns the buffer to the pool once it holds no
// unconsumed bytes and nothing else still references it (no in-flight
// Content chunk); parserAdapter calls it after each parse (§4.2).
func (b *bufferBinding) releaseIfDrained() {
	if b.buf == nil {
		return
	}
	if b.buf.Len() == 0 && !b.buf.Retained() {
		b.buf.Release()
		b.buf = nil
	}
}

// forceRelease is used on the error/close path: clear then release
// regardless of retention, since the connection is going away and any
// in-flight Content aliasing this buffer will never be read again.
func (b *bufferBinding) forceRelease() {
	if b.buf == nil {
		return
	}
	b.buf.Clear()
	b.buf.Release()
	b.buf = nil
}

func (b *bufferBinding) current() *pool.RetainedBuffer { return b.buf }
