package pool

import (
	"sync/atomic"
)

// RetainedBuffer is a reference-counted handle to a pooled []byte. It
// separates "I own one reference" (the connection engine's own handle)
// from "I borrow a slice" (a Content chunk aliasing the same backing
// array) per SPEC_FULL.md §3/§9: the raw bytes only go back to the pool
// once every outstanding reference has released.
//
// The zero value is not usable; construct with Acquire.
type RetainedBuffer struct {
	owner *SizedPool
	buf   []byte
	class int
	refs  int32 // atomic
}

// Acquire draws a buffer of at least capacity bytes from p, with exactly
// one reference held by the caller.
func Acquire(p *SizedPool, capacity int) *RetainedBuffer {
	buf, class := p.get(capacity)
	return &RetainedBuffer{owner: p, buf: buf[:0], class: class, refs: 1}
}

// Retain adds one reference, returning the same handle for convenience at
// call sites that alias it into a Content chunk.
func (b *RetainedBuffer) Retain() *RetainedBuffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

// Release drops one reference. It returns true when this was the last
// reference, at which point the backing array has been returned to the
// pool and b must not be used again. Release is idempotent only in the
// sense that calling it more times than Acquire+Retain is a programming
// error (it will under/overflow refs) — callers must match every
// acquire/retain with exactly one release, per invariant 2 in SPEC_FULL.md.
func (b *RetainedBuffer) Release() bool {
	if atomic.AddInt32(&b.refs, -1) != 0 {
		return false
	}
	if b.owner != nil {
		b.owner.put(b.buf[:cap(b.buf)], b.class)
	}
	b.buf = nil
	return true
}

// Retained reports whether more than the engine's own reference remains
// outstanding (i.e. at least one Content chunk still aliases this buffer).
func (b *RetainedBuffer) Retained() bool {
	return atomic.LoadInt32(&b.refs) > 1
}

// Bytes exposes the buffer's current contents (the engine's own view,
// length 0..len).
func (b *RetainedBuffer) Bytes() []byte { return b.buf }

// Remaining reports how much spare capacity is left for a fill.
func (b *RetainedBuffer) Remaining() int { return cap(b.buf) - len(b.buf) }

// Cap reports total capacity.
func (b *RetainedBuffer) Cap() int { return cap(b.buf) }

// Len reports the number of valid bytes currently held.
func (b *RetainedBuffer) Len() int { return len(b.buf) }

// Grow extends the valid length by n bytes (after a fill wrote into the
// spare capacity directly).
func (b *RetainedBuffer) Grow(n int) { b.buf = b.buf[:len(b.buf)+n] }

// Slice returns a sub-slice [from:to] of the valid bytes. It does not
// retain — callers that hand this slice into a Content chunk that outlives
// the current parse call must call Retain first.
func (b *RetainedBuffer) Slice(from, to int) []byte { return b.buf[from:to] }

// Consume drops the first n bytes from the front by copying the remainder
// down, keeping the buffer append-ready for the next fill. Used after a
// parse leaves unconsumed pipelined bytes that must shift to offset 0.
func (b *RetainedBuffer) Consume(n int) {
	rest := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:rest]
}

// Clear empties the buffer without releasing it (still owns the backing
// array, just logically empty) — used before the final Release when
// draining retained chunks per FillPump's invariant.
func (b *RetainedBuffer) Clear() { b.buf = b.buf[:0] }

// AppendDirect makes room for n more bytes at the tail and returns that
// slice so a transport fill can write directly into it, growing to a
// larger size class if the current one is full. The caller must call
// Grow(written) after the fill completes.
func (b *RetainedBuffer) AppendDirect(n int) []byte {
	if b.Remaining() < n {
		b.growTo(len(b.buf) + n)
	}
	return b.buf[len(b.buf):cap(b.buf)]
}

func (b *RetainedBuffer) growTo(minCap int) {
	if b.owner == nil {
		grown := make([]byte, len(b.buf), minCap)
		copy(grown, b.buf)
		b.buf = grown
		return
	}
	fresh, class := b.owner.get(minCap)
	fresh = fresh[:len(b.buf)]
	copy(fresh, b.buf)
	b.owner.put(b.buf[:cap(b.buf)], b.class)
	b.buf = fresh
	b.class = class
}
