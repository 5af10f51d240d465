package pool

import "testing"

func TestSizedPoolRoutesToSmallestClass(t *testing.T) {
	p := NewSizedPool()
	buf, class := p.get(3000)
	if class != 1 || len(buf) != Size4KB {
		t.Fatalf("get(3000) = len %d class %d, want %d/%d", len(buf), class, Size4KB, 1)
	}
	p.put(buf, class)
}

func TestSizedPoolOversizeBypassesPooling(t *testing.T) {
	p := NewSizedPool()
	buf, class := p.get(Size64KB + 1)
	if class != -1 || len(buf) != Size64KB+1 {
		t.Fatalf("expected oversize bypass, got len %d class %d", len(buf), class)
	}
}

type countingMetrics struct {
	gets, hits, puts int
}

func (m *countingMetrics) ObserveGet(class int, hit bool) {
	m.gets++
	if hit {
		m.hits++
	}
}
func (m *countingMetrics) ObservePut(class int) { m.puts++ }

func TestSizedPoolReportsHitMiss(t *testing.T) {
	m := &countingMetrics{}
	p := NewSizedPoolWithMetrics(m)
	buf, class := p.get(Size2KB)
	p.put(buf, class)
	buf2, class2 := p.get(Size2KB)
	p.put(buf2, class2)
	if m.gets != 2 || m.puts != 2 {
		t.Fatalf("gets=%d puts=%d", m.gets, m.puts)
	}
	if m.hits != 1 {
		t.Fatalf("want exactly one hit (the second Get reuses the first Put), got %d", m.hits)
	}
}

func TestRetainedBufferRefcounting(t *testing.T) {
	p := NewSizedPool()
	b := Acquire(p, Size2KB)
	alias := b.Retain()
	if alias.Release() {
		t.Fatal("release with outstanding reference must not return true")
	}
	if !b.Release() {
		t.Fatal("last release must return true")
	}
}

func TestRetainedBufferAppendAndConsume(t *testing.T) {
	p := NewSizedPool()
	b := Acquire(p, Size2KB)
	dst := b.AppendDirect(5)
	copy(dst, []byte("hello"))
	b.Grow(5)
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	b.Consume(2)
	if string(b.Bytes()) != "llo" {
		t.Fatalf("Bytes() = %q, want %q", b.Bytes(), "llo")
	}
	b.Release()
}

func TestRetainedBufferGrowsAcrossClass(t *testing.T) {
	p := NewSizedPool()
	b := Acquire(p, Size2KB)
	dst := b.AppendDirect(Size2KB + 10)
	if len(dst) < Size2KB+10 {
		t.Fatalf("AppendDirect did not grow: got %d", len(dst))
	}
	b.Release()
}

func TestScratchPoolGrowsOnOverflow(t *testing.T) {
	sp := NewScratchPool(nil, -2)
	s := sp.Get(64)
	s.WriteString("short header")
	if s.Cap() < 64 {
		t.Fatalf("Cap() = %d, want >= 64", s.Cap())
	}
	sp.Put(s)

	s2 := sp.Get(4096)
	if s2.Cap() < 4096 {
		t.Fatalf("Cap() after overflow request = %d, want >= 4096", s2.Cap())
	}
	sp.Put(s2)
}
