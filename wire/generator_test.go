package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type bufSink struct{ bytes.Buffer }

func (b *bufSink) Cap() int { return b.Buffer.Cap() }

type listFields struct{ kv [][2]string }

func (l *listFields) Each(fn func(name, value string)) {
	for _, p := range l.kv {
		fn(p[0], p[1])
	}
}
func (l *listFields) Get(name string) string {
	for _, p := range l.kv {
		if p[0] == name {
			return p[1]
		}
	}
	return ""
}

func TestGeneratorFixedLengthResponse(t *testing.T) {
	g := NewGenerator(64 * 1024)
	info := &ResponseInfo{Status: 200, Fields: &listFields{[][2]string{{"Content-Type", "text/plain"}}}, ContentLength: 5}

	res, err := g.Step(info, nil, nil, false)
	if err != nil || res != ResNeedHeader {
		t.Fatalf("res=%v err=%v, want NeedHeader", res, err)
	}

	var sink bufSink
	res, err = g.Step(info, &sink, nil, false)
	if err != nil || res != ResFlush {
		t.Fatalf("res=%v err=%v, want Flush", res, err)
	}
	head := sink.String()
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected status line: %q", head)
	}
	if !strings.Contains(head, "Content-Length: 5\r\n") {
		t.Fatalf("missing content-length: %q", head)
	}
	if strings.Contains(head, "Transfer-Encoding") {
		t.Fatalf("unexpected chunked framing: %q", head)
	}

	res, err = g.Step(nil, nil, []byte("hello"), true)
	if err != nil || res != ResFlush {
		t.Fatalf("body step: res=%v err=%v", res, err)
	}
	res, err = g.Step(nil, nil, nil, false)
	if err != nil || res != ResDone {
		t.Fatalf("final step: res=%v err=%v, want Done", res, err)
	}
}

func TestGeneratorChunkedResponseUnknownLength(t *testing.T) {
	g := NewGenerator(64 * 1024)
	info := &ResponseInfo{Status: 200, ContentLength: -1}

	if res, _ := g.Step(info, nil, nil, false); res != ResNeedHeader {
		t.Fatalf("expected NeedHeader, got %v", res)
	}
	var sink bufSink
	res, err := g.Step(info, &sink, nil, false)
	if err != nil || res != ResFlush {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if !strings.Contains(sink.String(), "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("expected chunked framing: %q", sink.String())
	}

	res, err = g.Step(nil, nil, []byte("part"), false)
	if err != nil || res != ResNeedChunk {
		t.Fatalf("mid-chunk step: res=%v err=%v, want NeedChunk", res, err)
	}
	var chunkSink bufSink
	res, err = g.Step(nil, &chunkSink, []byte("part"), false)
	if err != nil || res != ResFlush {
		t.Fatalf("mid-chunk flush step: res=%v err=%v", res, err)
	}
	if chunkSink.String() != "4\r\n" {
		t.Fatalf("unexpected chunk size line: %q", chunkSink.String())
	}
	g.FragmentFlushed()

	res, err = g.Step(nil, nil, nil, true)
	if err != nil || res != ResNeedChunkTrailer {
		t.Fatalf("final chunk step: res=%v err=%v, want NeedChunkTrailer", res, err)
	}

	var trailerSink bufSink
	res, err = g.Step(nil, &trailerSink, nil, true)
	if err != nil || res != ResFlush {
		t.Fatalf("trailer step: res=%v err=%v", res, err)
	}
	if trailerSink.String() != "0\r\n\r\n" {
		t.Fatalf("unexpected terminal chunk bytes: %q", trailerSink.String())
	}
}

func TestGeneratorChunkedLastFragmentCarriesContent(t *testing.T) {
	g := NewGenerator(64 * 1024)
	info := &ResponseInfo{Status: 200, ContentLength: -1}
	g.Step(info, nil, nil, false)
	var headerSink bufSink
	g.Step(info, &headerSink, nil, false)

	res, err := g.Step(nil, nil, []byte("bye"), true)
	if err != nil || res != ResNeedChunk {
		t.Fatalf("res=%v err=%v, want NeedChunk", res, err)
	}
	var chunkSink bufSink
	res, err = g.Step(nil, &chunkSink, []byte("bye"), true)
	if err != nil || res != ResFlush {
		t.Fatalf("res=%v err=%v, want Flush", res, err)
	}
	if chunkSink.String() != "3\r\n" {
		t.Fatalf("unexpected chunk size line: %q", chunkSink.String())
	}
	// The data chunk itself (prefix + "bye" + CRLF) is assembled by the
	// caller's write vector; the generator only ever writes the prefix
	// and the terminal "0\r\n...\r\n" into a sink.
	res, err = g.Step(nil, nil, nil, true)
	if err != nil || res != ResNeedChunkTrailer {
		t.Fatalf("res=%v err=%v, want NeedChunkTrailer", res, err)
	}
	var trailerSink bufSink
	res, err = g.Step(nil, &trailerSink, nil, true)
	if err != nil || res != ResFlush {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if trailerSink.String() != "0\r\n\r\n" {
		t.Fatalf("unexpected terminal chunk bytes: %q", trailerSink.String())
	}
	res, err = g.Step(nil, nil, nil, false)
	if err != nil || res != ResDone {
		t.Fatalf("res=%v err=%v, want Done", res, err)
	}
}

func TestGeneratorHeadSuppressesBody(t *testing.T) {
	g := NewGenerator(64 * 1024)
	g.Reset(true)
	info := &ResponseInfo{Status: 200, ContentLength: 100}
	g.Step(info, nil, nil, false)
	var sink bufSink
	g.Step(info, &sink, nil, false)
	res, err := g.Step(nil, nil, nil, true)
	if err != nil || res != ResDone {
		t.Fatalf("HEAD response should finish without writing body bytes: res=%v err=%v", res, err)
	}
}

func TestGeneratorFixedLengthShortWriteFails(t *testing.T) {
	g := NewGenerator(64 * 1024)
	info := &ResponseInfo{Status: 200, ContentLength: 10}
	g.Step(info, nil, nil, false)
	var sink bufSink
	if res, err := g.Step(info, &sink, nil, false); err != nil || res != ResFlush {
		t.Fatalf("header step: res=%v err=%v", res, err)
	}
	if !g.HeaderStarted() {
		t.Fatalf("expected HeaderStarted to be true once the status line was flushed")
	}

	_, err := g.Step(nil, nil, []byte("hello"), true)
	if err == nil {
		t.Fatal("expected an error when the handler under-writes a declared Content-Length")
	}
	if !errors.Is(err, ErrContentLengthMismatch) {
		t.Fatalf("expected ErrContentLengthMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "content-length 10 != 5") {
		t.Fatalf("expected reason to contain %q, got %q", "content-length 10 != 5", err.Error())
	}
}

func TestGeneratorNonPersistentAsksForShutdown(t *testing.T) {
	g := NewGenerator(64 * 1024)
	g.SetPersistent(false)
	info := &ResponseInfo{Status: 200, ContentLength: 0}
	g.Step(info, nil, nil, false)
	var sink bufSink
	head, err := g.Step(info, &sink, nil, false)
	if err != nil || head != ResFlush {
		t.Fatalf("res=%v err=%v", head, err)
	}
	if !strings.Contains(sink.String(), "Connection: close\r\n") {
		t.Fatalf("expected Connection: close, got %q", sink.String())
	}
	res, err := g.Step(nil, nil, nil, true)
	if err != nil || res != ResShutdownOut {
		t.Fatalf("res=%v err=%v, want ShutdownOut", res, err)
	}
	res, err = g.Step(nil, nil, nil, false)
	if err != nil || res != ResDone {
		t.Fatalf("res=%v err=%v, want Done after shutdown ack", res, err)
	}
}
