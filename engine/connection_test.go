package engine

import (
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/badu/h1engine/channel"
	"github.com/badu/h1engine/fields"
	"github.com/badu/h1engine/transport"
)

// recordingChannel is a minimal channel.Channel: it drains the request body,
// then replies with a fixed body, counting how many exchanges it served.
type recordingChannel struct {
	body     []byte
	accepted int32
}

func (c *recordingChannel) Accept(meta channel.RequestMeta, stream channel.StreamHandle) channel.Runnable {
	return func() {
		atomic.AddInt32(&c.accepted, 1)
		for {
			ct, err := stream.ReadContent()
			if err != nil {
				stream.Failed(err)
				return
			}
			if ct == nil {
				ready := make(chan struct{})
				stream.DemandContent(func() { close(ready) })
				<-ready
				continue
			}
			if ct.Kind == channel.ContentChunk && !ct.Last {
				continue
			}
			break
		}

		f := &fields.Fields{}
		f.Set(fields.ContentType, "text/plain; charset=utf-8")
		resp := &channel.ResponseMeta{Status: 200, Fields: f, ContentLength: int64(len(c.body))}
		stream.Send(resp, c.body, true, doneCB{stream})
	}
}

// Dispatch runs every task inline, matching cmd/h1srv's echoChannel policy
// and keeping the ConnectionEngine's dispatching flag accurate for a
// synchronously-completing exchange.
func (c *recordingChannel) Dispatch(task channel.Runnable) { task() }

// doneCB forwards a Send outcome straight to the stream, same shape as
// cmd/h1srv's doneCallback.
type doneCB struct{ stream channel.StreamHandle }

func (d doneCB) Succeeded()       { d.stream.Succeeded() }
func (d doneCB) Failed(err error) { d.stream.Failed(err) }

func TestConnectionEngineRequestResponse(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server, false)
	ch := &recordingChannel{body: []byte("pong")}
	ce := NewConnectionEngine(ep, Options{Channel: ch})

	respCh := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(client)
		respCh <- buf
	}()

	go ce.OnReadable()

	req := "GET /widgets HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case resp := <-respCh:
		got := string(resp)
		if !strings.HasPrefix(got, "HTTP/1.1 200") {
			t.Fatalf("unexpected status line in response: %q", got)
		}
		if !strings.HasSuffix(got, "pong") {
			t.Fatalf("expected body %q, got response %q", "pong", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	if got := atomic.LoadInt32(&ch.accepted); got != 1 {
		t.Fatalf("expected Accept to run exactly once, got %d", got)
	}
}

func TestConnectionEngineOptionsStarShortCircuit(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server, false)
	ch := &recordingChannel{body: []byte("unused")}
	ce := NewConnectionEngine(ep, Options{Channel: ch})

	respCh := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(client)
		respCh <- buf
	}()

	go ce.OnReadable()

	req := "OPTIONS * HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case resp := <-respCh:
		got := string(resp)
		if !strings.HasPrefix(got, "HTTP/1.1 200") {
			t.Fatalf("unexpected status line in response: %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	if got := atomic.LoadInt32(&ch.accepted); got != 0 {
		t.Fatalf("expected the application channel never to be invoked for OPTIONS *, got %d calls", got)
	}
}

// pushProbeChannel accepts one exchange, records what Push returns, then
// answers normally so the connection can tear down cleanly.
type pushProbeChannel struct {
	pushErr chan error
}

func (c *pushProbeChannel) Accept(meta channel.RequestMeta, stream channel.StreamHandle) channel.Runnable {
	return func() {
		c.pushErr <- stream.Push("/style.css")
		f := &fields.Fields{}
		resp := &channel.ResponseMeta{Status: 200, Fields: f, ContentLength: 0}
		stream.Send(resp, nil, true, doneCB{stream})
	}
}

func (c *pushProbeChannel) Dispatch(task channel.Runnable) { task() }

func TestStreamHandlePushUnsupported(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server, false)
	ch := &pushProbeChannel{pushErr: make(chan error, 1)}
	ce := NewConnectionEngine(ep, Options{Channel: ch})

	go io.Copy(io.Discard, client)
	go ce.OnReadable()

	req := "GET /index.html HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case err := <-ch.pushErr:
		if err != channel.ErrPushUnsupported {
			t.Fatalf("expected channel.ErrPushUnsupported, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Push to be probed")
	}
}

func TestConnectionEngineUnknownExpectationGets417(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server, false)
	ch := &recordingChannel{body: []byte("unused")}
	ce := NewConnectionEngine(ep, Options{Channel: ch})

	respCh := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(client)
		respCh <- buf
	}()

	go ce.OnReadable()

	req := "POST /widgets HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\nExpect: 299-nonsense\r\nContent-Length: 0\r\n\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case resp := <-respCh:
		got := string(resp)
		if !strings.HasPrefix(got, "HTTP/1.1 417") {
			t.Fatalf("unexpected status line in response: %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	if got := atomic.LoadInt32(&ch.accepted); got != 0 {
		t.Fatalf("expected the application channel never to be invoked for an unknown expectation, got %d calls", got)
	}
}

// shortWriteChannel declares a Content-Length longer than what it actually
// writes, exercising SPEC_FULL.md §8 scenario S4.
type shortWriteChannel struct {
	failErr chan error
}

func (c *shortWriteChannel) Accept(meta channel.RequestMeta, stream channel.StreamHandle) channel.Runnable {
	return func() {
		f := &fields.Fields{}
		resp := &channel.ResponseMeta{Status: 200, Fields: f, ContentLength: 10}
		stream.Send(resp, []byte("hello"), true, failRecordingCB{stream, c.failErr})
	}
}

func (c *shortWriteChannel) Dispatch(task channel.Runnable) { task() }

type failRecordingCB struct {
	stream channel.StreamHandle
	failErr chan error
}

func (d failRecordingCB) Succeeded() { d.stream.Succeeded() }
func (d failRecordingCB) Failed(err error) {
	d.failErr <- err
	d.stream.Failed(err)
}

func TestConnectionEngineContentLengthShortWriteFails(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server, false)
	ch := &shortWriteChannel{failErr: make(chan error, 1)}
	ce := NewConnectionEngine(ep, Options{Channel: ch})

	go io.Copy(io.Discard, client)
	go ce.OnReadable()

	req := "GET /widgets HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case err := <-ch.failErr:
		if !strings.Contains(err.Error(), "content-length 10 != 5") {
			t.Fatalf("expected reason to contain %q, got %q", "content-length 10 != 5", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the exchange to fail")
	}
}

func TestConnectionEngineDuplicateHostGets400(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server, false)
	ch := &recordingChannel{body: []byte("unused")}
	ce := NewConnectionEngine(ep, Options{Channel: ch})

	respCh := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(client)
		respCh <- buf
	}()

	go ce.OnReadable()

	req := "GET /widgets HTTP/1.1\r\nHost: example.com\r\nHost: other.example.com\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case resp := <-respCh:
		got := string(resp)
		if !strings.HasPrefix(got, "HTTP/1.1 400") {
			t.Fatalf("unexpected status line in response: %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	if got := atomic.LoadInt32(&ch.accepted); got != 0 {
		t.Fatalf("expected the application channel never to be invoked for a duplicate Host header, got %d calls", got)
	}
}
