package main

import (
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/badu/h1engine/channel"
	"github.com/badu/h1engine/fields"
	"github.com/badu/h1engine/wslink"
)

// echoChannel is the minimal demo application: it drains the request body
// (discarding it) and replies with a fixed plaintext body. Dispatch runs
// every task inline, the simplest policy SPEC_FULL.md §6 allows; a real
// application would hand task to a worker pool instead.
type echoChannel struct {
	log *zap.Logger
}

var _ channel.Channel = (*echoChannel)(nil)

func (e *echoChannel) Accept(meta channel.RequestMeta, stream channel.StreamHandle) channel.Runnable {
	if meta.URI == "/ws" && meta.Upgrade != "" {
		return func() { e.runWebSocket(meta, stream) }
	}
	return func() { e.run(meta, stream) }
}

func (e *echoChannel) Dispatch(task channel.Runnable) { task() }

// runWebSocket demonstrates UpgradeBridge (§4.8) end to end: a request for
// /ws carrying any non-empty Upgrade header hands the connection to wslink
// once a Sec-WebSocket-Key is found, and echoLoop takes over as the sole
// reader/writer.
func (e *echoChannel) runWebSocket(meta channel.RequestMeta, stream channel.StreamHandle) {
	h, err := wslink.New(meta.Fields, e.log, echoLoop)
	if err != nil {
		e.log.Warn("ws handshake rejected", zap.Error(err))
		f := &fields.Fields{}
		resp := &channel.ResponseMeta{Status: 400, Fields: f, ContentLength: 0}
		stream.Send(resp, nil, true, doneCallback{stream})
		return
	}
	if !stream.Upgrade(h) {
		e.log.Warn("stream declined websocket upgrade")
		f := &fields.Fields{}
		resp := &channel.ResponseMeta{Status: 400, Fields: f, ContentLength: 0}
		stream.Send(resp, nil, true, doneCallback{stream})
	}
}

// echoLoop is wslink's serve callback: it reads one message at a time and
// writes it straight back until the peer closes the connection.
func echoLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

func (e *echoChannel) run(meta channel.RequestMeta, stream channel.StreamHandle) {
	e.log.Debug("request", zap.String("method", meta.Method), zap.String("uri", meta.URI))
	e.drainBody(stream)

	body := []byte("hello from h1srv\n")
	f := &fields.Fields{}
	f.Set(fields.ContentType, "text/plain; charset=utf-8")
	resp := &channel.ResponseMeta{Status: 200, Fields: f, ContentLength: int64(len(body))}
	stream.Send(resp, body, true, doneCallback{stream})
}

func (e *echoChannel) drainBody(stream channel.StreamHandle) {
	for {
		content, err := stream.ReadContent()
		if err != nil {
			stream.Failed(err)
			return
		}
		if content == nil {
			done := make(chan struct{})
			stream.DemandContent(func() { close(done) })
			<-done
			continue
		}
		if content.Kind != channel.ContentChunk || content.Last {
			return
		}
	}
}

// doneCallback forwards a Send outcome straight to the stream lifecycle
// calls the engine requires (SPEC_FULL.md §4.7).
type doneCallback struct {
	stream channel.StreamHandle
}

func (d doneCallback) Succeeded() { d.stream.Succeeded() }
func (d doneCallback) Failed(err error) { d.stream.Failed(err) }
