package wslink

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/badu/h1engine/fields"
)

// rfc6455SampleKey is the worked example from RFC 6455 §1.3.
const rfc6455SampleKey = "dGhlIHNhbXBsZSBub25jZQ=="

func TestHandlerTakeOverHandshakeAndEcho(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	f := &fields.Fields{}
	f.Set("Sec-WebSocket-Key", rfc6455SampleKey)

	echoed := make(chan string, 1)
	h, err := New(f, nil, func(conn *websocket.Conn) {
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, msg)
		echoed <- string(msg)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.BindRaw(server)

	go h.TakeOver(nil)

	reader := bufio.NewReader(client)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 101") {
		t.Fatalf("unexpected status line: %q", status)
	}
	gotAccept := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading header line: %v", err)
		}
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(line, "Sec-WebSocket-Accept:") {
			gotAccept = strings.TrimSpace(strings.TrimPrefix(line, "Sec-WebSocket-Accept:"))
		}
	}
	if wantAccept := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="; gotAccept != wantAccept {
		t.Fatalf("Sec-WebSocket-Accept = %q, want %q", gotAccept, wantAccept)
	}

	clientConn := websocket.NewConn(client, false, 4096, 4096)
	if err := clientConn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	_, msg, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("echoed message = %q, want %q", msg, "hello")
	}

	select {
	case got := <-echoed:
		if got != "hello" {
			t.Fatalf("serve callback saw %q, want %q", got, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for serve callback to observe the message")
	}
}

func TestNewRejectsMissingKey(t *testing.T) {
	f := &fields.Fields{}
	if _, err := New(f, nil, nil); err != errMissingKey {
		t.Fatalf("expected errMissingKey, got %v", err)
	}
}
