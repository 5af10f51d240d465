package transport

import (
	"net"
	"testing"
	"time"
)

func TestConnEndpointFillInterestDeliversSniffedByte(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := NewConnEndpoint(server, false)
	ready := make(chan bool, 1)
	ep.TryFillInterested(func(ok bool) { ready <- ok })

	writeDone := make(chan error, 1)
	go func() {
		_, err := client.Write([]byte("h"))
		writeDone <- err
	}()

	select {
	case ok := <-ready:
		if !ok {
			t.Fatal("expected fill-interest callback with ok=true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fill interest callback")
	}
	if err := <-writeDone; err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := ep.Fill(buf)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if n != 1 || buf[0] != 'h' {
		t.Fatalf("expected sniffed byte 'h', got n=%d buf[0]=%q", n, buf[0])
	}
}

// TestConnEndpointCloseUnblocksPendingSniff checks that Close returns
// promptly even with a fill-interest sniff in flight (abortSniff must not
// deadlock waiting on the background goroutine).
func TestConnEndpointCloseUnblocksPendingSniff(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ep := NewConnEndpoint(server, false)
	ep.TryFillInterested(func(ok bool) {})

	done := make(chan error, 1)
	go func() { done <- ep.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close deadlocked waiting on pending sniff")
	}
}
