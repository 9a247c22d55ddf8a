//go:build linux
// +build linux

package socket_test

import (
	"net"
	"testing"
	"time"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/socket"
)

// TestCreateBindListenAcceptRoundTrip drives the server-side socket
// primitives against a plain net.Dial client, exercising create, bind,
// listen, accept and the post-accept option setters over a real loopback
// connection.
func TestCreateBindListenAcceptRoundTrip(t *testing.T) {
	listener, err := socket.CreateTCPSocket()
	if err != nil {
		t.Fatalf("CreateTCPSocket: %v", err)
	}
	defer socket.Close(listener)

	if err := socket.SetReuseAddress(listener); err != nil {
		t.Fatalf("SetReuseAddress: %v", err)
	}
	const port = 18821
	if err := socket.Bind(listener, port); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := socket.Listen(listener, 16); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	dialDone := make(chan error, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:18821", 2*time.Second)
		if err == nil {
			defer conn.Close()
			conn.Write([]byte("x"))
		}
		dialDone <- err
	}()

	accepted := api.InvalidSocketHandle
	deadline := time.Now().Add(2 * time.Second)
	for accepted == api.InvalidSocketHandle && time.Now().Before(deadline) {
		h, err := socket.Accept(listener)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if h != api.InvalidSocketHandle {
			accepted = h
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if accepted == api.InvalidSocketHandle {
		t.Fatal("timed out waiting for a pending connection to accept")
	}
	defer socket.Close(accepted)

	if err := socket.SetNoDelay(accepted, true); err != nil {
		t.Fatalf("SetNoDelay: %v", err)
	}
	if err := socket.SetKeepAlive(accepted, true, 30000, 5000); err != nil {
		t.Fatalf("SetKeepAlive: %v", err)
	}

	if err := <-dialDone; err != nil {
		t.Fatalf("dial: %v", err)
	}

	buf := make([]byte, 8)
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, wouldBlock, err := socket.Recv(accepted, buf)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if !wouldBlock && n > 0 {
			if string(buf[:n]) != "x" {
				t.Fatalf("Recv = %q, want %q", buf[:n], "x")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting to receive data")
}
