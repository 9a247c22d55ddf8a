//go:build linux
// +build linux

package engine_test

import (
	"net"
	"testing"
	"time"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/engine"
	"github.com/kanchonet/kanchonet-go/reactor"
)

// TestEngineEpollEchoRoundTrip drives the full accept/receive/send/
// disconnect path over a real loopback TCP connection using the epoll
// backend, exercising T2 (round trip) and T3 (session lifecycle) end to
// end rather than through a single package in isolation.
func TestEngineEpollEchoRoundTrip(t *testing.T) {
	cfg := api.DefaultEngineConfig()
	cfg.Port = 18734
	cfg.MaxSessions = 8

	e := engine.New()
	received := make(chan []byte, 1)
	accepted := make(chan api.SessionID, 1)
	disconnected := make(chan api.SessionID, 1)

	handlers := api.Handlers{
		OnAccept: func(id api.SessionID) { accepted <- id },
		OnReceive: func(id api.SessionID, data []byte) {
			cp := append([]byte(nil), data...)
			received <- cp
			if s, ok := e.Table().Get(id); ok {
				_ = e.Send(s, cp)
			}
		},
		OnDisconnect: func(id api.SessionID, reason api.ErrorKind) { disconnected <- id },
	}

	if err := e.Initialize(cfg, reactor.BackendEpoll, handlers); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				e.Poll(50)
			}
		}
	}()
	defer close(stop)

	conn, err := net.DialTimeout("tcp", "127.0.0.1:18734", 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnAccept")
	}

	msg := []byte("hello reactor")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(msg) {
			t.Fatalf("received %q, want %q", got, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnReceive")
	}

	echoBuf := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(conn, echoBuf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echoBuf) != string(msg) {
		t.Fatalf("echoed %q, want %q", echoBuf, msg)
	}

	conn.Close()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnDisconnect")
	}
}

// TestStopWithLiveSessionClosesSilently connects a client and, without
// disconnecting it first, calls Stop with the session still live. Stop must
// return promptly (not deadlock re-locking the SessionTable's mutex from
// within its own iteration) and must not fire OnDisconnect, since shutdown
// closes sessions silently.
func TestStopWithLiveSessionClosesSilently(t *testing.T) {
	cfg := api.DefaultEngineConfig()
	cfg.Port = 18735
	cfg.MaxSessions = 8

	e := engine.New()
	accepted := make(chan api.SessionID, 1)
	disconnected := make(chan api.SessionID, 1)

	handlers := api.Handlers{
		OnAccept:     func(id api.SessionID) { accepted <- id },
		OnDisconnect: func(id api.SessionID, reason api.ErrorKind) { disconnected <- id },
	}

	if err := e.Initialize(cfg, reactor.BackendEpoll, handlers); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				e.Poll(50)
			}
		}
	}()

	conn, err := net.DialTimeout("tcp", "127.0.0.1:18735", 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnAccept")
	}
	close(stop)

	done := make(chan error, 1)
	go func() { done <- e.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop deadlocked with a live session in the table")
	}

	select {
	case id := <-disconnected:
		t.Fatalf("OnDisconnect fired for session %v during shutdown, want silent close", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
