package reactor_test

import (
	"testing"

	"github.com/kanchonet/kanchonet-go/reactor"
)

func TestBackendStringNames(t *testing.T) {
	cases := []struct {
		b    reactor.Backend
		want string
	}{
		{reactor.BackendAuto, "auto"},
		{reactor.BackendEpoll, "epoll"},
		{reactor.BackendIOUring, "io_uring"},
		{reactor.BackendIOCP, "iocp"},
		{reactor.BackendRIO, "rio"},
	}
	for _, c := range cases {
		if got := c.b.String(); got != c.want {
			t.Errorf("Backend(%d).String() = %q, want %q", c.b, got, c.want)
		}
	}
}

func TestBackendStringUnknownFallsBackToAuto(t *testing.T) {
	unknown := reactor.Backend(99)
	if got := unknown.String(); got != "auto" {
		t.Errorf("unknown Backend.String() = %q, want %q", got, "auto")
	}
}
