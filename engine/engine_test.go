package engine_test

import (
	"testing"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/engine"
	"github.com/kanchonet/kanchonet-go/reactor"
)

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	e := engine.New()
	cfg := api.DefaultEngineConfig()
	cfg.MaxSessions = 0 // out of range: must be >= 1

	err := e.Initialize(cfg, reactor.BackendAuto, api.Handlers{})
	if err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
	var apiErr *api.Error
	if ok := asAPIError(err, &apiErr); !ok || apiErr.Kind != api.ErrKindInvalidRange {
		t.Fatalf("expected ErrKindInvalidRange, got %v", err)
	}
}

func TestSendBeforeStartReturnsNotInitialized(t *testing.T) {
	e := engine.New()
	if err := e.Send(nil, []byte("x")); err != api.ErrNotInitialized {
		t.Fatalf("Send before Start = %v, want ErrNotInitialized", err)
	}
}

func TestPollBeforeStartReturnsNotInitialized(t *testing.T) {
	e := engine.New()
	if err := e.Poll(0); err != api.ErrNotInitialized {
		t.Fatalf("Poll before Start = %v, want ErrNotInitialized", err)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	e := engine.New()
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop before Start = %v, want nil", err)
	}
}

func TestIsRunningDefaultsFalse(t *testing.T) {
	e := engine.New()
	if e.IsRunning() {
		t.Fatal("expected new Engine to report not running")
	}
}

func asAPIError(err error, target **api.Error) bool {
	if e, ok := err.(*api.Error); ok {
		*target = e
		return true
	}
	return false
}
