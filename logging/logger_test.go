package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/logging"
)

func TestStdLoggerFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, api.LevelWarning)

	l.Log(api.LevelInfo, "should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below min level, got %q", buf.String())
	}

	l.Log(api.LevelWarning, "should appear: %d", 42)
	if !strings.Contains(buf.String(), "should appear: 42") {
		t.Fatalf("expected formatted message, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[WARNING]") {
		t.Fatalf("expected level tag, got %q", buf.String())
	}
}

func TestStdLoggerPassesHigherLevels(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, api.LevelDebug)

	l.Log(api.LevelCritical, "fatal thing")
	if !strings.Contains(buf.String(), "[CRITICAL]") {
		t.Fatalf("expected critical message logged, got %q", buf.String())
	}
}
