// File: logging/logger.go
// Author: momentics <momentics@gmail.com>
//
// Default api.Logger implementation: a level-filtered wrapper over the
// standard library's log.Logger, grounded on the teacher's own ambient
// convention (server/hioload.go logs straight through log.Printf, no
// structured-logging library) and the level-enum/gating design of
// original_source/KanchoNet/Utils/Logger.h. No example repo in the pack
// pulls in a structured-logging library (zap, zerolog, logrus) from
// source, so this stays on the standard library by the same reasoning the
// teacher already applied to its own logging.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/kanchonet/kanchonet-go/api"
)

// StdLogger is a level-filtered api.Logger over a standard library
// *log.Logger.
type StdLogger struct {
	out   *log.Logger
	level api.LogLevel
}

// New constructs a StdLogger writing to w with the given minimum level;
// messages below it are dropped without formatting.
func New(w io.Writer, minLevel api.LogLevel) *StdLogger {
	return &StdLogger{
		out:   log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		level: minLevel,
	}
}

// NewStdLogger constructs a StdLogger writing to os.Stderr with the given
// minimum level.
func NewStdLogger(minLevel api.LogLevel) *StdLogger {
	return New(os.Stderr, minLevel)
}

// Log implements api.Logger.
func (l *StdLogger) Log(level api.LogLevel, format string, args ...any) {
	if level < l.level {
		return
	}
	l.out.Printf("["+level.String()+"] "+format, args...)
}
