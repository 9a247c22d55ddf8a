// File: engine/engine.go
// Author: momentics <momentics@gmail.com>
//
// Engine is the reactor core's application-facing facade, grounded on
// server/hioload.go's Config/New/Start/Stop shape (mutex-guarded lifecycle
// flags, a single owning struct wiring every subsystem together) fused with
// original_source/KanchoNet/Core/NetworkEngine.h's template contract
// (Initialize/Start/ProcessIO/Send/Stop, virtual OnAccept et al. becoming Go
// handler fields instead of overridable methods).
package engine

import (
	"errors"
	"sync"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/internal/cpuaffinity"
	"github.com/kanchonet/kanchonet-go/metrics"
	"github.com/kanchonet/kanchonet-go/reactor"
	"github.com/kanchonet/kanchonet-go/session"
)

// Engine owns one Reactor backend, one SessionTable, and the application's
// Handlers. It is safe to call Send concurrently with Poll; Poll itself
// must be called from a single goroutine at a time, matching the Reactor
// contract it wraps. Stop does not synchronize with an in-progress Poll:
// the poll loop is stopped before Stop is called.
type Engine struct {
	config   api.EngineConfig
	backend  reactor.Backend
	handlers api.Handlers

	logger  api.Logger
	metrics *metrics.Collector

	// cpuAffinityCPU, when >= 0, is the logical CPU the goroutine calling
	// Start pins itself to before entering its poll loop. -1 disables
	// pinning, the default: it is a performance hint the original treats
	// as best-effort (a failed pin is logged, not fatal).
	cpuAffinityCPU int

	mu          sync.RWMutex
	initialized bool
	running     bool

	table *session.Table
	rx    reactor.Reactor
}

// New constructs an unconfigured Engine. Call Initialize before Start.
func New() *Engine {
	return &Engine{
		logger:         api.DiscardLogger{},
		cpuAffinityCPU: -1,
	}
}

// SetLogger installs the Logger the Engine and its Reactor backend report
// through. Must be called before Initialize.
func (e *Engine) SetLogger(l api.Logger) {
	if l == nil {
		l = api.DiscardLogger{}
	}
	e.logger = l
}

// SetMetrics installs a Collector the Engine updates on its accept,
// receive, send, disconnect, and poll-error hot paths. Optional: a nil
// Collector (the default) means metrics are simply not collected.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// SetCPUAffinity requests that Start pin the calling goroutine's OS thread
// to cpu before entering the poll loop. Pinning failures are logged, not
// returned as errors, since it is a placement hint rather than a
// correctness requirement.
func (e *Engine) SetCPUAffinity(cpu int) {
	e.cpuAffinityCPU = cpu
}

// Initialize validates config, constructs the SessionTable and the
// requested Reactor backend, and wires handlers through the Engine's own
// metrics-observing adapter. It fails if called twice. A backend that
// reports itself unsupported is also reported through OnError.
func (e *Engine) Initialize(config api.EngineConfig, backend reactor.Backend, handlers api.Handlers) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return api.ErrAlreadyInitialized
	}
	if err := config.Validate(); err != nil {
		return err
	}

	table := session.NewTable(config.MaxSessions, int(config.RecvBufSize))
	wrapped := e.wrapHandlers(handlers)

	rx, err := reactor.New(backend)
	if err == nil {
		err = rx.Initialize(config, table, &wrapped)
	}
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Kind == api.ErrKindBackendUnsupported {
			wrapped.FireError(err)
		}
		return err
	}

	e.config = config
	e.backend = backend
	e.handlers = wrapped
	e.table = table
	e.rx = rx
	e.initialized = true
	return nil
}

// wrapHandlers returns a copy of handlers whose callbacks additionally
// update e.metrics before delegating to the application's own handler.
// This keeps every metrics update at the Engine layer instead of littering
// every Reactor backend with Collector calls, per the design's ambient
// observability split.
func (e *Engine) wrapHandlers(h api.Handlers) api.Handlers {
	appAccept, appReceive, appDisconnect, appError := h.OnAccept, h.OnReceive, h.OnDisconnect, h.OnError
	return api.Handlers{
		OnAccept: func(id api.SessionID) {
			if e.metrics != nil {
				e.metrics.ActiveSessions.Inc()
				e.metrics.AcceptsTotal.Inc()
			}
			if appAccept != nil {
				appAccept(id)
			}
		},
		OnReceive: func(id api.SessionID, data []byte) {
			if e.metrics != nil {
				e.metrics.BytesReceived.Add(float64(len(data)))
			}
			if appReceive != nil {
				appReceive(id, data)
			}
		},
		OnDisconnect: func(id api.SessionID, reason api.ErrorKind) {
			if e.metrics != nil {
				e.metrics.ActiveSessions.Dec()
				e.metrics.DisconnectsTotal.WithLabelValues(reason.String()).Inc()
			}
			if appDisconnect != nil {
				appDisconnect(id, reason)
			}
		},
		OnError: func(err error) {
			e.logger.Log(api.LevelError, "engine: %v", err)
			if appError != nil {
				appError(err)
			}
		},
	}
}

// Start pins the calling thread's CPU affinity if requested, then begins
// listening. Poll must be called afterward, in a loop, by the application.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return api.ErrNotInitialized
	}
	if e.running {
		return nil
	}
	if e.cpuAffinityCPU >= 0 {
		if err := cpuaffinity.SetAffinity(e.cpuAffinityCPU); err != nil {
			e.logger.Log(api.LevelWarning, "engine: cpu affinity pin failed: %v", err)
		}
	}
	if err := e.rx.StartListen(); err != nil {
		return err
	}
	e.running = true
	e.logger.Log(api.LevelInfo, "engine: listening on port %d", e.config.Port)
	return nil
}

// Poll drives one iteration of the underlying Reactor's completion or
// readiness loop, dispatching every ready event's handlers synchronously
// before returning. The application is expected to call this in a tight
// loop for the lifetime of the Engine.
func (e *Engine) Poll(timeoutMs int) error {
	e.mu.RLock()
	running := e.running
	rx := e.rx
	e.mu.RUnlock()
	if !running {
		return api.ErrNotInitialized
	}
	if err := rx.Poll(timeoutMs); err != nil {
		if e.metrics != nil {
			e.metrics.PollErrors.Inc()
		}
		return err
	}
	return nil
}

// Send queues data on the session's outbound ring and asks the Reactor to
// drain it. Safe to call from any goroutine, concurrently with Poll.
func (e *Engine) Send(s *session.Session, data []byte) error {
	e.mu.RLock()
	rx := e.rx
	running := e.running
	e.mu.RUnlock()
	if !running {
		return api.ErrNotInitialized
	}
	err := rx.Send(s, data)
	if e.metrics != nil {
		if err == nil {
			e.metrics.BytesSent.Add(float64(len(data)))
		} else if err == api.ErrSendOverflow {
			e.metrics.SendOverflows.Inc()
		}
	}
	return err
}

// Table exposes the live SessionTable so an application can implement its
// own broadcast or lookup with ForEach/Get, replacing the original's
// unimplemented GetSession/Broadcast methods.
func (e *Engine) Table() *session.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

// Stop shuts the Reactor down, closing every live session and the
// listening socket. Idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	err := e.rx.Shutdown()
	e.running = false
	e.initialized = false
	e.logger.Log(api.LevelInfo, "engine: stopped")
	return err
}

// IsRunning reports whether Start has completed and Stop has not yet run.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Config returns the EngineConfig this Engine was initialized with.
func (e *Engine) Config() api.EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}
