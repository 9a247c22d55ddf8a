//go:build linux
// +build linux

// File: reactor/epoll_reactor.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) readiness reactor, grounded on the teacher's
// reactor/epoll_reactor.go epoll_create1/epoll_wait idiom fused with
// original_source/KanchoNet/Network/EpollModel.cpp's accept/receive/send
// drain control flow and disconnect path.

package reactor

import (
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/session"
	"github.com/kanchonet/kanchonet-go/socket"
)

const maxEpollEvents = 128

// Epoll is the readiness-based Reactor backend. It runs single-threaded:
// Poll must be called from one goroutine at a time, though Send may be
// called concurrently from any goroutine.
type Epoll struct {
	epfd         int
	listenSocket api.SocketHandle
	config       api.EngineConfig
	table        *session.Table
	handlers     *api.Handlers

	bySocket map[api.SocketHandle]*session.Session

	// deferred holds sessions whose disconnect was observed mid-batch;
	// draining it only after the epoll_wait batch finishes keeps a later
	// event in the same batch from touching a session already torn down.
	deferred *queue.Queue

	scratch []byte
}

// NewEpoll constructs an uninitialized Epoll backend.
func NewEpoll() *Epoll {
	return &Epoll{
		epfd:         -1,
		listenSocket: api.InvalidSocketHandle,
		bySocket:     make(map[api.SocketHandle]*session.Session),
		deferred:     queue.New(),
	}
}

// IsSupported reports whether epoll is available. It always is on Linux.
func (r *Epoll) IsSupported() bool { return true }

// Initialize allocates the epoll instance and its receive scratch buffer.
func (r *Epoll) Initialize(config api.EngineConfig, table *session.Table, handlers *api.Handlers) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return api.NewError(api.ErrKindQueueCreate, "epoll_create1", err)
	}
	r.epfd = epfd
	r.config = config
	r.table = table
	r.handlers = handlers
	bufSize := config.RecvBufSize
	if bufSize == 0 {
		bufSize = api.DefaultBufferSize
	}
	r.scratch = make([]byte, bufSize)
	return nil
}

// StartListen creates, configures, binds, and listens on the configured
// TCP port, then registers the listening socket for read readiness.
func (r *Epoll) StartListen() error {
	if err := socket.InitSubsystem(); err != nil {
		return err
	}
	fd, err := socket.CreateTCPSocket()
	if err != nil {
		return err
	}
	if err := socket.SetReuseAddress(fd); err != nil {
		socket.Close(fd)
		return err
	}
	if err := socket.Bind(fd, r.config.Port); err != nil {
		socket.Close(fd)
		return err
	}
	if err := socket.Listen(fd, r.config.Backlog); err != nil {
		socket.Close(fd)
		return err
	}
	r.listenSocket = fd

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		socket.Close(fd)
		return api.NewError(api.ErrKindQueueRegister, "epoll_ctl_add_listener", err)
	}
	return nil
}

// Poll drains at most one epoll_wait batch and dispatches handlers
// synchronously, then processes any deferred disconnects from that batch.
func (r *Epoll) Poll(timeoutMs int) error {
	var events [maxEpollEvents]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return api.NewError(api.ErrKindQueueDequeue, "epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		fd := api.SocketHandle(ev.Fd)

		if fd == r.listenSocket {
			r.processAccept()
			continue
		}

		s, ok := r.bySocket[fd]
		if !ok {
			continue
		}

		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			r.deferDisconnect(s, api.ErrKindDisconnectObserved)
			continue
		}
		if ev.Events&unix.EPOLLIN != 0 {
			if !r.processReceive(s) {
				continue // already deferred for disconnect
			}
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r.processSend(s)
		}
	}

	r.drainDeferred()
	return nil
}

func (r *Epoll) processAccept() {
	for {
		fd, err := socket.Accept(r.listenSocket)
		if err != nil {
			r.handlers.FireError(err)
			return
		}
		if fd == api.InvalidSocketHandle {
			return // drained to would-block
		}

		if r.table.IsFull() {
			socket.Close(fd)
			continue
		}

		socket.SetNoDelay(fd, r.config.NoDelay)
		socket.SetKeepAlive(fd, r.config.KeepAlive, r.config.KeepAliveIdleMs, r.config.KeepAliveIntervalMs)
		if r.config.SendBufSize != 0 {
			socket.SetSendBufSize(fd, r.config.SendBufSize)
		}
		if r.config.RecvBufSize != 0 {
			socket.SetRecvBufSize(fd, r.config.RecvBufSize)
		}

		s, err := r.table.Add(fd)
		if err != nil {
			socket.Close(fd)
			continue
		}
		s.MaxPacketSize = r.config.MaxPacketSize
		s.ReceiveTimeoutMs = r.config.ReceiveTimeoutMs
		s.SendTimeoutMs = r.config.SendTimeoutMs

		ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
			r.table.Remove(s.ID())
			socket.Close(fd)
			continue
		}
		r.bySocket[fd] = s
		s.SetState(api.StateConnected)
		r.handlers.FireAccept(s.ID())
	}
}

// processReceive returns false if the session was deferred for disconnect
// and must not be touched further this batch. Sockets are registered
// EPOLLET, so a readiness event fires only on the transition to readable:
// this loop must keep reading until EAGAIN/EWOULDBLOCK on every call, a
// short read included, or a later arrival sitting in the kernel buffer
// behind it would never trigger another event.
func (r *Epoll) processReceive(s *session.Session) bool {
	for {
		n, wouldBlock, err := socket.Recv(s.Socket(), r.scratch)
		if err != nil {
			r.deferDisconnect(s, api.ErrKindReceiveFailed)
			return false
		}
		if wouldBlock {
			return true
		}
		if n == 0 {
			r.deferDisconnect(s, api.ErrKindUnknown)
			return false
		}
		r.handlers.FireReceive(s.ID(), r.scratch[:n])
	}
}

func (r *Epoll) processSend(s *session.Session) {
	r.drainSendRing(s)
}

// drainSendRing writes as much of the session's pending send ring as the
// socket will currently accept, toggling EPOLLOUT interest based on
// whether bytes remain.
func (r *Epoll) drainSendRing(s *session.Session) {
	failed := false

	s.Lock()
	for {
		span := s.SendRing().ContiguousReadSpan()
		if len(span) == 0 {
			break
		}
		n, wouldBlock, err := socket.Send(s.Socket(), span)
		if err != nil {
			failed = true
			break
		}
		if wouldBlock || n == 0 {
			break
		}
		s.SendRing().CommitRead(n)
		if n < len(span) {
			break
		}
	}
	empty := s.SendRing().IsEmpty()
	s.SetSendInFlight(!empty)
	s.Unlock()

	if failed {
		r.deferDisconnect(s, api.ErrKindSendFailed)
		return
	}

	events := unix.EPOLLIN | unix.EPOLLET
	if !empty {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(s.Socket())}
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(s.Socket()), &ev)
}

// Send enqueues data on the session's send ring and arms EPOLLOUT if the
// socket cannot immediately accept it all.
func (r *Epoll) Send(s *session.Session, data []byte) error {
	s.Lock()
	n := s.SendRing().Write(data)
	s.Unlock()
	if n < len(data) {
		r.drainSendRing(s)
		return api.ErrSendOverflow
	}
	r.drainSendRing(s)
	return nil
}

func (r *Epoll) deferDisconnect(s *session.Session, reason api.ErrorKind) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) &&
		!s.CompareAndSwapState(api.StateIdle, api.StateDisconnecting) {
		return // already disconnecting/disconnected: T7 idempotence
	}
	r.deferred.Add(deferredDisconnect{session: s, reason: reason})
}

type deferredDisconnect struct {
	session *session.Session
	reason  api.ErrorKind
}

func (r *Epoll) drainDeferred() {
	for r.deferred.Length() > 0 {
		d := r.deferred.Remove().(deferredDisconnect)
		r.finishDisconnect(d.session, d.reason)
	}
}

// finishDisconnect performs the one true disconnect path (I4, I5): the
// handler fires first, then the session is removed from the table and its
// socket is closed.
func (r *Epoll) finishDisconnect(s *session.Session, reason api.ErrorKind) {
	if !s.CompareAndSwapState(api.StateDisconnecting, api.StateDisconnected) {
		return
	}
	r.handlers.FireDisconnect(s.ID(), reason)
	r.detachAndClose(s)
}

// detachAndClose unregisters s from epoll, drops it from bySocket and the
// table, and closes its socket. It does not touch OnDisconnect or state:
// callers own that decision.
func (r *Epoll) detachAndClose(s *session.Session) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(s.Socket()), nil)
	delete(r.bySocket, s.Socket())
	socket.Close(s.Socket())
	r.table.Remove(s.ID())
}

// closeSilently tears a session down without invoking OnDisconnect, for
// Shutdown only: the spec treats disconnect handlers as out of scope for
// shutdown, so sessions are closed quietly.
func (r *Epoll) closeSilently(s *session.Session) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) &&
		!s.CompareAndSwapState(api.StateIdle, api.StateDisconnecting) {
		return
	}
	s.SetState(api.StateDisconnected)
	r.detachAndClose(s)
}

// Shutdown closes the listener and every live session exactly once, without
// firing disconnect handlers. Sessions are snapshotted before closing so
// the table's own mutex, held for the duration of ForEach, is never
// re-entered by Remove from within the same call.
func (r *Epoll) Shutdown() error {
	for _, s := range r.table.Snapshot() {
		r.closeSilently(s)
	}
	if r.listenSocket != api.InvalidSocketHandle {
		socket.Close(r.listenSocket)
		r.listenSocket = api.InvalidSocketHandle
	}
	if r.epfd >= 0 {
		unix.Close(r.epfd)
		r.epfd = -1
	}
	return socket.ShutdownSubsystem()
}
