//go:build windows
// +build windows

// File: reactor/reactor_iocp_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows IOCP completion backend, grounded on the teacher's
// reactor/iocp_reactor.go CreateIoCompletionPort/completion-key idiom fused
// with original_source/KanchoNet/Network/IOCPModel.h's OverlappedContext
// free-list and AcceptEx-based accept loop. AcceptEx/GetAcceptExSockaddrs
// extension-function loading follows the shape the teacher already wrote
// for Windows accept before that file was superseded by this package.

package reactor

import (
	"sync"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/windows"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/internal/concurrency"
	"github.com/kanchonet/kanchonet-go/session"
	"github.com/kanchonet/kanchonet-go/socket"
)

var (
	wsaidAcceptEx               = windows.GUID{Data1: 0xb5367df1, Data2: 0xcbac, Data3: 0x11cf, Data4: [8]byte{0x95, 0xca, 0x00, 0x80, 0x5f, 0x48, 0xa1, 0x92}}
	wsaidGetAcceptExSockaddrs   = windows.GUID{Data1: 0xb5367df2, Data2: 0xcbac, Data3: 0x11cf, Data4: [8]byte{0x95, 0xca, 0x00, 0x80, 0x5f, 0x48, 0xa1, 0x92}}
)

type acceptExFunc func(listen, accept windows.Handle, buf *byte, recvLen, localLen, remoteLen uint32, bytesReceived *uint32, ov *windows.Overlapped) error

// opKind distinguishes what an OverlappedContext was submitted for.
type opKind int

const (
	opAccept opKind = iota
	opRecv
	opSend
)

// overlappedContext mirrors IOCPModel.h's OverlappedContext: the OVERLAPPED
// struct must be the first field so a completion's *Overlapped pointer can
// be cast back to its owning context.
type overlappedContext struct {
	overlapped windows.Overlapped
	kind       opKind
	session    *session.Session
	acceptSock windows.Handle
	buf        []byte
	wsabuf     windows.WSABuf
}

// IOCP is the Windows I/O Completion Port Reactor backend.
type IOCP struct {
	iocp         windows.Handle
	listenSocket api.SocketHandle
	config       api.EngineConfig
	table        *session.Table
	handlers     *api.Handlers

	acceptExFn acceptExFunc

	freeAccept *concurrency.LockFreeQueue[*overlappedContext]

	deferred *queue.Queue
	mu       sync.Mutex
}

// NewIOCP constructs an uninitialized IOCP backend.
func NewIOCP() *IOCP {
	return &IOCP{
		listenSocket: api.InvalidSocketHandle,
		deferred:     queue.New(),
	}
}

// IsSupported reports whether IOCP is available. It always is on Windows.
func (r *IOCP) IsSupported() bool { return true }

// Initialize creates the completion port.
func (r *IOCP) Initialize(config api.EngineConfig, table *session.Table, handlers *api.Handlers) error {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return api.NewError(api.ErrKindQueueCreate, "CreateIoCompletionPort", err)
	}
	r.iocp = iocp
	r.config = config
	r.table = table
	r.handlers = handlers
	r.freeAccept = concurrency.NewLockFreeQueue[*overlappedContext](256)
	return nil
}

// loadExtensionFunc fetches a Winsock extension function pointer via
// WSAIoctl(SIO_GET_EXTENSION_FUNCTION_POINTER), the pattern every AcceptEx
// caller on Windows must use since the symbol isn't statically linkable.
func loadExtensionFunc(s windows.Handle, guid windows.GUID, out unsafe.Pointer) error {
	const sioGetExtensionFunctionPointer = windows.IOC_INOUT | windows.IOC_WS2 | 6
	var bytesReturned uint32
	return windows.WSAIoctl(
		s,
		sioGetExtensionFunctionPointer,
		(*byte)(unsafe.Pointer(&guid)),
		uint32(unsafe.Sizeof(guid)),
		(*byte)(out),
		uint32(unsafe.Sizeof(uintptr(0))),
		&bytesReturned,
		nil, 0,
	)
}

// StartListen binds the listener, associates it with the IOCP, loads
// AcceptEx, and primes the accept pipeline.
func (r *IOCP) StartListen() error {
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

	if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), r.iocp, uintptr(fd), 0); err != nil {
		socket.Close(fd)
		return api.NewError(api.ErrKindQueueRegister, "associate_listener", err)
	}

	if err := loadExtensionFunc(windows.Handle(fd), wsaidAcceptEx, unsafe.Pointer(&r.acceptExFn)); err != nil {
		socket.Close(fd)
		return api.NewError(api.ErrKindQueueCreate, "load_AcceptEx", err)
	}

	return r.postAccept()
}

// acquireAcceptContext reuses a completed accept context off the free
// list when one is available, avoiding a fresh allocation on every accept
// cycle; falls back to allocating when the list is empty or drained.
func (r *IOCP) acquireAcceptContext() *overlappedContext {
	if ctx, ok := r.freeAccept.Dequeue(); ok {
		*ctx = overlappedContext{kind: opAccept, buf: ctx.buf[:cap(ctx.buf)]}
		return ctx
	}
	bufSize := r.config.RecvBufSize
	if bufSize == 0 {
		bufSize = api.DefaultBufferSize
	}
	return &overlappedContext{kind: opAccept, buf: make([]byte, bufSize+64)}
}

func (r *IOCP) postAccept() error {
	acceptSock, err := socket.CreateTCPSocket()
	if err != nil {
		return err
	}
	ctx := r.acquireAcceptContext()
	ctx.acceptSock = windows.Handle(acceptSock)

	var bytesReceived uint32
	sockAddrSize := uint32(unsafe.Sizeof(windows.RawSockaddrAny{})) + 16
	err = r.acceptExFn(
		windows.Handle(r.listenSocket),
		ctx.acceptSock,
		&ctx.buf[0],
		0,
		sockAddrSize,
		sockAddrSize,
		&bytesReceived,
		&ctx.overlapped,
	)
	if err != nil && err != windows.ERROR_IO_PENDING {
		socket.Close(api.SocketHandle(ctx.acceptSock))
		return api.NewError(api.ErrKindQueueRegister, "AcceptEx", err)
	}
	return nil
}

// Poll waits for one completion packet and dispatches it.
func (r *IOCP) Poll(timeoutMs int) error {
	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}
	var bytes uint32
	var key uintptr
	var ov *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(r.iocp, &bytes, &key, &ov, timeout)
	if ov == nil {
		if err == windows.WAIT_TIMEOUT {
			return nil
		}
		if err != nil {
			return api.NewError(api.ErrKindQueueDequeue, "GetQueuedCompletionStatus", err)
		}
		return nil
	}

	ctx := (*overlappedContext)(unsafe.Pointer(ov))
	failed := err != nil
	r.handleCompletion(ctx, bytes, failed)
	r.drainDeferred()
	return nil
}

func (r *IOCP) handleCompletion(ctx *overlappedContext, bytes uint32, failed bool) {
	switch ctx.kind {
	case opAccept:
		r.onAcceptCompletion(ctx, failed)
	case opRecv:
		r.onRecvCompletion(ctx, bytes, failed)
	case opSend:
		r.onSendCompletion(ctx, bytes, failed)
	}
}

func (r *IOCP) onAcceptCompletion(ctx *overlappedContext, failed bool) {
	defer r.postAccept()
	defer r.freeAccept.Enqueue(ctx)

	if failed {
		socket.Close(api.SocketHandle(ctx.acceptSock))
		r.handlers.FireError(api.NewError(api.ErrKindSocketCreate, "AcceptEx_completion", nil))
		return
	}
	fd := api.SocketHandle(ctx.acceptSock)
	if r.table.IsFull() {
		socket.Close(fd)
		return
	}
	windows.Setsockopt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_UPDATE_ACCEPT_CONTEXT,
		(*byte)(unsafe.Pointer(&r.listenSocket)), int32(unsafe.Sizeof(r.listenSocket)))

	socket.SetNoDelay(fd, r.config.NoDelay)
	socket.SetKeepAlive(fd, r.config.KeepAlive, r.config.KeepAliveIdleMs, r.config.KeepAliveIntervalMs)

	s, err := r.table.Add(fd)
	if err != nil {
		socket.Close(fd)
		return
	}
	if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), r.iocp, uintptr(fd), 0); err != nil {
		r.table.Remove(s.ID())
		socket.Close(fd)
		return
	}
	s.MaxPacketSize = r.config.MaxPacketSize
	s.ReceiveTimeoutMs = r.config.ReceiveTimeoutMs
	s.SendTimeoutMs = r.config.SendTimeoutMs
	s.SetState(api.StateConnected)
	r.handlers.FireAccept(s.ID())
	r.postRecv(s)
}

func (r *IOCP) postRecv(s *session.Session) {
	bufSize := r.config.RecvBufSize
	if bufSize == 0 {
		bufSize = api.DefaultBufferSize
	}
	ctx := &overlappedContext{kind: opRecv, session: s, buf: make([]byte, bufSize)}
	ctx.wsabuf = windows.WSABuf{Len: uint32(len(ctx.buf)), Buf: &ctx.buf[0]}
	var flags, bytesReceived uint32
	err := windows.WSARecv(windows.Handle(s.Socket()), &ctx.wsabuf, 1, &bytesReceived, &flags, &ctx.overlapped, nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		r.deferDisconnect(s, api.ErrKindReceiveFailed)
	}
}

func (r *IOCP) onRecvCompletion(ctx *overlappedContext, bytes uint32, failed bool) {
	s := ctx.session
	if failed || bytes == 0 {
		reason := api.ErrKindUnknown
		if failed {
			reason = api.ErrKindReceiveFailed
		}
		r.deferDisconnect(s, reason)
		return
	}
	r.handlers.FireReceive(s.ID(), ctx.buf[:bytes])
	if s.State() == api.StateConnected {
		r.postRecv(s)
	}
}

// Send enqueues data on the session's send ring and, if no send is
// already in flight, posts it as a WSASend overlapped operation.
func (r *IOCP) Send(s *session.Session, data []byte) error {
	s.Lock()
	n := s.SendRing().Write(data)
	s.Unlock()
	r.drainSendRing(s)
	if n < len(data) {
		return api.ErrSendOverflow
	}
	return nil
}

func (r *IOCP) drainSendRing(s *session.Session) {
	if !s.CompareAndSwapSendInFlight(false, true) {
		return // I2
	}
	s.Lock()
	span := s.SendRing().ContiguousReadSpan()
	buf := make([]byte, len(span))
	copy(buf, span)
	s.SendRing().CommitRead(len(span))
	s.Unlock()

	if len(buf) == 0 {
		s.SetSendInFlight(false)
		return
	}

	ctx := &overlappedContext{kind: opSend, session: s, buf: buf}
	ctx.wsabuf = windows.WSABuf{Len: uint32(len(buf)), Buf: &buf[0]}
	var bytesSent uint32
	err := windows.WSASend(windows.Handle(s.Socket()), &ctx.wsabuf, 1, &bytesSent, 0, &ctx.overlapped, nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		s.SetSendInFlight(false)
		r.deferDisconnect(s, api.ErrKindSendFailed)
	}
}

func (r *IOCP) onSendCompletion(ctx *overlappedContext, bytes uint32, failed bool) {
	s := ctx.session
	s.SetSendInFlight(false)
	if failed {
		r.deferDisconnect(s, api.ErrKindSendFailed)
		return
	}
	s.Lock()
	remaining := s.SendRing().AvailableRead()
	s.Unlock()
	if remaining > 0 || int(bytes) < len(ctx.buf) {
		r.drainSendRing(s)
	}
}

func (r *IOCP) deferDisconnect(s *session.Session, reason api.ErrorKind) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) {
		return
	}
	r.deferred.Add(deferredDisconnect{session: s, reason: reason})
}

func (r *IOCP) drainDeferred() {
	for r.deferred.Length() > 0 {
		d := r.deferred.Remove().(deferredDisconnect)
		r.finishDisconnect(d.session, d.reason)
	}
}

// finishDisconnect performs the one true disconnect path (I4, I5): the
// handler fires first, then the session is removed from the table and its
// socket is closed.
func (r *IOCP) finishDisconnect(s *session.Session, reason api.ErrorKind) {
	if !s.CompareAndSwapState(api.StateDisconnecting, api.StateDisconnected) {
		return
	}
	r.handlers.FireDisconnect(s.ID(), reason)
	socket.Close(s.Socket())
	r.table.Remove(s.ID())
}

// closeSilently tears a session down without invoking OnDisconnect, for
// Shutdown only: the spec treats disconnect handlers as out of scope for
// shutdown, so sessions are closed quietly.
func (r *IOCP) closeSilently(s *session.Session) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) &&
		!s.CompareAndSwapState(api.StateIdle, api.StateDisconnecting) {
		return
	}
	s.SetState(api.StateDisconnected)
	socket.Close(s.Socket())
	r.table.Remove(s.ID())
}

// Shutdown tears down every live session, without firing disconnect
// handlers, and closes the completion port. Sessions are snapshotted
// before closing so the table's own mutex, held for the duration of
// ForEach, is never re-entered by Remove from within the same call.
func (r *IOCP) Shutdown() error {
	for _, s := range r.table.Snapshot() {
		r.closeSilently(s)
	}
	if r.listenSocket != api.InvalidSocketHandle {
		socket.Close(r.listenSocket)
		r.listenSocket = api.InvalidSocketHandle
	}
	if r.iocp != 0 {
		windows.CloseHandle(r.iocp)
	}
	return socket.ShutdownSubsystem()
}

var _ = wsaidGetAcceptExSockaddrs
