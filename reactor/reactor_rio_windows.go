//go:build windows
// +build windows

// File: reactor/reactor_rio_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows Registered I/O (RIO) completion backend, grounded on
// original_source/KanchoNet/Network/RIOModel.h/.cpp's buffer-registration
// and request-queue shape. Unlike the original, PostReceive/PostSend here
// are fully wired to real RIORegisterBuffer/RIOReceive/RIOSend calls rather
// than left as "not fully implemented" stubs: RIO completions are
// delivered through the same completion port the accept path already uses,
// via RIO_IOCP_COMPLETION notification, so a single Poll loop drains both.
//
// golang.org/x/sys/windows exposes no RIO bindings, so the extension
// function table is loaded the same WSAIoctl way AcceptEx already is in
// reactor_iocp_windows.go, and the loaded function pointers are invoked
// with syscall.SyscallN: there is no ecosystem RIO package in the example
// corpus to reach for instead.
package reactor

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/windows"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/session"
	"github.com/kanchonet/kanchonet-go/socket"
)

var wsaidMultipleRIO = windows.GUID{Data1: 0x8509e942, Data2: 0x6e38, Data3: 0x4d3c, Data4: [8]byte{0x88, 0x7d, 0xc3, 0x3d, 0x4b, 0x7f, 0x8b, 0x1a}}

const sioGetMultipleExtensionFunctionPointer = windows.IOC_INOUT | windows.IOC_WS2 | 36

const (
	rioInvalidBufferID = ^uintptr(0)
	rioIOCPCompletion  = 2
)

// rioExtensionFunctionTable mirrors MSWSock.h's RIO_EXTENSION_FUNCTION_TABLE
// field order and size; on amd64 the four-byte cbSize is padded to eight
// bytes before the first function pointer.
type rioExtensionFunctionTable struct {
	cbSize                   uint32
	_                        uint32
	rioReceive               uintptr
	rioReceiveEx             uintptr
	rioSend                  uintptr
	rioSendEx                uintptr
	rioCloseCompletionQueue  uintptr
	rioCreateCompletionQueue uintptr
	rioCreateRequestQueue    uintptr
	rioDequeueCompletion     uintptr
	rioDeregisterBuffer      uintptr
	rioNotify                uintptr
	rioRegisterBuffer        uintptr
	rioResizeCompletionQueue uintptr
	rioResizeRequestQueue    uintptr
}

type rioBuf struct {
	bufferID uintptr
	offset   uint32
	length   uint32
}

type rioResult struct {
	status           int32
	bytesTransferred uint32
	requestContext   uintptr
}

// rioNotificationIOCP mirrors the Iocp arm of RIO_NOTIFICATION_COMPLETION's
// union: notification type, then completion port, key, and overlapped.
type rioNotificationIOCP struct {
	kind         int32
	_            int32
	iocpHandle   windows.Handle
	key          uintptr
	overlapped   *windows.Overlapped
}

func rioCall(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := syscall.SyscallN(fn, args...)
	return r1
}

// slotPool is a bounded stack of free buffer-slot indices shared by every
// session's sends or receives. It is guarded by a plain mutex rather than
// the SPSC lock-free queue used elsewhere in this package: acquire/release
// here happen from many goroutines at once (every session's Send caller),
// which the single-producer/single-consumer queue does not support safely.
type slotPool struct {
	mu    sync.Mutex
	free  []int
}

func newSlotPool(count int) *slotPool {
	p := &slotPool{free: make([]int, count)}
	for i := range p.free {
		p.free[i] = i
	}
	return p
}

func (p *slotPool) acquire() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, false
	}
	n := len(p.free) - 1
	slot := p.free[n]
	p.free = p.free[:n]
	return slot, true
}

func (p *slotPool) release(slot int) {
	p.mu.Lock()
	p.free = append(p.free, slot)
	p.mu.Unlock()
}

type rioCompletionCtx struct {
	kind    opKind
	session *session.Session
	slot    int
}

// RIO is the Registered I/O completion Reactor backend. Accept still uses
// AcceptEx over a regular overlapped completion, since RIO request queues
// only bind to already-connected sockets; every data-path operation after
// accept goes through registered buffers and RIO's own completion queue.
type RIO struct {
	iocp         windows.Handle
	listenSocket api.SocketHandle
	config       api.EngineConfig
	table        *session.Table
	handlers     *api.Handlers

	fnTable rioExtensionFunctionTable
	cq      uintptr

	recvArena    []byte
	sendArena    []byte
	recvBufferID uintptr
	sendBufferID uintptr
	slotSize     uint32

	recvSlots *slotPool
	sendSlots *slotPool

	acceptExFn acceptExFunc
	notifyOv   windows.Overlapped

	mu      sync.Mutex
	rq      map[api.SessionID]uintptr
	pending map[uintptr]*rioCompletionCtx

	deferred *queue.Queue
}

// NewRIO constructs an uninitialized RIO backend.
func NewRIO() *RIO {
	return &RIO{
		listenSocket: api.InvalidSocketHandle,
		rq:           make(map[api.SessionID]uintptr),
		pending:      make(map[uintptr]*rioCompletionCtx),
		deferred:     queue.New(),
	}
}

// IsSupported probes for RIO by attempting to load its extension function
// table on a throwaway socket; RIO requires Windows 8 / Server 2012+.
func (r *RIO) IsSupported() bool {
	fd, err := socket.CreateTCPSocket()
	if err != nil {
		return false
	}
	defer socket.Close(fd)
	var table rioExtensionFunctionTable
	table.cbSize = uint32(unsafe.Sizeof(table))
	var bytesReturned uint32
	err = windows.WSAIoctl(
		windows.Handle(fd),
		sioGetMultipleExtensionFunctionPointer,
		(*byte)(unsafe.Pointer(&wsaidMultipleRIO)),
		uint32(unsafe.Sizeof(wsaidMultipleRIO)),
		(*byte)(unsafe.Pointer(&table)),
		table.cbSize,
		&bytesReturned,
		nil, 0,
	)
	return err == nil && table.rioReceive != 0
}

// Initialize creates the shared completion port, loads the RIO extension
// functions, creates the completion queue, and registers the send/receive
// buffer arenas.
func (r *RIO) Initialize(config api.EngineConfig, table *session.Table, handlers *api.Handlers) error {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return api.NewError(api.ErrKindQueueCreate, "CreateIoCompletionPort", err)
	}
	r.iocp = iocp
	r.config = config
	r.table = table
	r.handlers = handlers

	fd, err := socket.CreateTCPSocket()
	if err != nil {
		return err
	}
	defer socket.Close(fd)

	r.fnTable.cbSize = uint32(unsafe.Sizeof(r.fnTable))
	var bytesReturned uint32
	if err := windows.WSAIoctl(
		windows.Handle(fd),
		sioGetMultipleExtensionFunctionPointer,
		(*byte)(unsafe.Pointer(&wsaidMultipleRIO)),
		uint32(unsafe.Sizeof(wsaidMultipleRIO)),
		(*byte)(unsafe.Pointer(&r.fnTable)),
		r.fnTable.cbSize,
		&bytesReturned,
		nil, 0,
	); err != nil {
		return api.NewError(api.ErrKindBackendUnsupported, "load_RIO_functions", err)
	}

	notif := rioNotificationIOCP{kind: rioIOCPCompletion, iocpHandle: r.iocp, key: 0, overlapped: &r.notifyOv}
	cqSize := config.CompletionQueueSize
	if cqSize == 0 {
		cqSize = api.DefaultCompletionQueueSize
	}
	r.cq = rioCall(r.fnTable.rioCreateCompletionQueue, uintptr(cqSize), uintptr(unsafe.Pointer(&notif)))
	if r.cq == 0 {
		return api.NewError(api.ErrKindQueueCreate, "RIOCreateCompletionQueue", nil)
	}

	slotSize := config.RecvBufSize
	if slotSize == 0 {
		slotSize = api.DefaultBufferSize
	}
	r.slotSize = slotSize
	slots := int(config.OutstandingReads + config.OutstandingWrites)
	if slots < 64 {
		slots = 64
	}
	r.recvArena = make([]byte, uint64(slotSize)*uint64(slots))
	r.sendArena = make([]byte, uint64(slotSize)*uint64(slots))
	r.recvSlots = newSlotPool(slots)
	r.sendSlots = newSlotPool(slots)

	r.recvBufferID = rioCall(r.fnTable.rioRegisterBuffer, uintptr(unsafe.Pointer(&r.recvArena[0])), uintptr(len(r.recvArena)))
	if r.recvBufferID == rioInvalidBufferID {
		return api.NewError(api.ErrKindQueueCreate, "RIORegisterBuffer_recv", nil)
	}
	r.sendBufferID = rioCall(r.fnTable.rioRegisterBuffer, uintptr(unsafe.Pointer(&r.sendArena[0])), uintptr(len(r.sendArena)))
	if r.sendBufferID == rioInvalidBufferID {
		return api.NewError(api.ErrKindQueueCreate, "RIORegisterBuffer_send", nil)
	}
	return nil
}

// StartListen binds and listens, associates the listener with the shared
// completion port, and primes the accept pipeline.
func (r *RIO) StartListen() error {
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

func (r *RIO) postAccept() error {
	acceptSock, err := socket.CreateTCPSocket()
	if err != nil {
		return err
	}
	bufSize := r.config.RecvBufSize
	if bufSize == 0 {
		bufSize = api.DefaultBufferSize
	}
	ctx := &overlappedContext{kind: opAccept, acceptSock: windows.Handle(acceptSock), buf: make([]byte, bufSize+64)}

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

// Poll waits for one completion packet: an AcceptEx completion carries an
// *overlappedContext, while an RIO notification carries &r.notifyOv, which
// this dispatches by draining the RIO completion queue and re-arming it.
func (r *RIO) Poll(timeoutMs int) error {
	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}
	var bytes uint32
	var key uintptr
	var ov *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(r.iocp, &bytes, &key, &ov, timeout)
	if ov == nil {
		if err == windows.WAIT_TIMEOUT || err == nil {
			return nil
		}
		return api.NewError(api.ErrKindQueueDequeue, "GetQueuedCompletionStatus", err)
	}

	if ov == &r.notifyOv {
		r.drainRIOCompletions()
	} else {
		ctx := (*overlappedContext)(unsafe.Pointer(ov))
		r.onAcceptCompletion(ctx, err != nil)
	}
	r.drainDeferred()
	return nil
}

func (r *RIO) onAcceptCompletion(ctx *overlappedContext, failed bool) {
	defer r.postAccept()

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
	s.MaxPacketSize = r.config.MaxPacketSize
	s.ReceiveTimeoutMs = r.config.ReceiveTimeoutMs
	s.SendTimeoutMs = r.config.SendTimeoutMs

	outstandingRead := r.config.OutstandingReads
	if outstandingRead == 0 {
		outstandingRead = api.DefaultOutstandingReads
	}
	outstandingWrite := r.config.OutstandingWrites
	if outstandingWrite == 0 {
		outstandingWrite = api.DefaultOutstandingWrites
	}
	rq := rioCall(r.fnTable.rioCreateRequestQueue,
		uintptr(fd), uintptr(outstandingRead), 1, uintptr(outstandingWrite), 1, r.cq, r.cq, uintptr(s.ID()))
	if rq == 0 {
		r.table.Remove(s.ID())
		socket.Close(fd)
		return
	}

	r.mu.Lock()
	r.rq[s.ID()] = rq
	r.mu.Unlock()

	s.SetState(api.StateConnected)
	r.handlers.FireAccept(s.ID())
	r.postReceive(s, rq)
}

func (r *RIO) postReceive(s *session.Session, rq uintptr) {
	slot, ok := r.recvSlots.acquire()
	if !ok {
		r.deferDisconnect(s, api.ErrKindReceiveFailed)
		return
	}
	ctx := &rioCompletionCtx{kind: opRecv, session: s, slot: slot}
	key := uintptr(unsafe.Pointer(ctx))
	r.mu.Lock()
	r.pending[key] = ctx
	r.mu.Unlock()

	buf := rioBuf{bufferID: r.recvBufferID, offset: uint32(slot) * r.slotSize, length: r.slotSize}
	if rioCall(r.fnTable.rioReceive, rq, uintptr(unsafe.Pointer(&buf)), 1, 0, key) == 0 {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
		r.recvSlots.release(slot)
		r.deferDisconnect(s, api.ErrKindReceiveFailed)
	}
}

// Send enqueues data on the session's send ring and kicks off an RIOSend
// if none is already outstanding for the session.
func (r *RIO) Send(s *session.Session, data []byte) error {
	s.Lock()
	n := s.SendRing().Write(data)
	s.Unlock()
	r.drainSendRing(s)
	if n < len(data) {
		return api.ErrSendOverflow
	}
	return nil
}

func (r *RIO) drainSendRing(s *session.Session) {
	if !s.CompareAndSwapSendInFlight(false, true) {
		return
	}
	r.mu.Lock()
	rq, ok := r.rq[s.ID()]
	r.mu.Unlock()
	if !ok {
		s.SetSendInFlight(false)
		return
	}

	slot, ok := r.sendSlots.acquire()
	if !ok {
		s.SetSendInFlight(false)
		return
	}

	s.Lock()
	span := s.SendRing().ContiguousReadSpan()
	if uint32(len(span)) > r.slotSize {
		span = span[:r.slotSize]
	}
	n := copy(r.sendArena[uint32(slot)*r.slotSize:], span)
	s.SendRing().CommitRead(n)
	s.Unlock()

	if n == 0 {
		r.sendSlots.release(slot)
		s.SetSendInFlight(false)
		return
	}

	ctx := &rioCompletionCtx{kind: opSend, session: s, slot: slot}
	key := uintptr(unsafe.Pointer(ctx))
	r.mu.Lock()
	r.pending[key] = ctx
	r.mu.Unlock()

	buf := rioBuf{bufferID: r.sendBufferID, offset: uint32(slot) * r.slotSize, length: uint32(n)}
	if rioCall(r.fnTable.rioSend, rq, uintptr(unsafe.Pointer(&buf)), 1, 0, key) == 0 {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
		r.sendSlots.release(slot)
		s.SetSendInFlight(false)
		r.deferDisconnect(s, api.ErrKindSendFailed)
	}
}

// drainRIOCompletions dequeues everything currently posted to the shared
// completion queue and re-arms notification, mirroring epoll's one-shot
// edge-triggered rearm discipline.
func (r *RIO) drainRIOCompletions() {
	var results [64]rioResult
	for {
		n := rioCall(r.fnTable.rioDequeueCompletion, r.cq, uintptr(unsafe.Pointer(&results[0])), uintptr(len(results)))
		if n == 0 || n == ^uintptr(0) {
			break
		}
		for i := uintptr(0); i < n; i++ {
			r.handleRIOResult(&results[i])
		}
		if n < uintptr(len(results)) {
			break
		}
	}
	rioCall(r.fnTable.rioNotify, r.cq)
}

func (r *RIO) handleRIOResult(res *rioResult) {
	r.mu.Lock()
	ctx, ok := r.pending[res.requestContext]
	delete(r.pending, res.requestContext)
	r.mu.Unlock()
	if !ok {
		return
	}

	switch ctx.kind {
	case opRecv:
		r.recvSlots.release(ctx.slot)
		if res.status != 0 || res.bytesTransferred == 0 {
			reason := api.ErrKindUnknown
			if res.status != 0 {
				reason = api.ErrKindReceiveFailed
			}
			r.deferDisconnect(ctx.session, reason)
			return
		}
		off := uint32(ctx.slot) * r.slotSize
		r.handlers.FireReceive(ctx.session.ID(), r.recvArena[off:off+res.bytesTransferred])
		if ctx.session.State() == api.StateConnected {
			r.mu.Lock()
			rq := r.rq[ctx.session.ID()]
			r.mu.Unlock()
			r.postReceive(ctx.session, rq)
		}
	case opSend:
		r.sendSlots.release(ctx.slot)
		ctx.session.SetSendInFlight(false)
		if res.status != 0 {
			r.deferDisconnect(ctx.session, api.ErrKindSendFailed)
			return
		}
		ctx.session.Lock()
		remaining := ctx.session.SendRing().AvailableRead()
		ctx.session.Unlock()
		if remaining > 0 {
			r.drainSendRing(ctx.session)
		}
	}
}

func (r *RIO) deferDisconnect(s *session.Session, reason api.ErrorKind) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) {
		return
	}
	r.deferred.Add(deferredDisconnect{session: s, reason: reason})
}

func (r *RIO) drainDeferred() {
	for r.deferred.Length() > 0 {
		d := r.deferred.Remove().(deferredDisconnect)
		r.finishDisconnect(d.session, d.reason)
	}
}

// finishDisconnect performs the one true disconnect path (I4, I5): the
// handler fires first, then the session is removed from the table and its
// socket is closed.
func (r *RIO) finishDisconnect(s *session.Session, reason api.ErrorKind) {
	if !s.CompareAndSwapState(api.StateDisconnecting, api.StateDisconnected) {
		return
	}
	r.handlers.FireDisconnect(s.ID(), reason)
	r.mu.Lock()
	delete(r.rq, s.ID())
	r.mu.Unlock()
	socket.Close(s.Socket())
	r.table.Remove(s.ID())
}

// closeSilently tears a session down without invoking OnDisconnect, for
// Shutdown only: the spec treats disconnect handlers as out of scope for
// shutdown, so sessions are closed quietly.
func (r *RIO) closeSilently(s *session.Session) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) &&
		!s.CompareAndSwapState(api.StateIdle, api.StateDisconnecting) {
		return
	}
	s.SetState(api.StateDisconnected)
	r.mu.Lock()
	delete(r.rq, s.ID())
	r.mu.Unlock()
	socket.Close(s.Socket())
	r.table.Remove(s.ID())
}

// Shutdown tears down every live session, without firing disconnect
// handlers, deregisters the RIO buffers, and closes the completion queue
// and port. Sessions are snapshotted before closing so the table's own
// mutex, held for the duration of ForEach, is never re-entered by Remove
// from within the same call.
func (r *RIO) Shutdown() error {
	for _, s := range r.table.Snapshot() {
		r.closeSilently(s)
	}
	if r.cq != 0 {
		rioCall(r.fnTable.rioCloseCompletionQueue, r.cq)
	}
	if r.recvBufferID != rioInvalidBufferID && r.recvBufferID != 0 {
		rioCall(r.fnTable.rioDeregisterBuffer, r.recvBufferID)
	}
	if r.sendBufferID != rioInvalidBufferID && r.sendBufferID != 0 {
		rioCall(r.fnTable.rioDeregisterBuffer, r.sendBufferID)
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
