//go:build linux
// +build linux

// File: reactor/reactor_uring_linux.go
// Author: momentics <momentics@gmail.com>
//
// io_uring completion backend, grounded on the teacher's (build-tagged,
// never-enabled) internal/transport/transport_linux_uring.go raw
// io_uring_setup/mmap/SQE-CQE idiom, extended to the Accept/Receive/Send
// completion-context model of original_source/KanchoNet/Network/IOUringModel.cpp.

package reactor

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/session"
	"github.com/kanchonet/kanchonet-go/socket"
)

// io_uring syscall numbers and mmap offsets, per the kernel's stable ABI
// (io_uring.h). Not exposed by golang.org/x/sys/unix, so declared here the
// way the teacher's transport_linux_uring.go does.
const (
	sysIOURingSetup  = 425
	sysIOURingEnter  = 426
	sysIOURingRegister = 427

	ioringOffSQRing = 0
	ioringOffCQRing = 0x8000000
	ioringOffSQEs   = 0x10000000

	ioringEnterGetEvents = 1

	ioringOpNop    = 0
	ioringOpRecv   = 27
	ioringOpSend   = 26
	ioringOpAccept = 13
)

// sqOffsets and cqOffsets mirror struct io_sqring_offsets / io_cqring_offsets.
type sqOffsets struct {
	Head, Tail, RingMask, RingEntries, Flags, Dropped, Array, Resv1 uint32
	UserAddr                                                        uint64
}

type cqOffsets struct {
	Head, Tail, RingMask, RingEntries, Overflow, CQEs, Flags, Resv1 uint32
	UserAddr                                                        uint64
}

// uringParams mirrors struct io_uring_params.
type uringParams struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        sqOffsets
	CQOff        cqOffsets
}

// sqe mirrors the fixed 64-byte struct io_uring_sqe layout for the fields
// this backend uses.
type sqe struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Pad2        [2]uint64
}

// cqe mirrors struct io_uring_cqe.
type cqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

const sqeSize = 64
const cqeSize = 16

var uringSupportOnce sync.Once
var uringSupported bool

func probeIOURingSupport() bool {
	uringSupportOnce.Do(func() {
		params := uringParams{}
		fd, _, errno := unix.Syscall(sysIOURingSetup, 1, uintptr(unsafe.Pointer(&params)), 0)
		if errno != 0 {
			uringSupported = false
			return
		}
		unix.Close(int(fd))
		uringSupported = true
	})
	return uringSupported
}

// opKind distinguishes what a completion context was submitted for.
type opKind int

const (
	opAccept opKind = iota
	opRecv
	opSend
)

// completionCtx tracks one outstanding SQE. Every submission allocates a
// fresh context, registered in contexts under its user_data id and removed
// when its completion is handled; a send context's buffer is a span of the
// session's send ring.
type completionCtx struct {
	kind    opKind
	session *session.Session
	buf     []byte
}

// Uring is the io_uring-based completion Reactor backend.
type Uring struct {
	ringFd int

	sqMmap  []byte
	cqMmap  []byte
	sqeMmap []byte

	sqHead, sqTail, sqMask, sqEntries *uint32
	sqArray                           []uint32
	cqHead, cqTail, cqMask            *uint32
	cqesOffset                        uintptr

	sqeTail uint32

	// submitMu guards sqeTail, sqArray, and the sqe mmap region against
	// concurrent pushSQE calls: the Poll goroutine reaches pushSQE via
	// submitAccept/submitRecv, and application goroutines reach it via
	// Send, which is documented safe to call concurrently with Poll.
	submitMu sync.Mutex

	listenSocket api.SocketHandle
	config       api.EngineConfig
	table        *session.Table
	handlers     *api.Handlers

	mu       sync.Mutex
	contexts map[uint64]*completionCtx
	nextID   atomic.Uint64

	// deferredMu guards deferred: completions reach deferDisconnect from
	// the poll goroutine, but a failed submitNow flush inside Send's
	// submitSend path can now reach it from an application goroutine too.
	deferredMu sync.Mutex
	deferred   *queue.Queue
}

// NewUring constructs an uninitialized Uring backend.
func NewUring() *Uring {
	return &Uring{
		listenSocket: api.InvalidSocketHandle,
		contexts:     make(map[uint64]*completionCtx),
		deferred:     queue.New(),
	}
}

// IsSupported probes io_uring availability via a throwaway 1-entry
// io_uring_setup call, caching the result process-wide.
func (r *Uring) IsSupported() bool {
	return probeIOURingSupport()
}

func ptr(b []byte, off uint32) unsafe.Pointer {
	return unsafe.Pointer(&b[off])
}

// Initialize sets up the io_uring instance and maps its three regions.
func (r *Uring) Initialize(config api.EngineConfig, table *session.Table, handlers *api.Handlers) error {
	if !r.IsSupported() {
		return api.ErrBackendUnsupported
	}

	entries := config.CompletionQueueSize
	if entries == 0 {
		entries = api.DefaultCompletionQueueSize
	}

	var params uringParams
	fd, _, errno := unix.Syscall(sysIOURingSetup, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return api.NewError(api.ErrKindQueueCreate, "io_uring_setup", errno)
	}
	r.ringFd = int(fd)
	r.config = config
	r.table = table
	r.handlers = handlers

	sqRingSize := int(params.SQOff.Array) + int(params.SQEntries)*4
	cqRingSize := int(params.CQOff.CQEs) + int(params.CQEntries)*cqeSize

	sqMmap, err := unix.Mmap(r.ringFd, ioringOffSQRing, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Close(r.ringFd)
		return api.NewError(api.ErrKindQueueCreate, "mmap_sq_ring", err)
	}
	cqMmap, err := unix.Mmap(r.ringFd, ioringOffCQRing, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMmap)
		unix.Close(r.ringFd)
		return api.NewError(api.ErrKindQueueCreate, "mmap_cq_ring", err)
	}
	sqeMmap, err := unix.Mmap(r.ringFd, ioringOffSQEs, int(params.SQEntries)*sqeSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMmap)
		unix.Munmap(cqMmap)
		unix.Close(r.ringFd)
		return api.NewError(api.ErrKindQueueCreate, "mmap_sqes", err)
	}

	r.sqMmap, r.cqMmap, r.sqeMmap = sqMmap, cqMmap, sqeMmap
	r.sqHead = (*uint32)(ptr(sqMmap, params.SQOff.Head))
	r.sqTail = (*uint32)(ptr(sqMmap, params.SQOff.Tail))
	r.sqMask = (*uint32)(ptr(sqMmap, params.SQOff.RingMask))
	r.sqEntries = (*uint32)(ptr(sqMmap, params.SQOff.RingEntries))
	r.cqHead = (*uint32)(ptr(cqMmap, params.CQOff.Head))
	r.cqTail = (*uint32)(ptr(cqMmap, params.CQOff.Tail))
	r.cqMask = (*uint32)(ptr(cqMmap, params.CQOff.RingMask))
	r.cqesOffset = uintptr(params.CQOff.CQEs)

	arrayLen := int(*r.sqEntries)
	arrayPtr := ptr(sqMmap, params.SQOff.Array)
	r.sqArray = unsafe.Slice((*uint32)(arrayPtr), arrayLen)

	return nil
}

// StartListen binds the listener and submits the first single-shot accept
// SQE; each accept completion submits the next one.
func (r *Uring) StartListen() error {
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
	r.submitAccept()
	return r.submitNow()
}

func (r *Uring) allocContextID(c *completionCtx) uint64 {
	id := r.nextID.Add(1)
	r.mu.Lock()
	r.contexts[id] = c
	r.mu.Unlock()
	return id
}

func (r *Uring) takeContext(id uint64) (*completionCtx, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if ok {
		delete(r.contexts, id)
	}
	return c, ok
}

// pushSQE reserves the next submission slot and fills it. Returns false if
// the submission ring is full (caller should Poll to drain completions).
// Guarded by submitMu: the poll goroutine (accept/recv resubmission) and
// application goroutines calling Send both reach this concurrently.
func (r *Uring) pushSQE(fill func(*sqe)) bool {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	head := atomic.LoadUint32(r.sqHead)
	if r.sqeTail-head >= *r.sqEntries {
		return false
	}
	idx := r.sqeTail & *r.sqMask
	s := (*sqe)(unsafe.Pointer(&r.sqeMmap[uintptr(idx)*sqeSize]))
	*s = sqe{}
	fill(s)
	r.sqArray[idx] = idx
	r.sqeTail++
	atomic.StoreUint32(r.sqTail, r.sqeTail)
	return true
}

// pendingToSubmit reports how many SQEs are sitting in the ring past the
// kernel's own consumption point (sqHead is written by the kernel, never by
// this side), i.e. how many are still owed to the next io_uring_enter call.
func (r *Uring) pendingToSubmit() uint32 {
	r.submitMu.Lock()
	tail := r.sqeTail
	r.submitMu.Unlock()
	head := atomic.LoadUint32(r.sqHead)
	return tail - head
}

// submitNow flushes any pending SQEs to the kernel without waiting for
// completions. Used outside the poll loop (StartListen, Send) so a
// submission never sits idle until the poll goroutine's next blocking
// io_uring_enter call happens to return.
func (r *Uring) submitNow() error {
	n := r.pendingToSubmit()
	if n == 0 {
		return nil
	}
	return r.enter(n, 0)
}

func (r *Uring) submitAccept() {
	ctx := &completionCtx{kind: opAccept}
	id := r.allocContextID(ctx)
	r.pushSQE(func(s *sqe) {
		s.Opcode = ioringOpAccept
		s.Fd = int32(r.listenSocket)
		s.UserData = id
	})
}

func (r *Uring) submitRecv(s *session.Session, buf []byte) {
	ctx := &completionCtx{kind: opRecv, session: s, buf: buf}
	id := r.allocContextID(ctx)
	r.pushSQE(func(sq *sqe) {
		sq.Opcode = ioringOpRecv
		sq.Fd = int32(s.Socket())
		sq.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sq.Len = uint32(len(buf))
		sq.UserData = id
	})
}

func (r *Uring) submitSend(s *session.Session, buf []byte) {
	ctx := &completionCtx{kind: opSend, session: s, buf: buf}
	id := r.allocContextID(ctx)
	r.pushSQE(func(sq *sqe) {
		sq.Opcode = ioringOpSend
		sq.Fd = int32(s.Socket())
		sq.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sq.Len = uint32(len(buf))
		sq.UserData = id
	})
	// Send is called from arbitrary application goroutines, not just the
	// poll goroutine, so it cannot rely on the next Poll call to submit
	// this SQE: Poll may already be blocked inside io_uring_enter waiting
	// on completions that this very send is meant to produce.
	if err := r.submitNow(); err != nil {
		s.SetSendInFlight(false)
		r.deferDisconnect(s, api.ErrKindSendFailed)
	}
}

func (r *Uring) enter(toSubmit, minComplete uint32) error {
	_, _, errno := unix.Syscall6(sysIOURingEnter, uintptr(r.ringFd), uintptr(toSubmit), uintptr(minComplete), ioringEnterGetEvents, 0, 0)
	if errno != 0 && errno != unix.EINTR {
		return api.NewError(api.ErrKindQueueDequeue, "io_uring_enter", errno)
	}
	return nil
}

// Poll submits pending SQEs and waits for at least one completion (unless
// timeoutMs == 0, a non-blocking drain), dispatching handlers for each.
func (r *Uring) Poll(timeoutMs int) error {
	minComplete := uint32(1)
	if timeoutMs == 0 {
		minComplete = 0
	}
	toSubmit := r.pendingToSubmit()
	if err := r.enter(toSubmit, minComplete); err != nil {
		return err
	}

	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	for head != tail {
		idx := head & *r.cqMask
		c := (*cqe)(unsafe.Pointer(&r.cqMmap[r.cqesOffset+uintptr(idx)*cqeSize]))
		r.handleCompletion(c)
		head++
	}
	atomic.StoreUint32(r.cqHead, head)

	r.drainDeferred()
	return nil
}

func (r *Uring) handleCompletion(c *cqe) {
	ctx, ok := r.takeContext(c.UserData)
	if !ok {
		return
	}
	switch ctx.kind {
	case opAccept:
		r.onAcceptCompletion(c)
	case opRecv:
		r.onRecvCompletion(ctx, c)
	case opSend:
		r.onSendCompletion(ctx, c)
	}
}

func (r *Uring) onAcceptCompletion(c *cqe) {
	defer r.submitAccept()

	if c.Res < 0 {
		r.handlers.FireError(api.NewError(api.ErrKindSocketCreate, "io_uring_accept", unix.Errno(-c.Res)))
		return
	}
	fd := api.SocketHandle(c.Res)
	if r.table.IsFull() {
		socket.Close(fd)
		return
	}
	socket.SetNonBlocking(fd)
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
	s.SetState(api.StateConnected)
	r.handlers.FireAccept(s.ID())

	bufSize := r.config.RecvBufSize
	if bufSize == 0 {
		bufSize = api.DefaultBufferSize
	}
	r.submitRecv(s, make([]byte, bufSize))
}

func (r *Uring) onRecvCompletion(ctx *completionCtx, c *cqe) {
	s := ctx.session
	if c.Res <= 0 {
		reason := api.ErrKindUnknown
		if c.Res < 0 {
			reason = api.ErrKindReceiveFailed
		}
		r.deferDisconnect(s, reason)
		return
	}
	r.handlers.FireReceive(s.ID(), ctx.buf[:c.Res])
	if s.State() == api.StateConnected {
		r.submitRecv(s, ctx.buf[:cap(ctx.buf)])
	}
}

func (r *Uring) onSendCompletion(ctx *completionCtx, c *cqe) {
	s := ctx.session
	if c.Res < 0 {
		s.SetSendInFlight(false)
		r.deferDisconnect(s, api.ErrKindSendFailed)
		return
	}
	// Only the bytes the kernel actually accepted leave the ring here. A
	// short send (c.Res < len(ctx.buf)) leaves the remainder in place to be
	// resubmitted below, so no byte is ever dropped on a partial write.
	n := int(c.Res)
	s.Lock()
	s.SendRing().CommitRead(n)
	remaining := s.SendRing().AvailableRead()
	s.Unlock()
	s.SetSendInFlight(false)
	if remaining > 0 {
		r.drainSendRing(s)
	}
}

// Send enqueues data on the session's send ring and, if no send is
// already in flight, submits it as an io_uring SEND op.
func (r *Uring) Send(s *session.Session, data []byte) error {
	s.Lock()
	n := s.SendRing().Write(data)
	s.Unlock()
	r.drainSendRing(s)
	if n < len(data) {
		return api.ErrSendOverflow
	}
	return nil
}

// drainSendRing peeks the ring's next contiguous unread span and submits it
// directly. The bytes stay in the ring, uncommitted, until
// onSendCompletion advances the read position by exactly what the kernel
// reported sent. This is what makes a short SEND safe: the unsent tail is
// still sitting in the ring afterward, not already discarded.
func (r *Uring) drainSendRing(s *session.Session) {
	if !s.CompareAndSwapSendInFlight(false, true) {
		return // I2: at most one outstanding write per session
	}
	s.Lock()
	span := s.SendRing().ContiguousReadSpan()
	empty := len(span) == 0
	s.Unlock()

	if empty {
		s.SetSendInFlight(false)
		return
	}
	r.submitSend(s, span)
}

func (r *Uring) deferDisconnect(s *session.Session, reason api.ErrorKind) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) {
		return
	}
	r.deferredMu.Lock()
	r.deferred.Add(deferredDisconnect{session: s, reason: reason})
	r.deferredMu.Unlock()
}

func (r *Uring) drainDeferred() {
	for {
		r.deferredMu.Lock()
		if r.deferred.Length() == 0 {
			r.deferredMu.Unlock()
			break
		}
		d := r.deferred.Remove().(deferredDisconnect)
		r.deferredMu.Unlock()
		r.finishDisconnect(d.session, d.reason)
	}
}

// finishDisconnect performs the one true disconnect path (I4, I5): the
// handler fires first, then the session is removed from the table and its
// socket is closed.
func (r *Uring) finishDisconnect(s *session.Session, reason api.ErrorKind) {
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
func (r *Uring) closeSilently(s *session.Session) {
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnecting) &&
		!s.CompareAndSwapState(api.StateIdle, api.StateDisconnecting) {
		return
	}
	s.SetState(api.StateDisconnected)
	socket.Close(s.Socket())
	r.table.Remove(s.ID())
}

// Shutdown tears down every live session, without firing disconnect
// handlers, and releases the io_uring instance's mmap'd regions and file
// descriptor. Sessions are snapshotted before closing so the table's own
// mutex, held for the duration of ForEach, is never re-entered by Remove
// from within the same call.
func (r *Uring) Shutdown() error {
	for _, s := range r.table.Snapshot() {
		r.closeSilently(s)
	}
	if r.listenSocket != api.InvalidSocketHandle {
		socket.Close(r.listenSocket)
		r.listenSocket = api.InvalidSocketHandle
	}
	if r.sqeMmap != nil {
		unix.Munmap(r.sqeMmap)
	}
	if r.cqMmap != nil {
		unix.Munmap(r.cqMmap)
	}
	if r.sqMmap != nil {
		unix.Munmap(r.sqMmap)
	}
	if r.ringFd != 0 {
		unix.Close(r.ringFd)
	}
	return socket.ShutdownSubsystem()
}
