//go:build linux

// Package iouxx provides a typed, composable io_uring operation library for
// Go: one small operation type per kernel opcode, three uniform completion
// disciplines (callback, sync-wait, task-await), and a ring facade that
// owns the kernel ring's lifecycle, fixed-resource tables, and shutdown.
package iouxx

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// Ring owns a kernel io_uring instance: its mmap'd submission and completion
// queues, its cached feature probe, and its fixed file/buffer tables.
//
// Scheduling model: single submitter, single completer. A Ring is not
// internally synchronized against concurrent Submit/RunOnce/DrainReady
// calls from independent goroutines racing each other's ring state; callers
// coordinate a single logical owner per ring (the sqLock below only
// protects SQE slot bookkeeping against internal contention, e.g. a sync
// sink draining completions while another goroutine submits).
type Ring struct {
	fd       int
	params   sys.Params
	features uint32
	probe    *Probe // cached on first ProbeSupported call; nil until then

	// Submission queue
	sqRing    []byte
	sqEntries uint32
	sqMask    uint32
	sqHead    *uint32
	sqTail    *uint32
	sqFlags   *uint32
	sqDropped *uint32
	sqArray   []uint32
	sqes      []sys.SQE
	sqesMmap  []byte

	// Completion queue
	cqRing     []byte
	cqEntries  uint32
	cqMask     uint32
	cqHead     *uint32
	cqTail     *uint32
	cqFlags    *uint32
	cqOverflow *uint32
	cqes       []sys.CQE

	sqLock    sync.Mutex
	sqPending uint32
	closed    atomic.Bool

	fixedFiles   *fixedTable
	fixedBuffers *fixedTable
}

// Option configures ring setup. Mirrors the IORING_SETUP_* flags the kernel
// accepts, plus the three composite setups (sqpoll, cqsize, attach).
type Option func(*sys.Params)

// WithIOPoll requests I/O polling completions (IOPOLL). Only valid against
// file descriptors that support polled completion (e.g. NVMe character
// devices).
func WithIOPoll() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_IOPOLL }
}

// WithClamp clamps SQ/CQ entry counts to the kernel maximum instead of
// failing setup when the requested size exceeds it.
func WithClamp() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_CLAMP }
}

// WithStartDisabled starts the ring disabled; no operation is processed
// until the caller issues IORING_REGISTER_ENABLE_RINGS (see Ring.Enable).
func WithStartDisabled() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_R_DISABLED }
}

// WithSubmitAll continues submitting the remaining SQEs in a batch even if
// an earlier one in that same Enter call failed.
func WithSubmitAll() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_SUBMIT_ALL }
}

// WithCoopTaskrun enables cooperative task running: the kernel does not
// interrupt userspace to run async work, only at natural transition points.
func WithCoopTaskrun() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_COOP_TASKRUN }
}

// WithTaskrunFlag makes the kernel set IORING_SQ_TASKRUN in the SQ flags
// when task work is pending. Requires WithCoopTaskrun.
func WithTaskrunFlag() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_TASKRUN_FLAG }
}

// WithSQE128 requests 128-byte submission queue entries (needed by some
// uring-cmd passthrough opcodes; unused by this library's operation set).
func WithSQE128() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_SQE128 }
}

// WithCQE32 requests 32-byte completion queue entries.
func WithCQE32() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_CQE32 }
}

// WithSingleIssuer asserts only one task will ever submit to this ring,
// enabling kernel-side lock elision.
func WithSingleIssuer() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_SINGLE_ISSUER }
}

// WithDeferTaskrun defers task work until the next io_uring_enter call,
// reducing interrupt overhead for batched submission. Implies
// WithSingleIssuer.
func WithDeferTaskrun() Option {
	return func(p *sys.Params) {
		p.Flags |= sys.IORING_SETUP_DEFER_TASKRUN | sys.IORING_SETUP_SINGLE_ISSUER
	}
}

// WithNoMmap tells the kernel the application will supply its own ring
// memory. Not supported by this library's mapRings implementation; present
// for completeness and for callers who mmap the rings themselves.
func WithNoMmap() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_NO_MMAP }
}

// WithRegisteredFDOnly makes New return a registered-ring-fd index instead
// of a process file descriptor.
func WithRegisteredFDOnly() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_REGISTERED_FD_ONLY }
}

// WithNoSQArray removes the SQ index-array indirection on kernels new
// enough to support it directly indexing the SQE array.
func WithNoSQArray() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_NO_SQARRAY }
}

// WithHybridIOPoll is a thin alias over WithIOPoll: the kernel does not
// expose a distinct "hybrid" IOPOLL setup flag, so this sets IOPOLL and
// leaves busy-poll/interrupt balancing to Ring.RegisterNAPI's
// prefer_busy_poll knob.
func WithHybridIOPoll() Option {
	return func(p *sys.Params) { p.Flags |= sys.IORING_SETUP_IOPOLL }
}

// WithSQPoll enables kernel-side SQ polling: a kernel thread polls the SQ
// ring so submission needs no syscall in the common case. idleMS is the
// thread's idle timeout before it parks and needs waking again.
func WithSQPoll(idleMS uint32) Option {
	return func(p *sys.Params) {
		p.Flags |= sys.IORING_SETUP_SQPOLL
		p.SQThreadIdle = idleMS
	}
}

// WithSQPollCPU pins the SQPOLL kernel thread to a specific CPU. Must be
// combined with WithSQPoll.
func WithSQPollCPU(cpu uint32) Option {
	return func(p *sys.Params) {
		p.Flags |= sys.IORING_SETUP_SQ_AFF
		p.SQThreadCPU = cpu
	}
}

// WithCQSize sets an explicit completion queue size, overriding the
// kernel's default of 2x the submission queue size.
func WithCQSize(entries uint32) Option {
	return func(p *sys.Params) {
		p.Flags |= sys.IORING_SETUP_CQSIZE
		p.CQEntries = entries
	}
}

// WithAttach shares the async worker pool of an already-constructed ring.
func WithAttach(existing *Ring) Option {
	return func(p *sys.Params) {
		p.Flags |= sys.IORING_SETUP_ATTACH_WQ
		p.WQFd = uint32(existing.fd)
	}
}

// New creates a new io_uring instance with the given submission queue
// depth (rounded up to a power of two by the kernel) and options.
func New(entries uint32, opts ...Option) (*Ring, error) {
	if entries == 0 {
		return nil, unix.EINVAL
	}

	params := sys.Params{}
	for _, opt := range opts {
		opt(&params)
	}

	fd, err := sys.Setup(entries, &params)
	if err != nil {
		return nil, err
	}

	r := &Ring{
		fd:       fd,
		params:   params,
		features: params.Features,
	}

	if err := r.mapRings(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return r, nil
}

// mapRings maps the SQ, CQ, and SQE arrays into memory.
func (r *Ring) mapRings() error {
	p := &r.params

	sqRingSize := p.SQOff.Array + p.SQEntries*4
	cqRingSize := p.CQOff.CQEs + p.CQEntries*uint32(unsafe.Sizeof(sys.CQE{}))

	singleMmap := p.Features&sys.IORING_FEAT_SINGLE_MMAP != 0
	if singleMmap {
		if cqRingSize > sqRingSize {
			sqRingSize = cqRingSize
		}
	}

	var err error
	r.sqRing, err = sys.Mmap(r.fd, sys.IORING_OFF_SQ_RING, int(sqRingSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return err
	}

	if singleMmap {
		r.cqRing = r.sqRing
	} else {
		r.cqRing, err = sys.Mmap(r.fd, sys.IORING_OFF_CQ_RING, int(cqRingSize),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			sys.Munmap(r.sqRing)
			return err
		}
	}

	sqeSize := p.SQEntries * uint32(unsafe.Sizeof(sys.SQE{}))
	r.sqesMmap, err = sys.Mmap(r.fd, sys.IORING_OFF_SQES, int(sqeSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		if !singleMmap {
			sys.Munmap(r.cqRing)
		}
		sys.Munmap(r.sqRing)
		return err
	}

	r.sqEntries = *(*uint32)(unsafe.Pointer(&r.sqRing[p.SQOff.RingEntries]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[p.SQOff.RingMask]))
	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[p.SQOff.Head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[p.SQOff.Tail]))
	r.sqFlags = (*uint32)(unsafe.Pointer(&r.sqRing[p.SQOff.Flags]))
	r.sqDropped = (*uint32)(unsafe.Pointer(&r.sqRing[p.SQOff.Dropped]))

	sqArrayPtr := unsafe.Pointer(&r.sqRing[p.SQOff.Array])
	r.sqArray = unsafe.Slice((*uint32)(sqArrayPtr), r.sqEntries)

	sqesPtr := unsafe.Pointer(&r.sqesMmap[0])
	r.sqes = unsafe.Slice((*sys.SQE)(sqesPtr), p.SQEntries)

	r.cqEntries = *(*uint32)(unsafe.Pointer(&r.cqRing[p.CQOff.RingEntries]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[p.CQOff.RingMask]))
	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[p.CQOff.Head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[p.CQOff.Tail]))
	r.cqFlags = (*uint32)(unsafe.Pointer(&r.cqRing[p.CQOff.Flags]))
	r.cqOverflow = (*uint32)(unsafe.Pointer(&r.cqRing[p.CQOff.Overflow]))

	cqesPtr := unsafe.Pointer(&r.cqRing[p.CQOff.CQEs])
	r.cqes = unsafe.Slice((*sys.CQE)(cqesPtr), r.cqEntries)

	return nil
}

// Enable starts a ring constructed with WithStartDisabled.
func (r *Ring) Enable() error {
	return sys.Register(r.fd, sys.IORING_REGISTER_ENABLE_RINGS, nil, 0)
}

// Shutdown issues a ring-wide synchronous "cancel any, all" (optionally
// bounded by timeout), then releases the fixed tables and the ring itself.
// Callers remain responsible for draining the completion queue for
// operations canceled by this call before dropping the Ring.
func (r *Ring) Shutdown(timeout *Timespec) error {
	if r.closed.Load() {
		return nil
	}
	reg := sys.SyncCancelReg{
		Flags: sys.IORING_ASYNC_CANCEL_ALL | sys.IORING_ASYNC_CANCEL_ANY,
	}
	if timeout != nil {
		reg.Timeout = *timeout
	} else {
		reg.Fd = -1
	}
	// Best effort: ENOENT means nothing was in flight, which is success
	// for shutdown purposes.
	if err := sys.RegisterSyncCancel(r.fd, &reg); err != nil && err != unix.ENOENT {
		return err
	}
	return r.Close()
}

// Close closes the ring and releases all mapped resources. Idempotent.
func (r *Ring) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	if r.params.Features&sys.IORING_FEAT_SINGLE_MMAP == 0 && r.cqRing != nil {
		sys.Munmap(r.cqRing)
	}
	if r.sqRing != nil {
		sys.Munmap(r.sqRing)
	}
	if r.sqesMmap != nil {
		sys.Munmap(r.sqesMmap)
	}

	return unix.Close(r.fd)
}

// Fd returns the ring's file descriptor.
func (r *Ring) Fd() int { return r.fd }

// Features returns the IORING_FEAT_* bitset reported at setup.
func (r *Ring) Features() uint32 { return r.features }

// HasFeature reports whether a given IORING_FEAT_* bit is set.
func (r *Ring) HasFeature(feat uint32) bool { return r.features&feat != 0 }

// SQEntries returns the number of submission queue entries.
func (r *Ring) SQEntries() uint32 { return r.sqEntries }

// CQEntries returns the number of completion queue entries.
func (r *Ring) CQEntries() uint32 { return r.cqEntries }

// SQReady returns the number of SQEs queued locally, not yet submitted.
func (r *Ring) SQReady() uint32 {
	r.sqLock.Lock()
	defer r.sqLock.Unlock()
	return r.sqPending
}

// SQSpace returns the available space in the submission queue.
func (r *Ring) SQSpace() uint32 {
	head := atomic.LoadUint32(r.sqHead)
	tail := atomic.LoadUint32(r.sqTail)
	return r.sqEntries - (tail - head)
}

// CQReady returns the number of CQEs ready for consumption.
func (r *Ring) CQReady() uint32 {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	return tail - head
}

func (r *Ring) needsWakeup() bool {
	if r.params.Flags&sys.IORING_SETUP_SQPOLL == 0 {
		return false
	}
	return atomic.LoadUint32(r.sqFlags)&sys.IORING_SQ_NEED_WAKEUP != 0
}

// flushLocked moves pending local SQEs into the kernel-visible tail.
// Caller must hold sqLock.
func (r *Ring) flushLocked() uint32 {
	submitted := r.sqPending
	if submitted == 0 {
		return 0
	}
	tail := atomic.LoadUint32(r.sqTail)
	atomic.StoreUint32(r.sqTail, tail+submitted)
	r.sqPending = 0
	return submitted
}

// submitBatch flushes pending SQEs to the kernel. Returns the kernel's
// errors verbatim; callers see a try-again condition via
// the kernel's own EAGAIN/EBUSY.
func (r *Ring) submitBatch() (int, error) {
	if r.closed.Load() {
		return 0, ErrRingClosed
	}

	r.sqLock.Lock()
	submitted := r.flushLocked()
	r.sqLock.Unlock()

	if submitted == 0 {
		return 0, nil
	}

	var flags uint32
	if r.needsWakeup() {
		flags |= sys.IORING_ENTER_SQ_WAKEUP
	}

	if r.params.Flags&sys.IORING_SETUP_SQPOLL != 0 && flags == 0 {
		return int(submitted), nil
	}

	n, err := sys.Enter(r.fd, submitted, 0, flags, nil)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SubmitAndWait flushes pending SQEs and waits for at least n completions.
func (r *Ring) SubmitAndWait(n uint32) (int, error) {
	if r.closed.Load() {
		return 0, ErrRingClosed
	}

	r.sqLock.Lock()
	submitted := r.flushLocked()
	r.sqLock.Unlock()

	var flags uint32 = sys.IORING_ENTER_GETEVENTS
	if r.needsWakeup() {
		flags |= sys.IORING_ENTER_SQ_WAKEUP
	}

	result, err := sys.Enter(r.fd, submitted, n, flags, nil)
	if err != nil {
		return 0, err
	}
	return result, nil
}

// RegisterEventfd registers an eventfd for completion notification.
func (r *Ring) RegisterEventfd(eventfd int) error { return sys.RegisterEventfd(r.fd, eventfd) }

// UnregisterEventfd removes the registered eventfd.
func (r *Ring) UnregisterEventfd() error { return sys.UnregisterEventfd(r.fd) }

// RegisterNAPI enables NAPI busy-poll. Only permitted on an IOPOLL ring.
// Returns the kernel's effective configuration.
func (r *Ring) RegisterNAPI(busyPollUsec uint32, preferBusyPoll bool) (sys.NapiConf, error) {
	if r.params.Flags&sys.IORING_SETUP_IOPOLL == 0 {
		return sys.NapiConf{}, ErrNotSupported
	}
	conf := sys.NapiConf{BusyPollUsec: busyPollUsec}
	if preferBusyPoll {
		conf.PreferBusyPoll = 1
	}
	if err := sys.RegisterNAPI(r.fd, &conf); err != nil {
		return sys.NapiConf{}, err
	}
	return conf, nil
}

// UnregisterNAPI disables NAPI busy-poll and returns the configuration that
// was in effect.
func (r *Ring) UnregisterNAPI() (sys.NapiConf, error) {
	var conf sys.NapiConf
	if err := sys.UnregisterNAPI(r.fd, &conf); err != nil {
		return sys.NapiConf{}, err
	}
	return conf, nil
}
