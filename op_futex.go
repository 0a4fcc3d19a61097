//go:build linux

package iouxx

import (
	"context"
	"unsafe"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// futex2Flags builds the size/scope flag word every futex operation's
// build-to-slot contract sets: a 32-bit futex word, private (process-local)
// unless shared is requested.
func futex2Flags(private bool) uint32 {
	flags := sys.FUTEX2_SIZE_U32
	if private {
		flags |= sys.FUTEX2_PRIVATE
	}
	return flags
}

// FutexWaitOperation submits IORING_OP_FUTEX_WAIT: sleep while *addr equals
// expected until woken by a matching FutexWakeOperation (if *addr already
// differs at submission, the wait fails at once with EAGAIN).
// addr is pinned by the caller for the operation's lifetime.
type FutexWaitOperation struct {
	OperationBase
	addr     *uint32
	expected uint64
	mask     uint32
	private  bool
}

// NewFutexWait constructs a futex-wait operation. A zero mask defaults to
// FUTEX_BITSET_MATCH_ANY (match any waker) at Build time.
func NewFutexWait(r *Ring, addr *uint32, expected uint32) *FutexWaitOperation {
	return &FutexWaitOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_FUTEX_WAIT),
		addr:          addr,
		expected:      uint64(expected),
		private:       true,
	}
}

// Mask restricts which FutexWake bitset values will wake this waiter.
func (op *FutexWaitOperation) Mask(mask uint32) *FutexWaitOperation {
	op.mask = mask
	return op
}

// Shared marks the futex word as shared across processes (FUTEX2_PRIVATE
// cleared) instead of the default process-private scope.
func (op *FutexWaitOperation) Shared() *FutexWaitOperation {
	op.private = false
	return op
}

// Build implements Operation.
func (op *FutexWaitOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_FUTEX_WAIT)
	sqe.Fd = int32(futex2Flags(op.private))
	sqe.Addr = uint64(uintptr(unsafe.Pointer(op.addr)))
	sqe.Off = op.expected
	mask := op.mask
	if mask == 0 {
		mask = sys.FUTEX_BITSET_MATCH_ANY
	}
	sqe.Addr3 = uint64(mask)
}

// Wait submits this operation and blocks for its completion.
func (op *FutexWaitOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("futex_wait", res)
}

// Await submits this operation and suspends until completion or ctx done.
func (op *FutexWaitOperation) Await(ctx context.Context) error {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("futex_wait", res)
}

// OnComplete submits this operation with the callback discipline.
func (op *FutexWaitOperation) OnComplete(fn func(err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		fn(resultError("futex_wait", res))
	})
}

// FutexWakeAll requests every matching waiter be woken, rather than a
// specific count. The kernel reads the count as a signed int, so this is
// INT_MAX rather than all bits set.
const FutexWakeAll = uint32(1<<31 - 1)

// FutexWakeOperation submits IORING_OP_FUTEX_WAKE.
type FutexWakeOperation struct {
	OperationBase
	addr    *uint32
	count   uint64
	mask    uint32
	private bool
}

// NewFutexWake constructs a futex-wake operation waking up to count
// waiters matching the default mask (FutexWakeAll for every waiter).
func NewFutexWake(r *Ring, addr *uint32, count uint32) *FutexWakeOperation {
	return &FutexWakeOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_FUTEX_WAKE),
		addr:          addr,
		count:         uint64(count),
		private:       true,
	}
}

// Mask restricts which waiters (by their own Mask) this wake reaches.
func (op *FutexWakeOperation) Mask(mask uint32) *FutexWakeOperation {
	op.mask = mask
	return op
}

// Shared marks the futex word as shared across processes.
func (op *FutexWakeOperation) Shared() *FutexWakeOperation {
	op.private = false
	return op
}

// Build implements Operation.
func (op *FutexWakeOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_FUTEX_WAKE)
	sqe.Fd = int32(futex2Flags(op.private))
	sqe.Addr = uint64(uintptr(unsafe.Pointer(op.addr)))
	sqe.Off = op.count
	mask := op.mask
	if mask == 0 {
		mask = sys.FUTEX_BITSET_MATCH_ANY
	}
	sqe.Addr3 = uint64(mask)
}

// Wait submits this operation and blocks for its completion, returning
// the number of waiters woken.
func (op *FutexWakeOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("futex_wake", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *FutexWakeOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("futex_wake", res)
	}
	return int(res), nil
}

// OnComplete submits this operation with the callback discipline.
func (op *FutexWakeOperation) OnComplete(fn func(woken int, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(0, resultError("futex_wake", res))
			return
		}
		fn(int(res), nil)
	})
}

// FutexWaitvEntry is one (addr, expected, flags) triple in a FutexWaitv
// batch. The slice this lives in must outlive the operation.
type FutexWaitvEntry struct {
	Addr     *uint32
	Expected uint32
	Private  bool
}

// FutexWaitvOperation submits IORING_OP_FUTEX_WAITV: wait on any of a set
// of futex words at once, waking on the first one that changes. entries
// (and every addr it points to) must be pinned by the caller for the
// operation's lifetime.
type FutexWaitvOperation struct {
	OperationBase
	entries []FutexWaitvEntry
	kernel  []sys.FutexWaitV
}

// NewFutexWaitv constructs a futex-waitv operation over entries.
func NewFutexWaitv(r *Ring, entries []FutexWaitvEntry) *FutexWaitvOperation {
	return &FutexWaitvOperation{OperationBase: newOperationBase(r, sys.IORING_OP_FUTEX_WAITV), entries: entries}
}

// Build implements Operation.
func (op *FutexWaitvOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_FUTEX_WAITV)
	op.kernel = make([]sys.FutexWaitV, len(op.entries))
	for i, e := range op.entries {
		op.kernel[i] = sys.FutexWaitV{
			Val:   uint64(e.Expected),
			Uaddr: uint64(uintptr(unsafe.Pointer(e.Addr))),
			Flags: futex2Flags(e.Private),
		}
	}
	sqe.Fd = 0
	if len(op.kernel) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.kernel[0])))
	}
	sqe.Len = uint32(len(op.kernel))
}

// Wait submits this operation and blocks for its completion, returning
// the index into entries of the waiter that was woken.
func (op *FutexWaitvOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("futex_waitv", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *FutexWaitvOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("futex_waitv", res)
	}
	return int(res), nil
}
