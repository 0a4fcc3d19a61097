//go:build linux

package iouxx

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// TimeoutOperation submits IORING_OP_TIMEOUT: a pure timer, optionally
// also satisfied early by a count of other completions arriving first
// (count > 0), and optionally repeating (multishot).
//
// ts is pinned by the caller for the operation's lifetime, matching the
// "operation object pinned until completion" invariant: its address is
// handed to the kernel and must remain valid until the final completion.
type TimeoutOperation struct {
	OperationBase
	ts    Timespec
	count uint64
	flags uint32
}

// NewTimeout constructs a relative, monotonic-clock, one-shot timeout.
func NewTimeout(r *Ring, d Timespec) *TimeoutOperation {
	return &TimeoutOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_TIMEOUT),
		ts:            d,
	}
}

// Absolute marks ts as an absolute deadline rather than a relative delay.
func (op *TimeoutOperation) Absolute() *TimeoutOperation {
	op.flags |= sys.IORING_TIMEOUT_ABS
	return op
}

// Clock selects which kernel clock ts is measured against.
func (op *TimeoutOperation) Clock(c Clock) *TimeoutOperation {
	op.flags |= c.flag()
	return op
}

// CompletionCount lets the timeout also fire once n other completions on
// this ring have been posted, whichever happens first.
func (op *TimeoutOperation) CompletionCount(n uint64) *TimeoutOperation {
	op.count = n
	return op
}

// Multishot makes the timeout repeat at interval ts indefinitely until
// removed, each firing producing a MultiShot completion with More true.
func (op *TimeoutOperation) Multishot() *TimeoutOperation {
	op.flags |= sys.IORING_TIMEOUT_MULTISHOT
	return op
}

// ETimeSuccess makes the ordinary (non-early, non-canceled) expiry of the
// timeout report success (0) instead of -ETIME.
func (op *TimeoutOperation) ETimeSuccess() *TimeoutOperation {
	op.flags |= sys.IORING_TIMEOUT_ETIME_SUCCESS
	return op
}

// Build implements Operation.
func (op *TimeoutOperation) Build(sqe *sys.SQE) {
	if op.flags&sys.IORING_TIMEOUT_ABS != 0 && op.flags&sys.IORING_TIMEOUT_MULTISHOT != 0 {
		panic(fmt.Errorf("iouxx: timeout cannot combine Absolute with Multishot: an absolute deadline has no recurrence base to repeat from"))
	}
	sqe.Opcode = uint8(sys.IORING_OP_TIMEOUT)
	sqe.Fd = -1
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.ts)))
	sqe.Len = 1
	sqe.Off = op.count
	sqe.OpFlags = op.flags
}

// timeoutErr treats the ordinary, non-early expiry result (-ETIME) as
// success unless ETimeSuccess made the kernel report it as 0 directly;
// any other negative result (e.g. -ECANCELED from TimeoutRemove) is
// surfaced as-is. An early satisfaction via CompletionCount completes
// with 0 and is success.
func timeoutErr(res int32) error {
	if res == -int32(unix.ETIME) {
		return nil
	}
	return resultError("timeout", res)
}

// OnComplete submits this operation with the callback discipline; fn is
// invoked once per firing (more than once only if Multishot was set).
func (op *TimeoutOperation) OnComplete(fn func(m MultiShot[struct{}])) error {
	return submitCallback(op.Ring(), op, func(res int32, flags uint32) {
		more := flags&sys.IORING_CQE_F_MORE != 0
		fn(MultiShot[struct{}]{Err: timeoutErr(res), More: more})
	})
}

// Wait submits a one-shot timeout and blocks until it fires or is
// satisfied early by CompletionCount.
func (op *TimeoutOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return timeoutErr(res)
}

// Await submits a one-shot timeout and suspends until it fires, is
// satisfied early, or ctx is done.
func (op *TimeoutOperation) Await(ctx context.Context) error {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return err
	}
	return timeoutErr(res)
}

// TimeoutRemoveOperation submits IORING_OP_TIMEOUT_REMOVE, canceling a
// previously submitted timeout (one-shot or multishot) by identifier.
type TimeoutRemoveOperation struct {
	OperationBase
	targetID uintptr
}

// NewTimeoutRemove constructs a timeout-remove targeting target.
func NewTimeoutRemove(r *Ring, target *TimeoutOperation) *TimeoutRemoveOperation {
	return &TimeoutRemoveOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_TIMEOUT_REMOVE),
		targetID:      target.Identifier(),
	}
}

// Build implements Operation.
func (op *TimeoutRemoveOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_TIMEOUT_REMOVE)
	sqe.Fd = -1
	sqe.Addr = uint64(op.targetID)
}

// Wait submits this operation and blocks for its completion.
func (op *TimeoutRemoveOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("timeout_remove", res)
}

// LinkTimeoutOperation submits IORING_OP_LINK_TIMEOUT. It must be
// submitted as the second half of a linked pair via Ring.SubmitLinked,
// immediately after the operation it bounds; if the preceding operation
// hasn't completed by ts, the kernel cancels it.
type LinkTimeoutOperation struct {
	OperationBase
	ts    Timespec
	flags uint32
}

// NewLinkTimeout constructs a link-timeout bounding the previous operation
// in a Ring.SubmitLinked chain.
func NewLinkTimeout(r *Ring, d Timespec) *LinkTimeoutOperation {
	return &LinkTimeoutOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_LINK_TIMEOUT),
		ts:            d,
	}
}

// Absolute marks ts as an absolute deadline rather than a relative delay.
func (op *LinkTimeoutOperation) Absolute() *LinkTimeoutOperation {
	op.flags |= sys.IORING_TIMEOUT_ABS
	return op
}

// Build implements Operation.
func (op *LinkTimeoutOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_LINK_TIMEOUT)
	sqe.Fd = -1
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.ts)))
	sqe.Len = 1
	sqe.OpFlags = op.flags
}
