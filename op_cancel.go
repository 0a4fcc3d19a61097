//go:build linux

package iouxx

import (
	"context"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// CancelOperation submits IORING_OP_ASYNC_CANCEL against another
// operation's identifier. Its own completion carries a non-negative
// result, which Wait returns as a count, if the cancel found something
// still in flight, or a kernel error (commonly -ENOENT) if it didn't. The
// canceled target completes separately, typically with -ECANCELED.
type CancelOperation struct {
	OperationBase
	targetID uintptr
	flags    uint32
}

// NewCancel constructs a cancel-by-identifier operation targeting target.
func NewCancel(r *Ring, target Operation) *CancelOperation {
	return &CancelOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_ASYNC_CANCEL),
		targetID:      target.Identifier(),
	}
}

// newCancelByIDOperation is the internal constructor sink.go's task-await
// discipline uses for the cancellation landing pad, taking a raw
// identifier instead of a live Operation value (the original operation's
// interface value may not be in scope at the cancellation site).
func newCancelByIDOperation(r *Ring, targetID uintptr) *CancelOperation {
	return &CancelOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_ASYNC_CANCEL),
		targetID:      targetID,
	}
}

// All asks the kernel to cancel every in-flight operation matching the
// target, not just the first one found (IORING_ASYNC_CANCEL_ALL).
func (op *CancelOperation) All() *CancelOperation {
	op.flags |= sys.IORING_ASYNC_CANCEL_ALL
	return op
}

// Build implements Operation.
func (op *CancelOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_ASYNC_CANCEL)
	sqe.Fd = -1
	sqe.Addr = uint64(op.targetID)
	sqe.OpFlags = op.flags
}

// OnComplete submits this operation with the callback discipline.
func (op *CancelOperation) OnComplete(fn func(canceled int, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(0, resultError("cancel", res))
			return
		}
		fn(int(res), nil)
	})
}

// Wait submits this operation and blocks for its completion.
func (op *CancelOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("cancel", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *CancelOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("cancel", res)
	}
	return int(res), nil
}

// CancelFDOperation submits IORING_OP_ASYNC_CANCEL against every
// operation still in flight on a given file descriptor, used when an fd
// is about to be closed and any pending reads/writes/polls on it need to
// be unwound first.
type CancelFDOperation struct {
	OperationBase
	fd      int32
	fixed   bool
	flags   uint32
}

// NewCancelFD constructs a cancel-by-fd operation.
func NewCancelFD(r *Ring, fd int32, fixed bool) *CancelFDOperation {
	flags := sys.IORING_ASYNC_CANCEL_FD
	if fixed {
		flags |= sys.IORING_ASYNC_CANCEL_FD_FIXED
	}
	return &CancelFDOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_ASYNC_CANCEL),
		fd:            fd,
		fixed:         fixed,
		flags:         flags,
	}
}

// All asks the kernel to cancel every matching operation on the fd.
func (op *CancelFDOperation) All() *CancelFDOperation {
	op.flags |= sys.IORING_ASYNC_CANCEL_ALL
	return op
}

// Build implements Operation.
func (op *CancelFDOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_ASYNC_CANCEL)
	sqe.Fd = op.fd
	sqe.OpFlags = op.flags
	if op.fixed {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
}

// Wait submits this operation and blocks for its completion.
func (op *CancelFDOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("cancel_fd", res)
	}
	return int(res), nil
}
