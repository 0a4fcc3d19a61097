//go:build linux

package iouxx

import (
	"context"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// NopOperation submits IORING_OP_NOP: no I/O, just a round trip through
// the ring. Useful for probing a ring's liveness, waking an SQPOLL thread,
// or as a harness for exercising the three completion disciplines without
// any kernel resource involved.
type NopOperation struct {
	OperationBase
}

// NewNop constructs a no-op operation against r.
func NewNop(r *Ring) *NopOperation {
	return &NopOperation{OperationBase: newOperationBase(r, sys.IORING_OP_NOP)}
}

// Build implements Operation.
func (op *NopOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_NOP)
	sqe.Fd = -1
}

// OnComplete submits this operation with the callback discipline.
func (op *NopOperation) OnComplete(fn func(err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		fn(resultError("nop", res))
	})
}

// Wait submits this operation and blocks for its completion.
func (op *NopOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("nop", res)
}

// Await submits this operation and suspends until completion or ctx done.
func (op *NopOperation) Await(ctx context.Context) error {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("nop", res)
}
