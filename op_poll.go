//go:build linux

package iouxx

import (
	"context"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// PollAddOperation submits IORING_OP_POLL_ADD: a one-shot poll against a
// descriptor's readiness mask.
type PollAddOperation struct {
	OperationBase
	fd      int32
	fixedFd bool
	events  uint32
	level   bool
}

// NewPollAdd constructs a poll-add operation. events is a standard
// poll(2) event mask (unix.POLLIN, unix.POLLOUT, ...).
func NewPollAdd(r *Ring, fd int32, events uint32) *PollAddOperation {
	return &PollAddOperation{OperationBase: newOperationBase(r, sys.IORING_OP_POLL_ADD), fd: fd, events: events}
}

// FixedFile routes the poll through a fixed-table file slot.
func (op *PollAddOperation) FixedFile() *PollAddOperation {
	op.fixedFd = true
	return op
}

// LevelTriggered requests level-triggered rather than edge-triggered
// delivery (IORING_POLL_ADD_LEVEL) for this one-shot poll.
func (op *PollAddOperation) LevelTriggered() *PollAddOperation {
	op.level = true
	return op
}

// Build implements Operation.
func (op *PollAddOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_POLL_ADD)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	if op.level {
		sqe.Len |= sys.IORING_POLL_ADD_LEVEL
	}
	sqe.OpFlags = op.events
}

// Wait submits this operation and blocks for its completion, returning
// the event mask that fired.
func (op *PollAddOperation) Wait() (uint32, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("poll_add", res)
	}
	return uint32(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *PollAddOperation) Await(ctx context.Context) (uint32, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("poll_add", res)
	}
	return uint32(res), nil
}

// OnComplete submits this operation with the callback discipline.
func (op *PollAddOperation) OnComplete(fn func(events uint32, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(0, resultError("poll_add", res))
			return
		}
		fn(uint32(res), nil)
	})
}

// PollAddMultishotOperation submits IORING_OP_POLL_ADD with
// IORING_POLL_ADD_MULTI: repeated firings of the same poll until removed.
// Only the callback discipline is legal: a sync wait or task await would
// only ever observe the first firing and leak the rest.
type PollAddMultishotOperation struct {
	OperationBase
	fd      int32
	fixedFd bool
	events  uint32
	level   bool
}

// NewPollAddMultishot constructs a multishot poll.
func NewPollAddMultishot(r *Ring, fd int32, events uint32) *PollAddMultishotOperation {
	return &PollAddMultishotOperation{OperationBase: newOperationBase(r, sys.IORING_OP_POLL_ADD), fd: fd, events: events}
}

// FixedFile routes the poll through a fixed-table file slot.
func (op *PollAddMultishotOperation) FixedFile() *PollAddMultishotOperation {
	op.fixedFd = true
	return op
}

// LevelTriggered requests level-triggered delivery.
func (op *PollAddMultishotOperation) LevelTriggered() *PollAddMultishotOperation {
	op.level = true
	return op
}

// Build implements Operation.
func (op *PollAddMultishotOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_POLL_ADD)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	sqe.Len = sys.IORING_POLL_ADD_MULTI
	if op.level {
		sqe.Len |= sys.IORING_POLL_ADD_LEVEL
	}
	sqe.OpFlags = op.events
}

// OnComplete submits this operation with the callback discipline; fn runs
// once per firing.
func (op *PollAddMultishotOperation) OnComplete(fn func(m MultiShot[uint32])) error {
	return submitCallback(op.Ring(), op, func(res int32, flags uint32) {
		more := flags&sys.IORING_CQE_F_MORE != 0
		if res < 0 {
			fn(MultiShot[uint32]{Err: resultError("poll_add_multishot", res), More: more})
			return
		}
		fn(MultiShot[uint32]{Item: uint32(res), More: more})
	})
}

// PollUpdateOperation submits IORING_OP_POLL_REMOVE in its update form:
// it changes a live poll's event mask in place, without the gap a
// remove-then-readd would have. The poll's user-data is left unchanged.
type PollUpdateOperation struct {
	OperationBase
	targetID   uintptr
	newEvents  uint32
	updateMask bool
}

// NewPollUpdate constructs a poll-update operation targeting target.
func NewPollUpdate(r *Ring, target *PollAddMultishotOperation) *PollUpdateOperation {
	return &PollUpdateOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_POLL_REMOVE),
		targetID:      target.Identifier(),
	}
}

// Events changes the target's event mask.
func (op *PollUpdateOperation) Events(events uint32) *PollUpdateOperation {
	op.newEvents = events
	op.updateMask = true
	return op
}

// Build implements Operation.
func (op *PollUpdateOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_POLL_REMOVE)
	sqe.Fd = -1
	sqe.Addr = uint64(op.targetID)
	sqe.Off = uint64(op.targetID) // keep the same identifier; user-data is unchanged
	flags := uint32(sys.IORING_POLL_UPDATE_USER_DATA)
	if op.updateMask {
		flags |= sys.IORING_POLL_UPDATE_EVENTS
		sqe.OpFlags = op.newEvents
	}
	sqe.Len = flags
}

// Wait submits this operation and blocks for its completion.
func (op *PollUpdateOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("poll_update", res)
}

// PollRemoveOperation submits IORING_OP_POLL_REMOVE, canceling a
// previously submitted poll (one-shot or multishot) by identifier.
type PollRemoveOperation struct {
	OperationBase
	targetID uintptr
}

// NewPollRemove constructs a poll-remove operation targeting target.
func NewPollRemove(r *Ring, target Operation) *PollRemoveOperation {
	return &PollRemoveOperation{OperationBase: newOperationBase(r, sys.IORING_OP_POLL_REMOVE), targetID: target.Identifier()}
}

// Build implements Operation.
func (op *PollRemoveOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_POLL_REMOVE)
	sqe.Fd = -1
	sqe.Addr = uint64(op.targetID)
}

// Wait submits this operation and blocks for its completion.
func (op *PollRemoveOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("poll_remove", res)
}
