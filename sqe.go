//go:build linux

package iouxx

import (
	"sync/atomic"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// getSQE returns the next available submission slot, or nil if the local
// queue is full. The returned SQE is zeroed. Caller must hold sqLock.
func (r *Ring) getSQE() *sys.SQE {
	head := atomic.LoadUint32(r.sqHead)
	tail := atomic.LoadUint32(r.sqTail) + r.sqPending

	if tail-head >= r.sqEntries {
		return nil
	}

	idx := tail & r.sqMask
	sqe := &r.sqes[idx]
	sqe.Reset()

	r.sqArray[idx] = idx
	r.sqPending++

	return sqe
}

// GetSQE returns the next available submission slot, or nil if full.
// Exposed for operations that need direct slot access outside Submit, such
// as building a linked pair (an operation followed by its link-timeout).
func (r *Ring) GetSQE() *sys.SQE {
	r.sqLock.Lock()
	sqe := r.getSQE()
	r.sqLock.Unlock()
	return sqe
}

// setFlagsOnLastLocked ORs flags into the most recently acquired slot.
// Caller must hold sqLock.
func (r *Ring) setFlagsOnLastLocked(flags uint8) {
	if r.sqPending == 0 {
		return
	}
	tail := atomic.LoadUint32(r.sqTail) + r.sqPending - 1
	idx := tail & r.sqMask
	r.sqes[idx].Flags |= flags
}

// Submit builds op into the next free submission slot, stamps its identity
// as the slot's user_data, and flushes the local queue to the kernel.
// Per the build contract, Build must not block and must fully populate its
// slot; any fixed-file/fixed-buffer routing is the operation's own
// responsibility. Submit returns ErrNotSupported if the ring's cached
// probe (see ProbeSupported) reports the opcode unavailable, ErrQueueFull
// if no slot is free, and otherwise the kernel's io_uring_enter result.
func (r *Ring) Submit(op Operation) error {
	if r.closed.Load() {
		return ErrRingClosed
	}
	if !r.probe.SupportsOp(op.Opcode()) {
		return ErrNotSupported
	}

	r.sqLock.Lock()
	sqe := r.getSQE()
	if sqe == nil {
		r.sqLock.Unlock()
		return ErrQueueFull
	}
	op.Build(sqe)
	sqe.UserData = uint64(op.Identifier())
	r.sqLock.Unlock()

	_, err := r.submitBatch()
	return err
}

// SubmitLinked builds a chain of operations as a single linked SQE group:
// every operation but the last is flagged IOSQE_IO_LINK, so the kernel
// only starts op[i+1] once op[i] completes successfully. A failure
// partway through the chain cancels the remainder with ECANCELED.
func (r *Ring) SubmitLinked(ops ...Operation) error {
	if len(ops) == 0 {
		return nil
	}
	if r.closed.Load() {
		return ErrRingClosed
	}

	r.sqLock.Lock()
	for i, op := range ops {
		if !r.probe.SupportsOp(op.Opcode()) {
			r.sqLock.Unlock()
			return ErrNotSupported
		}
		sqe := r.getSQE()
		if sqe == nil {
			r.sqLock.Unlock()
			return ErrQueueFull
		}
		op.Build(sqe)
		sqe.UserData = uint64(op.Identifier())
		if i != len(ops)-1 {
			r.setFlagsOnLastLocked(sys.IOSQE_IO_LINK)
		}
	}
	r.sqLock.Unlock()

	_, err := r.submitBatch()
	return err
}
