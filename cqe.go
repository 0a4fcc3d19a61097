//go:build linux

package iouxx

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

const identifierTagMask = uint64(0x7)

// dispatchCQE routes one raw completion to its destination: an ordinary
// operation's bound dispatch closure (tag bits 000), or a fixed-file/
// fixed-buffer teardown notice (tag bits 001/010). See OperationBase and
// unregisterNotice for why the tag bits are safe to steal from an
// otherwise 8-byte-aligned Go pointer.
func (r *Ring) dispatchCQE(cqe *sys.CQE) {
	switch fixedResourceKind(cqe.UserData & identifierTagMask) {
	case fixedKindFile:
		r.dispatchUnregister(r.fixedFiles, cqe.UserData)
	case fixedKindBuffer:
		r.dispatchUnregister(r.fixedBuffers, cqe.UserData)
	default:
		base := kernelIdentifier(cqe.UserData)
		if base.dispatch != nil {
			base.dispatch(cqe.Res, cqe.Flags)
		}
	}
}

func (r *Ring) dispatchUnregister(table *fixedTable, raw uint64) {
	if table == nil {
		return
	}
	ptr := uintptr(raw &^ identifierTagMask)
	notice := (*unregisterNotice)(unsafe.Pointer(ptr))
	table.completeUnregister(notice)
}

// PeekCQE returns the next completion queue entry without blocking.
// Does not advance the head; call SeenCQE once processing is done.
func (r *Ring) PeekCQE() (cqe sys.CQE, ok bool) {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	if head == tail {
		return sys.CQE{}, false
	}
	return r.cqes[head&r.cqMask], true
}

// SeenCQE advances the CQ head by one, marking the current CQE consumed.
func (r *Ring) SeenCQE() { r.SeenCQEs(1) }

// SeenCQEs advances the CQ head by n entries.
func (r *Ring) SeenCQEs(n uint32) {
	head := atomic.LoadUint32(r.cqHead)
	atomic.StoreUint32(r.cqHead, head+n)
}

// CQOverflow returns the number of CQE overflows (dropped completions).
func (r *Ring) CQOverflow() uint32 { return atomic.LoadUint32(r.cqOverflow) }

// DrainReady routes and acknowledges every completion currently available
// without blocking or making a syscall. Returns the number dispatched.
func (r *Ring) DrainReady() int {
	n := 0
	for {
		cqe, ok := r.PeekCQE()
		if !ok {
			return n
		}
		r.dispatchCQE(&cqe)
		r.SeenCQE()
		n++
	}
}

// RunOnce submits any locally queued SQEs, blocks until at least one
// completion is available, and routes everything that is ready. This is
// the drain loop that actually makes progress on the callback, sync-wait,
// and task-await disciplines alike; none of Submit/OnComplete/Wait/Await
// drive the ring on their own.
func (r *Ring) RunOnce() (int, error) {
	if r.closed.Load() {
		return 0, ErrRingClosed
	}
	if _, err := r.SubmitAndWait(1); err != nil {
		return 0, err
	}
	return r.DrainReady(), nil
}

// RunOnceTimeout is RunOnce bounded by a relative timeout, using
// IORING_ENTER_EXT_ARG when the kernel supports it and falling back to
// short-interval polling otherwise. Returns unix.ETIME if the deadline
// elapses with nothing to dispatch.
func (r *Ring) RunOnceTimeout(timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, ErrRingClosed
	}

	if n := r.DrainReady(); n > 0 {
		return n, nil
	}

	if !r.HasFeature(sys.IORING_FEAT_EXT_ARG) {
		return r.runOnceTimeoutPoll(timeout)
	}

	ts := Timespec{Sec: int64(timeout / time.Second), Nsec: int64(timeout % time.Second)}
	arg := sys.GetEventsArg{Ts: uint64(uintptr(unsafe.Pointer(&ts)))}

	r.sqLock.Lock()
	submitted := r.flushLocked()
	r.sqLock.Unlock()

	if _, err := sys.EnterExt(r.fd, submitted, 1, sys.IORING_ENTER_GETEVENTS, &arg); err != nil {
		return 0, err
	}
	n := r.DrainReady()
	if n == 0 {
		return 0, unix.ETIME
	}
	return n, nil
}

func (r *Ring) runOnceTimeoutPoll(timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		if n := r.DrainReady(); n > 0 {
			return n, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, unix.ETIME
		}
		step := remaining
		if step > 10*time.Millisecond {
			step = 10 * time.Millisecond
		}
		if _, err := r.SubmitAndWait(0); err != nil && err != unix.EINTR {
			return 0, err
		}
		time.Sleep(step)
	}
}

// Run drives RunOnceTimeout, in 100ms slices, in a loop until ctx is
// canceled or the ring closes.
// Intended to be started in its own goroutine as the single completion
// pump for a program built on the callback, sync-wait, or task-await
// disciplines.
func (r *Ring) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := r.RunOnceTimeout(100 * time.Millisecond); err != nil {
			if err == unix.ETIME {
				continue
			}
			if err == ErrRingClosed {
				return nil
			}
			return err
		}
	}
}
