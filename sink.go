//go:build linux

package iouxx

import (
	"context"
)

// bindable is satisfied by any Operation, via its embedded OperationBase's
// promoted (unexported, package-private) bind method.
type bindable interface {
	bind(fn func(res int32, flags uint32))
}

// latch is the primitive behind the sync-wait discipline: a single-shot,
// reusable-after-drain rendezvous between a completion callback running on
// whatever goroutine drains the ring and a caller blocked waiting for it.
type latch struct {
	done  chan struct{}
	res   int32
	flags uint32
}

func newLatch() *latch {
	return &latch{done: make(chan struct{})}
}

func (l *latch) complete(res int32, flags uint32) {
	l.res, l.flags = res, flags
	close(l.done)
}

func (l *latch) wait() (int32, uint32) {
	<-l.done
	return l.res, l.flags
}

func (l *latch) waitContext(ctx context.Context) (int32, uint32, error) {
	select {
	case <-l.done:
		return l.res, l.flags, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// submitCallback is the callback (fire-and-forget) completion discipline:
// the caller's function runs whenever the ring's drain loop reaches this
// operation's completion, on the draining goroutine.
func submitCallback(r *Ring, op Operation, fn func(res int32, flags uint32)) error {
	op.(bindable).bind(fn)
	return r.Submit(op)
}

// submitSync is the sync-wait completion discipline: Submit, then block the
// calling goroutine until this operation's completion is drained. Requires
// something to be driving the ring's completion queue (typically the
// caller itself, via Ring.Run in another goroutine, or a prior
// SubmitAndWait loop); submitSync does not drive the ring on its own.
func submitSync(r *Ring, op Operation) (int32, uint32, error) {
	l := newLatch()
	op.(bindable).bind(l.complete)
	if err := r.Submit(op); err != nil {
		return 0, 0, err
	}
	res, flags := l.wait()
	return res, flags, nil
}

// submitAwait is the task-await completion discipline: Submit, then
// suspend the calling goroutine on a channel until completion or context
// cancellation. If ctx is canceled first, submitAwait issues an
// async-cancel targeting this operation's identifier (its cancellation
// landing pad) and waits for the kernel's ECANCELED completion before
// returning ctx.Err(), so the operation's memory is never freed while the
// kernel might still write into it.
func submitAwait(ctx context.Context, r *Ring, op Operation) (int32, uint32, error) {
	l := newLatch()
	op.(bindable).bind(l.complete)
	if err := r.Submit(op); err != nil {
		return 0, 0, err
	}

	res, flags, err := l.waitContext(ctx)
	if err == nil {
		return res, flags, nil
	}

	cancel := newCancelByIDOperation(r, op.Identifier())
	cl := newLatch()
	cancel.bind(cl.complete)
	if subErr := r.Submit(cancel); subErr == nil {
		cl.wait()
	}
	res, flags = l.wait()
	return res, flags, err
}
