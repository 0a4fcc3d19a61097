//go:build linux

package iouxx

import (
	"context"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// SendOperation submits IORING_OP_SEND. buf is pinned by the caller for
// the operation's lifetime.
type SendOperation struct {
	OperationBase
	fd          int32
	fixedFd     bool
	buf         []byte
	flags       int32
	bufIndex    uint16
	useFixedBuf bool
}

// NewSend constructs a send operation against a plain socket fd.
func NewSend(r *Ring, fd int32, buf []byte) *SendOperation {
	return &SendOperation{OperationBase: newOperationBase(r, sys.IORING_OP_SEND), fd: fd, buf: buf}
}

// FixedFile routes the send through a fixed-table socket slot.
func (op *SendOperation) FixedFile() *SendOperation {
	op.fixedFd = true
	return op
}

// FixedBuffer routes the send through a registered buffer slot.
func (op *SendOperation) FixedBuffer(index uint16) *SendOperation {
	op.useFixedBuf = true
	op.bufIndex = index
	return op
}

// MsgFlags sets raw send(2)-style flags (e.g. unix.MSG_MORE).
func (op *SendOperation) MsgFlags(flags int32) *SendOperation {
	op.flags = flags
	return op
}

// Build implements Operation.
func (op *SendOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_SEND)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	if len(op.buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
	}
	sqe.Len = uint32(len(op.buf))
	sqe.OpFlags = uint32(op.flags)
	if op.useFixedBuf {
		sqe.Ioprio |= sys.IORING_RECVSEND_FIXED_BUF
		sqe.BufIndex = op.bufIndex
	}
}

// Wait submits this operation and blocks for its completion, returning
// the number of bytes queued.
func (op *SendOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("send", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *SendOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("send", res)
	}
	return int(res), nil
}

// OnComplete submits this operation with the callback discipline.
func (op *SendOperation) OnComplete(fn func(n int, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(0, resultError("send", res))
			return
		}
		fn(int(res), nil)
	})
}

// SendZCOperation submits IORING_OP_SEND_ZC: the kernel retains a
// reference to buf until it issues the buffer-release notification, so
// buf must stay pinned and unmodified across the whole event stream, not
// just until the data completion. Only the callback discipline is legal:
// the event stream has more than one completion to hand back.
type SendZCOperation struct {
	OperationBase
	fd          int32
	fixedFd     bool
	buf         []byte
	flags       int32
	bufIndex    uint16
	useFixedBuf bool
}

// NewSendZC constructs a zero-copy send operation.
func NewSendZC(r *Ring, fd int32, buf []byte) *SendZCOperation {
	return &SendZCOperation{OperationBase: newOperationBase(r, sys.IORING_OP_SEND_ZC), fd: fd, buf: buf}
}

// FixedFile routes the send through a fixed-table socket slot.
func (op *SendZCOperation) FixedFile() *SendZCOperation {
	op.fixedFd = true
	return op
}

// FixedBuffer routes the send through a registered buffer slot, letting
// the kernel skip pinning buf itself.
func (op *SendZCOperation) FixedBuffer(index uint16) *SendZCOperation {
	op.useFixedBuf = true
	op.bufIndex = index
	return op
}

// Build implements Operation.
func (op *SendZCOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_SEND_ZC)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	if len(op.buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
	}
	sqe.Len = uint32(len(op.buf))
	sqe.OpFlags = uint32(op.flags)
	if op.useFixedBuf {
		sqe.Ioprio |= sys.IORING_RECVSEND_FIXED_BUF
		sqe.BufIndex = op.bufIndex
	}
}

// OnComplete submits this operation with the callback discipline; fn runs
// once per event in the interleaved data/notification stream: a
// kernel-dependent but finite count of ZeroCopyData completions, always
// followed by exactly one ZeroCopyNotification.
func (op *SendZCOperation) OnComplete(fn func(ev ZeroCopyEvent)) error {
	return submitCallback(op.Ring(), op, func(res int32, flags uint32) {
		more := flags&sys.IORING_CQE_F_MORE != 0
		kind := ZeroCopyData
		if flags&sys.IORING_CQE_F_NOTIF != 0 {
			kind = ZeroCopyNotification
		}
		if res < 0 {
			fn(ZeroCopyEvent{Kind: kind, Err: resultError("send_zc", res), More: more})
			return
		}
		fn(ZeroCopyEvent{Kind: kind, N: res, More: more})
	})
}

// SendMsgOperation submits IORING_OP_SENDMSG. msg (and everything it
// points to: iovecs, their backing buffers, control/name) must be pinned
// by the caller for the operation's lifetime.
type SendMsgOperation struct {
	OperationBase
	fd      int32
	fixedFd bool
	msg     *unix.Msghdr
	flags   int32
}

// NewSendMsg constructs a sendmsg operation.
func NewSendMsg(r *Ring, fd int32, msg *unix.Msghdr) *SendMsgOperation {
	return &SendMsgOperation{OperationBase: newOperationBase(r, sys.IORING_OP_SENDMSG), fd: fd, msg: msg}
}

// FixedFile routes the sendmsg through a fixed-table socket slot.
func (op *SendMsgOperation) FixedFile() *SendMsgOperation {
	op.fixedFd = true
	return op
}

// MsgFlags sets raw sendmsg(2)-style flags.
func (op *SendMsgOperation) MsgFlags(flags int32) *SendMsgOperation {
	op.flags = flags
	return op
}

// Build implements Operation.
func (op *SendMsgOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_SENDMSG)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	sqe.Addr = uint64(uintptr(unsafe.Pointer(op.msg)))
	sqe.Len = 1
	sqe.OpFlags = uint32(op.flags)
}

// Wait submits this operation and blocks for its completion, returning
// the number of bytes queued.
func (op *SendMsgOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("sendmsg", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *SendMsgOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("sendmsg", res)
	}
	return int(res), nil
}

// SendMsgZCOperation submits IORING_OP_SENDMSG_ZC, sendmsg's zero-copy
// counterpart: same interleaved data/notification stream as SendZC.
type SendMsgZCOperation struct {
	OperationBase
	fd      int32
	fixedFd bool
	msg     *unix.Msghdr
	flags   int32
}

// NewSendMsgZC constructs a zero-copy sendmsg operation.
func NewSendMsgZC(r *Ring, fd int32, msg *unix.Msghdr) *SendMsgZCOperation {
	return &SendMsgZCOperation{OperationBase: newOperationBase(r, sys.IORING_OP_SENDMSG_ZC), fd: fd, msg: msg}
}

// FixedFile routes the sendmsg through a fixed-table socket slot.
func (op *SendMsgZCOperation) FixedFile() *SendMsgZCOperation {
	op.fixedFd = true
	return op
}

// Build implements Operation.
func (op *SendMsgZCOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_SENDMSG_ZC)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	sqe.Addr = uint64(uintptr(unsafe.Pointer(op.msg)))
	sqe.Len = 1
	sqe.OpFlags = uint32(op.flags)
}

// OnComplete submits this operation with the callback discipline; fn runs
// once per event in the interleaved data/notification stream.
func (op *SendMsgZCOperation) OnComplete(fn func(ev ZeroCopyEvent)) error {
	return submitCallback(op.Ring(), op, func(res int32, flags uint32) {
		more := flags&sys.IORING_CQE_F_MORE != 0
		kind := ZeroCopyData
		if flags&sys.IORING_CQE_F_NOTIF != 0 {
			kind = ZeroCopyNotification
		}
		if res < 0 {
			fn(ZeroCopyEvent{Kind: kind, Err: resultError("sendmsg_zc", res), More: more})
			return
		}
		fn(ZeroCopyEvent{Kind: kind, N: res, More: more})
	})
}
