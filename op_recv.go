//go:build linux

package iouxx

import (
	"context"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// RecvOperation submits IORING_OP_RECV. buf is pinned by the caller for
// the operation's lifetime.
type RecvOperation struct {
	OperationBase
	fd          int32
	fixedFd     bool
	buf         []byte
	flags       int32
	bufIndex    uint16
	useFixedBuf bool
}

// NewRecv constructs a recv operation against a plain socket fd.
func NewRecv(r *Ring, fd int32, buf []byte) *RecvOperation {
	return &RecvOperation{OperationBase: newOperationBase(r, sys.IORING_OP_RECV), fd: fd, buf: buf}
}

// FixedFile routes the recv through a fixed-table socket slot.
func (op *RecvOperation) FixedFile() *RecvOperation {
	op.fixedFd = true
	return op
}

// FixedBuffer routes the recv through a registered buffer slot.
func (op *RecvOperation) FixedBuffer(index uint16) *RecvOperation {
	op.useFixedBuf = true
	op.bufIndex = index
	return op
}

// MsgFlags sets raw recv(2)-style flags (e.g. unix.MSG_PEEK).
func (op *RecvOperation) MsgFlags(flags int32) *RecvOperation {
	op.flags = flags
	return op
}

// Build implements Operation.
func (op *RecvOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_RECV)
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
// the number of bytes received.
func (op *RecvOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("recv", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *RecvOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("recv", res)
	}
	return int(res), nil
}

// OnComplete submits this operation with the callback discipline.
func (op *RecvOperation) OnComplete(fn func(n int, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(0, resultError("recv", res))
			return
		}
		fn(int(res), nil)
	})
}

// RecvMultishotOperation submits IORING_OP_RECV with IORING_RECV_MULTISHOT,
// delivering repeated receives into a registered provided-buffer group
// until removed or errored. Only the callback discipline is legal.
type RecvMultishotOperation struct {
	OperationBase
	fd       int32
	fixedFd  bool
	flags    int32
	bufGroup uint16
}

// NewRecvMultishot constructs a multishot recv against a buffer group.
func NewRecvMultishot(r *Ring, fd int32, bufGroup uint16) *RecvMultishotOperation {
	return &RecvMultishotOperation{OperationBase: newOperationBase(r, sys.IORING_OP_RECV), fd: fd, bufGroup: bufGroup}
}

// FixedFile routes the recv through a fixed-table socket slot.
func (op *RecvMultishotOperation) FixedFile() *RecvMultishotOperation {
	op.fixedFd = true
	return op
}

// Build implements Operation.
func (op *RecvMultishotOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_RECV)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	sqe.Flags |= sys.IOSQE_BUFFER_SELECT
	sqe.Ioprio |= sys.IORING_RECV_MULTISHOT
	sqe.SetBufGroup(op.bufGroup)
	sqe.OpFlags = uint32(op.flags)
}

// OnComplete submits this operation with the callback discipline; fn
// receives one MultiShot item per buffer filled.
func (op *RecvMultishotOperation) OnComplete(fn func(m MultiShot[BufferSelection])) error {
	return submitCallback(op.Ring(), op, func(res int32, flags uint32) {
		more := flags&sys.IORING_CQE_F_MORE != 0
		if res < 0 {
			fn(MultiShot[BufferSelection]{Err: resultError("recv_multishot", res), More: more})
			return
		}
		sel := BufferSelection{BufID: uint16(flags >> 16), N: int(res)}
		fn(MultiShot[BufferSelection]{Item: sel, More: more})
	})
}

// RecvMsgOperation submits IORING_OP_RECVMSG. msg (and everything it
// points to) must be pinned by the caller for the operation's lifetime.
type RecvMsgOperation struct {
	OperationBase
	fd      int32
	fixedFd bool
	msg     *unix.Msghdr
	flags   int32
}

// NewRecvMsg constructs a recvmsg operation.
func NewRecvMsg(r *Ring, fd int32, msg *unix.Msghdr) *RecvMsgOperation {
	return &RecvMsgOperation{OperationBase: newOperationBase(r, sys.IORING_OP_RECVMSG), fd: fd, msg: msg}
}

// FixedFile routes the recvmsg through a fixed-table socket slot.
func (op *RecvMsgOperation) FixedFile() *RecvMsgOperation {
	op.fixedFd = true
	return op
}

// MsgFlags sets raw recvmsg(2)-style flags.
func (op *RecvMsgOperation) MsgFlags(flags int32) *RecvMsgOperation {
	op.flags = flags
	return op
}

// Build implements Operation.
func (op *RecvMsgOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_RECVMSG)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	sqe.Addr = uint64(uintptr(unsafe.Pointer(op.msg)))
	sqe.Len = 1
	sqe.OpFlags = uint32(op.flags)
}

// Wait submits this operation and blocks for its completion, returning
// the number of bytes received.
func (op *RecvMsgOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("recvmsg", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *RecvMsgOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("recvmsg", res)
	}
	return int(res), nil
}
