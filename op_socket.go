//go:build linux

package iouxx

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// SocketOperation submits IORING_OP_SOCKET, the io_uring-native replacement
// for a bare socket(2) syscall.
type SocketOperation struct {
	OperationBase
	domain, typ, protocol int32
	flags                 uint32
	asDirect              bool
	directIndex           int32
}

// NewSocket constructs a socket operation yielding a process fd.
func NewSocket(r *Ring, domain, typ, protocol int32) *SocketOperation {
	return &SocketOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_SOCKET),
		domain:        domain,
		typ:           typ,
		protocol:      protocol,
	}
}

// Direct makes the socket install directly into the ring's fixed file
// table. index == -1 requests the kernel allocate a free slot; the result
// is then the allocated slot index rather than a process fd.
func (op *SocketOperation) Direct(index int32) *SocketOperation {
	op.asDirect = true
	op.directIndex = index
	return op
}

// Build implements Operation.
func (op *SocketOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_SOCKET)
	sqe.Fd = op.domain
	sqe.Len = uint32(op.protocol)
	sqe.Off = uint64(uint32(op.typ))
	sqe.OpFlags = op.flags
	if op.asDirect {
		idx := int32(sys.IORING_FILE_INDEX_ALLOC)
		if op.directIndex >= 0 {
			idx = op.directIndex + 1 // file_index carries slot+1
		}
		sqe.SetFileIndex(idx)
	}
}

// Wait submits this operation and blocks for its completion.
func (op *SocketOperation) Wait() (Socket, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return Socket{}, err
	}
	if res < 0 {
		return Socket{}, resultError("socket", res)
	}
	return Socket{fd: res}, nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *SocketOperation) Await(ctx context.Context) (Socket, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return Socket{}, err
	}
	if res < 0 {
		return Socket{}, resultError("socket", res)
	}
	return Socket{fd: res}, nil
}

// OnComplete submits this operation with the callback discipline.
func (op *SocketOperation) OnComplete(fn func(s Socket, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(Socket{}, resultError("socket", res))
			return
		}
		fn(Socket{fd: res}, nil)
	})
}

// ShutdownOperation submits IORING_OP_SHUTDOWN.
type ShutdownOperation struct {
	OperationBase
	fd  int32
	how int32
}

// NewShutdown constructs a shutdown operation. how is one of
// unix.SHUT_RD, unix.SHUT_WR, unix.SHUT_RDWR.
func NewShutdown(r *Ring, fd int32, how int32) *ShutdownOperation {
	return &ShutdownOperation{OperationBase: newOperationBase(r, sys.IORING_OP_SHUTDOWN), fd: fd, how: how}
}

// Build implements Operation.
func (op *ShutdownOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_SHUTDOWN)
	sqe.Fd = op.fd
	sqe.Len = uint32(op.how)
}

// Wait submits this operation and blocks for its completion.
func (op *ShutdownOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("shutdown", res)
}

// BindOperation submits IORING_OP_BIND (kernel 6.11+; ErrNotSupported on
// older kernels via the feature probe). peer's family must match the
// socket's own family; this is asserted at submission time.
type BindOperation struct {
	OperationBase
	fd      int32
	peer    PeerInfo
	addrBuf []byte
}

// NewBind constructs a bind operation.
func NewBind(r *Ring, fd int32, peer PeerInfo) *BindOperation {
	return &BindOperation{OperationBase: newOperationBase(r, sys.IORING_OP_BIND), fd: fd, peer: peer}
}

// Build implements Operation.
func (op *BindOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_BIND)
	sqe.Fd = op.fd
	buf, err := op.peer.sockaddrStorage()
	if err != nil {
		panic(err) // programmer error: wrong/unspecified address family at submission
	}
	if domain, derr := unix.GetsockoptInt(int(op.fd), unix.SOL_SOCKET, unix.SO_DOMAIN); derr == nil {
		if family := int(*(*uint16)(unsafe.Pointer(&buf[0]))); family != domain {
			panic(fmt.Sprintf("iouxx: bind: address family %d does not match socket domain %d", family, domain))
		}
	}
	op.addrBuf = buf
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.addrBuf[0])))
	sqe.Off = uint64(len(op.addrBuf))
}

// Wait submits this operation and blocks for its completion.
func (op *BindOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("bind", res)
}

// Await submits this operation and suspends until completion or ctx done.
func (op *BindOperation) Await(ctx context.Context) error {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("bind", res)
}

// ListenOperation submits IORING_OP_LISTEN (kernel 6.11+).
type ListenOperation struct {
	OperationBase
	fd      int32
	backlog int32
}

// maxBacklog is the cap applied to listen's requested backlog.
const maxBacklog = 4096

// NewListen constructs a listen operation, clamping backlog to maxBacklog.
func NewListen(r *Ring, fd int32, backlog int32) *ListenOperation {
	if backlog > maxBacklog {
		backlog = maxBacklog
	}
	return &ListenOperation{OperationBase: newOperationBase(r, sys.IORING_OP_LISTEN), fd: fd, backlog: backlog}
}

// Build implements Operation.
func (op *ListenOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_LISTEN)
	sqe.Fd = op.fd
	sqe.Len = uint32(op.backlog)
}

// Wait submits this operation and blocks for its completion.
func (op *ListenOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("listen", res)
}

// Await submits this operation and suspends until completion or ctx done.
func (op *ListenOperation) Await(ctx context.Context) error {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("listen", res)
}

// ConnectOperation submits IORING_OP_CONNECT. peer's family must match
// the socket's own family.
type ConnectOperation struct {
	OperationBase
	fd      int32
	peer    PeerInfo
	addrBuf []byte
}

// NewConnect constructs a connect operation.
func NewConnect(r *Ring, fd int32, peer PeerInfo) *ConnectOperation {
	return &ConnectOperation{OperationBase: newOperationBase(r, sys.IORING_OP_CONNECT), fd: fd, peer: peer}
}

// Build implements Operation.
func (op *ConnectOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_CONNECT)
	sqe.Fd = op.fd
	buf, err := op.peer.sockaddrStorage()
	if err != nil {
		panic(err)
	}
	op.addrBuf = buf
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.addrBuf[0])))
	sqe.Off = uint64(len(op.addrBuf))
}

// Wait submits this operation and blocks for its completion.
func (op *ConnectOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("connect", res)
}

// Await submits this operation and suspends until completion or ctx done.
func (op *ConnectOperation) Await(ctx context.Context) error {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("connect", res)
}

// OnComplete submits this operation with the callback discipline.
func (op *ConnectOperation) OnComplete(fn func(err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		fn(resultError("connect", res))
	})
}
