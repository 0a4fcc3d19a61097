//go:build linux

package iouxx

import (
	"context"
	"unsafe"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// sockaddrStorageSize is large enough for sockaddr_in, sockaddr_in6, or
// sockaddr_un, the three families peerInfoFromSockaddr decodes.
const sockaddrStorageSize = 128

// AcceptOperation submits IORING_OP_ACCEPT against a listening socket.
type AcceptOperation struct {
	OperationBase
	fd          int32
	fixedFd     bool
	flags       uint32
	asDirect    bool
	directIndex int32
	addrBuf     [sockaddrStorageSize]byte
	addrLen     uint32
	withPeer    bool
}

// NewAccept constructs an accept operation against a plain listening fd.
func NewAccept(r *Ring, fd int32) *AcceptOperation {
	return &AcceptOperation{OperationBase: newOperationBase(r, sys.IORING_OP_ACCEPT), fd: fd}
}

// FixedFile routes the accept through a fixed-table listening socket.
func (op *AcceptOperation) FixedFile() *AcceptOperation {
	op.fixedFd = true
	return op
}

// WithPeerInfo makes Wait/Await/OnComplete decode and return the accepted
// peer's address alongside the connection.
func (op *AcceptOperation) WithPeerInfo() *AcceptOperation {
	op.withPeer = true
	return op
}

// Direct makes the accept install the accepted socket directly into the
// ring's fixed file table. index == -1 allocates a free slot.
func (op *AcceptOperation) Direct(index int32) *AcceptOperation {
	op.asDirect = true
	op.directIndex = index
	return op
}

// Flags sets raw accept4(2)-style flags (e.g. unix.SOCK_NONBLOCK).
func (op *AcceptOperation) Flags(flags uint32) *AcceptOperation {
	op.flags = flags
	return op
}

// Build implements Operation.
func (op *AcceptOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_ACCEPT)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	op.addrLen = uint32(sockaddrStorageSize)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.addrBuf[0])))
	sqe.Off = uint64(uintptr(unsafe.Pointer(&op.addrLen)))
	sqe.OpFlags = op.flags
	if op.asDirect {
		idx := int32(sys.IORING_FILE_INDEX_ALLOC)
		if op.directIndex >= 0 {
			idx = op.directIndex + 1 // file_index carries slot+1
		}
		sqe.SetFileIndex(idx)
	}
}

func (op *AcceptOperation) decodePeer() PeerInfo {
	if !op.withPeer {
		return PeerInfo{}
	}
	p, err := peerInfoFromSockaddr(op.addrBuf[:op.addrLen])
	if err != nil {
		return PeerInfo{}
	}
	return p
}

// Wait submits this operation and blocks for its completion, returning a
// Connection. With Direct, Connection.Socket carries the kernel's
// direct-install result (the allocated slot index for Direct(-1)) rather
// than a process fd.
func (op *AcceptOperation) Wait() (Connection, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return Connection{}, err
	}
	if res < 0 {
		return Connection{}, resultError("accept", res)
	}
	return Connection{Socket: Socket{fd: res}, Peer: op.decodePeer()}, nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *AcceptOperation) Await(ctx context.Context) (Connection, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return Connection{}, err
	}
	if res < 0 {
		return Connection{}, resultError("accept", res)
	}
	return Connection{Socket: Socket{fd: res}, Peer: op.decodePeer()}, nil
}

// OnComplete submits this operation with the callback discipline.
func (op *AcceptOperation) OnComplete(fn func(c Connection, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(Connection{}, resultError("accept", res))
			return
		}
		fn(Connection{Socket: Socket{fd: res}, Peer: op.decodePeer()}, nil)
	})
}

// AcceptMultishotOperation submits IORING_OP_ACCEPT with
// IORING_ACCEPT_MULTISHOT: one submission, a stream of accepted
// connections until removed or errored. Only the callback discipline is
// legal: a multishot stream has no single result for a sync wait or task
// await to return.
type AcceptMultishotOperation struct {
	OperationBase
	fd          int32
	fixedFd     bool
	flags       uint32
	asDirect    bool
	addrBuf     [sockaddrStorageSize]byte
	addrLen     uint32
	withPeer    bool
}

// NewAcceptMultishot constructs a multishot accept against a listening fd.
func NewAcceptMultishot(r *Ring, fd int32) *AcceptMultishotOperation {
	return &AcceptMultishotOperation{OperationBase: newOperationBase(r, sys.IORING_OP_ACCEPT), fd: fd}
}

// FixedFile routes the accept through a fixed-table listening socket.
func (op *AcceptMultishotOperation) FixedFile() *AcceptMultishotOperation {
	op.fixedFd = true
	return op
}

// WithPeerInfo makes each delivered item carry the accepted peer address.
// Because the stream reuses one address buffer across firings, the peer
// info is a snapshot valid only until the next delivery.
func (op *AcceptMultishotOperation) WithPeerInfo() *AcceptMultishotOperation {
	op.withPeer = true
	return op
}

// Direct installs each accepted socket directly into the ring's fixed
// file table instead of returning a process fd.
func (op *AcceptMultishotOperation) Direct() *AcceptMultishotOperation {
	op.asDirect = true
	return op
}

// Build implements Operation.
func (op *AcceptMultishotOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_ACCEPT)
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	sqe.Ioprio |= uint16(sys.IORING_ACCEPT_MULTISHOT)
	op.addrLen = uint32(sockaddrStorageSize)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.addrBuf[0])))
	sqe.Off = uint64(uintptr(unsafe.Pointer(&op.addrLen)))
	sqe.OpFlags = op.flags
	if op.asDirect {
		sqe.SetFileIndex(int32(sys.IORING_FILE_INDEX_ALLOC))
	}
}

// AcceptEvent is one item out of a multishot accept's completion stream.
type AcceptEvent struct {
	Conn Connection
	More bool
	Err  error
}

// OnComplete submits this operation with the callback discipline; fn runs
// once per accepted connection.
func (op *AcceptMultishotOperation) OnComplete(fn func(ev AcceptEvent)) error {
	return submitCallback(op.Ring(), op, func(res int32, flags uint32) {
		more := flags&sys.IORING_CQE_F_MORE != 0
		if res < 0 {
			fn(AcceptEvent{Err: resultError("accept_multishot", res), More: more})
			return
		}
		var peer PeerInfo
		if op.withPeer {
			if p, err := peerInfoFromSockaddr(op.addrBuf[:op.addrLen]); err == nil {
				peer = p
			}
		}
		fn(AcceptEvent{Conn: Connection{Socket: Socket{fd: res}, Peer: peer}, More: more})
	})
}
