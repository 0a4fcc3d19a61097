//go:build linux

package iouxx

import (
	"context"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// OpenOperation submits IORING_OP_OPENAT, opening path relative to dirfd
// (unix.AT_FDCWD for the process's current directory). path must be a
// pinned, NUL-terminated byte slice valid until completion; use
// unix.BytePtrFromString.
type OpenOperation struct {
	OperationBase
	dirfd    int32
	path     *byte
	flags    int32
	mode     uint32
	asDirect bool
	how      *unix.OpenHow
}

// NewOpen constructs a plain openat operation yielding a process fd.
func NewOpen(r *Ring, dirfd int32, path *byte, flags int32, mode uint32) *OpenOperation {
	return &OpenOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_OPENAT),
		dirfd:         dirfd,
		path:          path,
		flags:         flags,
		mode:          mode,
	}
}

// Direct makes the open install directly into the ring's fixed file table
// at an allocated slot instead of returning a process fd; the result is
// the fixed slot index rather than a file descriptor.
func (op *OpenOperation) Direct() *OpenOperation {
	op.asDirect = true
	return op
}

// ResolveFlags switches this open to IORING_OP_OPENAT2, carrying resolve
// as the open_how.resolve word (unix.RESOLVE_BENEATH, RESOLVE_NO_SYMLINKS,
// and friends) alongside the flags/mode already set on this operation.
// openat2's path-resolution confinement has no equivalent under plain
// openat, so this is the only way to get it.
func (op *OpenOperation) ResolveFlags(resolve uint64) *OpenOperation {
	if op.how == nil {
		op.how = &unix.OpenHow{}
	}
	op.how.Resolve = resolve
	op.opcode = sys.IORING_OP_OPENAT2
	return op
}

// Build implements Operation.
func (op *OpenOperation) Build(sqe *sys.SQE) {
	sqe.Fd = op.dirfd
	sqe.Addr = uint64(uintptr(unsafe.Pointer(op.path)))
	if op.how != nil {
		op.how.Flags = uint64(uint32(op.flags))
		op.how.Mode = uint64(op.mode)
		sqe.Opcode = uint8(sys.IORING_OP_OPENAT2)
		sqe.Len = uint32(unix.SizeofOpenHow)
		sqe.Off = uint64(uintptr(unsafe.Pointer(op.how)))
	} else {
		sqe.Opcode = uint8(sys.IORING_OP_OPENAT)
		sqe.Len = op.mode
		sqe.OpFlags = uint32(op.flags)
	}
	if op.asDirect {
		sqe.SetFileIndex(int32(sys.IORING_FILE_INDEX_ALLOC))
	}
}

// Wait submits this operation and blocks for its completion, returning a
// File handle. With Direct, the file is installed in a kernel-allocated
// fixed-table slot and File.Fd() holds that slot index rather than a
// process fd.
func (op *OpenOperation) Wait() (File, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return File{}, err
	}
	if res < 0 {
		return File{}, resultError("openat", res)
	}
	return File{fd: res}, nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *OpenOperation) Await(ctx context.Context) (File, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return File{}, err
	}
	if res < 0 {
		return File{}, resultError("openat", res)
	}
	return File{fd: res}, nil
}

// CloseOperation submits IORING_OP_CLOSE.
type CloseOperation struct {
	OperationBase
	fd    int32
	fixed bool
}

// NewClose constructs a close operation for a plain process fd.
func NewClose(r *Ring, fd int32) *CloseOperation {
	return &CloseOperation{OperationBase: newOperationBase(r, sys.IORING_OP_CLOSE), fd: fd}
}

// NewCloseFixed constructs a close operation for a fixed-table slot.
func NewCloseFixed(r *Ring, slot uint32) *CloseOperation {
	return &CloseOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_CLOSE),
		fd:            int32(slot),
		fixed:         true,
	}
}

// Build implements Operation.
func (op *CloseOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_CLOSE)
	if op.fixed {
		sqe.SetFileIndex(op.fd + 1) // file_index carries slot+1; 0 means a plain fd
	} else {
		sqe.Fd = op.fd
	}
}

// Wait submits this operation and blocks for its completion.
func (op *CloseOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("close", res)
}

// ReadOperation submits IORING_OP_READ or, with FixedBuffer, IORING_OP_READ_FIXED.
// buf is pinned by the caller for the operation's lifetime.
type ReadOperation struct {
	OperationBase
	fd       int32
	fixedFd  bool
	buf      []byte
	offset   uint64
	bufIndex uint16
	useFixedBuf bool
}

// NewRead constructs a read operation against a plain fd.
func NewRead(r *Ring, fd int32, buf []byte, offset uint64) *ReadOperation {
	return &ReadOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_READ),
		fd:            fd,
		buf:           buf,
		offset:        offset,
	}
}

// FixedFile routes the read through a fixed-table file slot.
func (op *ReadOperation) FixedFile() *ReadOperation {
	op.fixedFd = true
	return op
}

// FixedBuffer routes the read through a registered buffer slot, switching
// the opcode to IORING_OP_READ_FIXED.
func (op *ReadOperation) FixedBuffer(index uint16) *ReadOperation {
	op.useFixedBuf = true
	op.bufIndex = index
	op.opcode = sys.IORING_OP_READ_FIXED
	return op
}

// Build implements Operation.
func (op *ReadOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(op.Opcode())
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	if len(op.buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
	}
	sqe.Len = uint32(len(op.buf))
	sqe.Off = op.offset
	if op.useFixedBuf {
		sqe.BufIndex = op.bufIndex
	}
}

// Wait submits this operation and blocks for its completion, returning
// the number of bytes read.
func (op *ReadOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("read", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *ReadOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("read", res)
	}
	return int(res), nil
}

// OnComplete submits this operation with the callback discipline.
func (op *ReadOperation) OnComplete(fn func(n int, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(0, resultError("read", res))
			return
		}
		fn(int(res), nil)
	})
}

// ReadMultishotOperation submits IORING_OP_READ_MULTISHOT, delivering
// repeated reads from provided buffers (a buffer group) until removed or
// errored. Requires a provided-buffer ring registered against bufGroup.
type ReadMultishotOperation struct {
	OperationBase
	fd       int32
	fixedFd  bool
	bufGroup uint16
}

// NewReadMultishot constructs a multishot read against a buffer group.
func NewReadMultishot(r *Ring, fd int32, bufGroup uint16) *ReadMultishotOperation {
	return &ReadMultishotOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_READ_MULTISHOT),
		fd:            fd,
		bufGroup:      bufGroup,
	}
}

// Build implements Operation.
func (op *ReadMultishotOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_READ_MULTISHOT)
	sqe.Fd = op.fd
	sqe.Flags |= sys.IOSQE_BUFFER_SELECT
	sqe.SetBufGroup(op.bufGroup)
}

// OnComplete submits this operation with the callback discipline; fn
// receives one MultiShot item per buffer filled.
func (op *ReadMultishotOperation) OnComplete(fn func(m MultiShot[BufferSelection])) error {
	return submitCallback(op.Ring(), op, func(res int32, flags uint32) {
		more := flags&sys.IORING_CQE_F_MORE != 0
		if res < 0 {
			fn(MultiShot[BufferSelection]{Err: resultError("read_multishot", res), More: more})
			return
		}
		sel := BufferSelection{BufID: uint16(flags >> 16), N: int(res)}
		fn(MultiShot[BufferSelection]{Item: sel, More: more})
	})
}

// BufferSelection identifies which provided buffer a multishot completion
// filled, and how much of it.
type BufferSelection struct {
	BufID uint16
	N     int
}

// WriteOperation submits IORING_OP_WRITE or, with FixedBuffer,
// IORING_OP_WRITE_FIXED. buf is pinned by the caller for the operation's
// lifetime.
type WriteOperation struct {
	OperationBase
	fd          int32
	fixedFd     bool
	buf         []byte
	offset      uint64
	bufIndex    uint16
	useFixedBuf bool
}

// NewWrite constructs a write operation against a plain fd.
func NewWrite(r *Ring, fd int32, buf []byte, offset uint64) *WriteOperation {
	return &WriteOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_WRITE),
		fd:            fd,
		buf:           buf,
		offset:        offset,
	}
}

// FixedFile routes the write through a fixed-table file slot.
func (op *WriteOperation) FixedFile() *WriteOperation {
	op.fixedFd = true
	return op
}

// FixedBuffer routes the write through a registered buffer slot, switching
// the opcode to IORING_OP_WRITE_FIXED.
func (op *WriteOperation) FixedBuffer(index uint16) *WriteOperation {
	op.useFixedBuf = true
	op.bufIndex = index
	op.opcode = sys.IORING_OP_WRITE_FIXED
	return op
}

// Build implements Operation.
func (op *WriteOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(op.Opcode())
	sqe.Fd = op.fd
	if op.fixedFd {
		sqe.Flags |= sys.IOSQE_FIXED_FILE
	}
	if len(op.buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
	}
	sqe.Len = uint32(len(op.buf))
	sqe.Off = op.offset
	if op.useFixedBuf {
		sqe.BufIndex = op.bufIndex
	}
}

// Wait submits this operation and blocks for its completion, returning
// the number of bytes written.
func (op *WriteOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("write", res)
	}
	return int(res), nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *WriteOperation) Await(ctx context.Context) (int, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("write", res)
	}
	return int(res), nil
}

// OnComplete submits this operation with the callback discipline.
func (op *WriteOperation) OnComplete(fn func(n int, err error)) error {
	return submitCallback(op.Ring(), op, func(res int32, _ uint32) {
		if res < 0 {
			fn(0, resultError("write", res))
			return
		}
		fn(int(res), nil)
	})
}

// FtruncateOperation submits IORING_OP_FTRUNCATE.
type FtruncateOperation struct {
	OperationBase
	fd  int32
	len uint64
}

// NewFtruncate constructs a truncate operation.
func NewFtruncate(r *Ring, fd int32, length uint64) *FtruncateOperation {
	return &FtruncateOperation{OperationBase: newOperationBase(r, sys.IORING_OP_FTRUNCATE), fd: fd, len: length}
}

// Build implements Operation.
func (op *FtruncateOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_FTRUNCATE)
	sqe.Fd = op.fd
	sqe.Off = op.len
}

// Wait submits this operation and blocks for its completion.
func (op *FtruncateOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("ftruncate", res)
}

// StatxOperation submits IORING_OP_STATX. path and buf must remain valid
// until completion.
type StatxOperation struct {
	OperationBase
	dirfd int32
	path  *byte
	flags int32
	mask  uint32
	buf   *unix.Statx_t
}

// NewStatx constructs a statx operation.
func NewStatx(r *Ring, dirfd int32, path *byte, flags int32, mask uint32, buf *unix.Statx_t) *StatxOperation {
	return &StatxOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_STATX),
		dirfd:         dirfd,
		path:          path,
		flags:         flags,
		mask:          mask,
		buf:           buf,
	}
}

// Build implements Operation.
func (op *StatxOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_STATX)
	sqe.Fd = op.dirfd
	sqe.Addr = uint64(uintptr(unsafe.Pointer(op.path)))
	sqe.Len = op.mask
	sqe.OpFlags = uint32(op.flags)
	sqe.Off = uint64(uintptr(unsafe.Pointer(op.buf)))
}

// Wait submits this operation and blocks for its completion.
func (op *StatxOperation) Wait() error {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return err
	}
	return resultError("statx", res)
}
