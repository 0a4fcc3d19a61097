//go:build linux

package iouxx

import (
	"context"
	"unsafe"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// FixedFDInstallOperation submits IORING_OP_FIXED_FD_INSTALL: converts a
// fixed (registered) file back into a plain, process-visible file
// descriptor, the inverse of registering one. Its CQE result is the new
// process fd.
type FixedFDInstallOperation struct {
	OperationBase
	slot  uint32
	flags uint32
}

// NewFixedFDInstall constructs an install operation for a fixed slot.
func NewFixedFDInstall(r *Ring, slot uint32) *FixedFDInstallOperation {
	return &FixedFDInstallOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_FIXED_FD_INSTALL),
		slot:          slot,
	}
}

// Build implements Operation.
func (op *FixedFDInstallOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_FIXED_FD_INSTALL)
	sqe.Fd = int32(op.slot)
	sqe.Flags |= sys.IOSQE_FIXED_FILE
	sqe.OpFlags = op.flags
}

// Wait submits this operation and blocks for its completion, returning
// the newly installed process fd.
func (op *FixedFDInstallOperation) Wait() (File, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return File{}, err
	}
	if res < 0 {
		return File{}, resultError("fixed_fd_install", res)
	}
	return File{fd: res}, nil
}

// Await submits this operation and suspends until completion or ctx done.
func (op *FixedFDInstallOperation) Await(ctx context.Context) (File, error) {
	res, _, err := submitAwait(ctx, op.Ring(), op)
	if err != nil {
		return File{}, err
	}
	if res < 0 {
		return File{}, resultError("fixed_fd_install", res)
	}
	return File{fd: res}, nil
}

// FilesUpdateOperation submits IORING_OP_FILES_UPDATE, patching a run of
// the fixed file table in place from within the ring (as opposed to the
// out-of-band RegisterFixedFiles/UpdateFixedFile registration calls).
type FilesUpdateOperation struct {
	OperationBase
	offset uint32
	fds    []int32
}

// NewFilesUpdate constructs a files-update operation. fds is pinned by
// the caller for the operation's lifetime.
func NewFilesUpdate(r *Ring, offset uint32, fds []int32) *FilesUpdateOperation {
	return &FilesUpdateOperation{
		OperationBase: newOperationBase(r, sys.IORING_OP_FILES_UPDATE),
		offset:        offset,
		fds:           fds,
	}
}

// Build implements Operation.
func (op *FilesUpdateOperation) Build(sqe *sys.SQE) {
	sqe.Opcode = uint8(sys.IORING_OP_FILES_UPDATE)
	sqe.Fd = -1
	sqe.Off = uint64(op.offset)
	if len(op.fds) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.fds[0])))
	}
	sqe.Len = uint32(len(op.fds))
}

// Wait submits this operation and blocks for its completion, returning
// the number of slots updated.
func (op *FilesUpdateOperation) Wait() (int, error) {
	res, _, err := submitSync(op.Ring(), op)
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, resultError("files_update", res)
	}
	return int(res), nil
}
