//go:build linux

package iouxx

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

type fixedResourceKind uint8

const (
	fixedKindFile   fixedResourceKind = 1
	fixedKindBuffer fixedResourceKind = 2
)

// unregisterNotice is the bookkeeping object behind a resource tag. Its
// address, with the resource kind OR'd into its low bits, is the tag value
// handed to the kernel at registration and read back verbatim on the
// completion that announces the slot has been torn down — the same
// pointer-identity trick Operation.Identifier uses for ordinary
// completions, discriminated by the same low-3-bit tag the ring's
// completion router inspects on every CQE.
type unregisterNotice struct {
	kind fixedResourceKind
	slot uint32
	done func(slot uint32)
}

func (n *unregisterNotice) tag() uint64 {
	return uint64(uintptr(unsafe.Pointer(n))) | uint64(n.kind)
}

// fixedTable tracks the occupancy of a ring's fixed file or fixed buffer
// table: which slots are live, and which are mid-unregistration awaiting
// the kernel's teardown completion.
type fixedTable struct {
	mu       sync.Mutex
	kind     fixedResourceKind
	occupied map[uint32]bool
	pending  map[uint32]*unregisterNotice
}

func newFixedTable(kind fixedResourceKind) *fixedTable {
	return &fixedTable{
		kind:     kind,
		occupied: make(map[uint32]bool),
		pending:  make(map[uint32]*unregisterNotice),
	}
}

func (t *fixedTable) markOccupied(slot uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.occupied[slot] {
		return ErrSlotInUse
	}
	t.occupied[slot] = true
	return nil
}

func (t *fixedTable) beginUnregister(slot uint32, done func(slot uint32)) (*unregisterNotice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.occupied[slot] {
		return nil, ErrSlotVacant
	}
	notice := &unregisterNotice{kind: t.kind, slot: slot, done: done}
	t.pending[slot] = notice
	return notice, nil
}

func (t *fixedTable) completeUnregister(notice *unregisterNotice) {
	t.mu.Lock()
	delete(t.occupied, notice.slot)
	delete(t.pending, notice.slot)
	t.mu.Unlock()
	if notice.done != nil {
		notice.done(notice.slot)
	}
}

// RegisterFixedFiles installs fds into the ring's fixed file table
// starting at slot 0, replacing any previous table. Use -1 for sparse
// slots reserved for later UpdateFixedFile calls. The slots are registered
// without resource tags, so their teardown posts no completion and runs no
// release callback; UnregisterFixedFiles drops the whole table.
func (r *Ring) RegisterFixedFiles(fds []int32) error {
	if err := sys.RegisterFiles(r.fd, fds); err != nil {
		return err
	}
	r.fixedFiles = newFixedTable(fixedKindFile)
	for i, fd := range fds {
		if fd >= 0 {
			r.fixedFiles.occupied[uint32(i)] = true
		}
	}
	return nil
}

// UnregisterFixedFiles drops the whole fixed file table.
func (r *Ring) UnregisterFixedFiles() error {
	if err := sys.UnregisterFiles(r.fd); err != nil {
		return err
	}
	r.fixedFiles = nil
	return nil
}

// UpdateFixedFile atomically replaces the fd at slot, tagging it so its
// eventual teardown completion invokes onRelease. Pass fd == -1 to
// install an empty slot.
func (r *Ring) UpdateFixedFile(slot uint32, fd int32, onRelease func(slot uint32)) error {
	if r.fixedFiles == nil {
		r.fixedFiles = newFixedTable(fixedKindFile)
	}
	notice := &unregisterNotice{kind: fixedKindFile, slot: slot, done: onRelease}
	tag := notice.tag()
	if err := sys.UpdateFilesTags(r.fd, slot, []int32{fd}, []uint64{tag}); err != nil {
		return err
	}
	r.fixedFiles.mu.Lock()
	if fd >= 0 {
		r.fixedFiles.occupied[slot] = true
	} else {
		delete(r.fixedFiles.occupied, slot)
	}
	r.fixedFiles.pending[slot] = notice
	r.fixedFiles.mu.Unlock()
	return nil
}

// RegisterFixedBuffers installs a set of buffers into the ring's fixed
// buffer table, replacing any previous table.
func (r *Ring) RegisterFixedBuffers(bufs [][]byte) error {
	iovecs := make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovecs[i].Base = &b[0]
		iovecs[i].SetLen(len(b))
	}
	if err := sys.RegisterBuffers(r.fd, iovecs); err != nil {
		return err
	}
	r.fixedBuffers = newFixedTable(fixedKindBuffer)
	for i, b := range bufs {
		if len(b) > 0 {
			r.fixedBuffers.occupied[uint32(i)] = true
		}
	}
	return nil
}

// UnregisterFixedBuffers drops the whole fixed buffer table.
func (r *Ring) UnregisterFixedBuffers() error {
	if err := sys.UnregisterBuffers(r.fd); err != nil {
		return err
	}
	r.fixedBuffers = nil
	return nil
}

// RegisterFdTable creates a sparse fixed file table of size slots, every
// slot empty, so later UpdateFdTable calls can populate it incrementally.
func (r *Ring) RegisterFdTable(size uint32) error {
	fds := make([]int32, size)
	for i := range fds {
		fds[i] = -1
	}
	if err := sys.RegisterFilesTags(r.fd, fds, nil); err != nil {
		return err
	}
	r.fixedFiles = newFixedTable(fixedKindFile)
	return nil
}

// RegisterBufferTable creates a sparse fixed buffer table of size slots.
func (r *Ring) RegisterBufferTable(size uint32) error {
	iovecs := make([]unix.Iovec, size)
	if err := sys.RegisterBuffersTags(r.fd, iovecs, nil); err != nil {
		return err
	}
	r.fixedBuffers = newFixedTable(fixedKindBuffer)
	return nil
}

// RegisterFds wholesale-replaces the fixed file table with fds, tagging
// each live slot so its eventual teardown completion reports the slot
// index via onRelease. Entries of -1 are left empty and untagged.
func (r *Ring) RegisterFds(fds []int32, onRelease func(slot uint32)) error {
	notices := make([]*unregisterNotice, len(fds))
	tags := make([]uint64, len(fds))
	for i, fd := range fds {
		if fd < 0 {
			continue
		}
		n := &unregisterNotice{kind: fixedKindFile, slot: uint32(i), done: onRelease}
		notices[i] = n
		tags[i] = n.tag()
	}
	if err := sys.RegisterFilesTags(r.fd, fds, tags); err != nil {
		return err
	}
	r.fixedFiles = newFixedTable(fixedKindFile)
	for i, fd := range fds {
		if fd < 0 {
			continue
		}
		r.fixedFiles.occupied[uint32(i)] = true
		r.fixedFiles.pending[uint32(i)] = notices[i]
	}
	return nil
}

// RegisterBuffers wholesale-replaces the fixed buffer table with bufs,
// tagging each slot so its eventual teardown completion invokes onRelease.
func (r *Ring) RegisterBuffers(bufs [][]byte, onRelease func(slot uint32)) error {
	iovecs := make([]unix.Iovec, len(bufs))
	tags := make([]uint64, len(bufs))
	notices := make([]*unregisterNotice, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovecs[i].Base = &b[0]
		iovecs[i].SetLen(len(b))
		n := &unregisterNotice{kind: fixedKindBuffer, slot: uint32(i), done: onRelease}
		notices[i] = n
		tags[i] = n.tag()
	}
	if err := sys.RegisterBuffersTags(r.fd, iovecs, tags); err != nil {
		return err
	}
	r.fixedBuffers = newFixedTable(fixedKindBuffer)
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		r.fixedBuffers.occupied[uint32(i)] = true
		r.fixedBuffers.pending[uint32(i)] = notices[i]
	}
	return nil
}

// UpdateFdTable atomically replaces a contiguous run of the fixed file
// table starting at offset. Entries of -1 install empty slots. Every other
// entry is tagged so its eventual teardown completion reports the slot
// index via onRelease.
func (r *Ring) UpdateFdTable(offset uint32, fds []int32, onRelease func(slot uint32)) error {
	if r.fixedFiles == nil {
		r.fixedFiles = newFixedTable(fixedKindFile)
	}
	tags := make([]uint64, len(fds))
	notices := make([]*unregisterNotice, len(fds))
	for i, fd := range fds {
		if fd < 0 {
			continue
		}
		n := &unregisterNotice{kind: fixedKindFile, slot: offset + uint32(i), done: onRelease}
		notices[i] = n
		tags[i] = n.tag()
	}
	if err := sys.UpdateFilesTags(r.fd, offset, fds, tags); err != nil {
		return err
	}
	r.fixedFiles.mu.Lock()
	for i, fd := range fds {
		slot := offset + uint32(i)
		if fd >= 0 {
			r.fixedFiles.occupied[slot] = true
			r.fixedFiles.pending[slot] = notices[i]
		} else {
			delete(r.fixedFiles.occupied, slot)
		}
	}
	r.fixedFiles.mu.Unlock()
	return nil
}

// UpdateBufferTable atomically replaces a contiguous run of the fixed
// buffer table starting at offset.
func (r *Ring) UpdateBufferTable(offset uint32, bufs [][]byte, onRelease func(slot uint32)) error {
	if r.fixedBuffers == nil {
		r.fixedBuffers = newFixedTable(fixedKindBuffer)
	}
	iovecs := make([]unix.Iovec, len(bufs))
	tags := make([]uint64, len(bufs))
	notices := make([]*unregisterNotice, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovecs[i].Base = &b[0]
		iovecs[i].SetLen(len(b))
		n := &unregisterNotice{kind: fixedKindBuffer, slot: offset + uint32(i), done: onRelease}
		notices[i] = n
		tags[i] = n.tag()
	}
	if err := sys.UpdateBuffersTags(r.fd, offset, iovecs, tags); err != nil {
		return err
	}
	r.fixedBuffers.mu.Lock()
	for i, b := range bufs {
		slot := offset + uint32(i)
		if len(b) > 0 {
			r.fixedBuffers.occupied[slot] = true
			r.fixedBuffers.pending[slot] = notices[i]
		} else {
			delete(r.fixedBuffers.occupied, slot)
		}
	}
	r.fixedBuffers.mu.Unlock()
	return nil
}
