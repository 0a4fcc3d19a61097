//go:build linux

package iouxx

import (
	"unsafe"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// Operation is the contract every opcode wrapper in this library satisfies.
// Build populates a single submission slot; it must not block and must
// leave every field the opcode needs, including any IOSQE_FIXED_FILE or
// buffer-select flag the operation's own configuration implies. Identifier
// returns the value stamped into the slot's user_data and later used to
// route the matching completion back to this object; concrete operations
// get it for free by embedding OperationBase as their first field.
type Operation interface {
	Build(sqe *sys.SQE)
	Opcode() sys.Op
	Identifier() uintptr
}

// OperationBase is the common header every concrete operation embeds as
// its first field. Embedding it first is load-bearing: Go lays out struct
// fields in declaration order, so the address of an OperationBase embedded
// first is identical to the address of the enclosing operation. That
// address is this operation's stable identifier, round-tripped through the
// kernel as the SQE's user_data and used on completion to recover a
// type-erased dispatch closure without any side table.
//
// Go's allocator aligns any heap object containing a pointer-sized field
// to at least 8 bytes on 64-bit platforms; OperationBase always contains
// one, so the low 3 bits of every operation's identifier are guaranteed
// zero. The ring's completion router relies on this to distinguish
// operation completions (tag bits 000) from fixed-file and fixed-buffer
// unregistration completions (tag bits 001 and 010, carrying a resource
// tag in the upper bits instead of a pointer).
type OperationBase struct {
	ring     *Ring
	dispatch func(res int32, flags uint32)
	opcode   sys.Op
}

func newOperationBase(r *Ring, opcode sys.Op) OperationBase {
	return OperationBase{ring: r, opcode: opcode}
}

// Identifier returns this operation's address, used as its user_data.
func (b *OperationBase) Identifier() uintptr { return uintptr(unsafe.Pointer(b)) }

// Opcode returns the IORING_OP_* this operation submits as.
func (b *OperationBase) Opcode() sys.Op { return b.opcode }

// Ring returns the ring this operation was constructed against.
func (b *OperationBase) Ring() *Ring { return b.ring }

// bind attaches the completion dispatcher. Called by the sink chosen for
// this operation (OnComplete, Wait, or a task-await adapter) before the
// operation is submitted.
func (b *OperationBase) bind(fn func(res int32, flags uint32)) { b.dispatch = fn }

// kernelIdentifier reinterprets a raw user_data word with its tag bits
// already known to be zero as the *OperationBase that produced it.
func kernelIdentifier(raw uint64) *OperationBase {
	return (*OperationBase)(unsafe.Pointer(uintptr(raw)))
}
