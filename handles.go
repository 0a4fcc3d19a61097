//go:build linux

package iouxx

// File is a non-owning handle to a plain, process-visible file descriptor
// obtained from an open or socket operation. iouxx never closes a
// descriptor on the caller's behalf; submit a CloseOperation explicitly.
type File struct {
	fd int32
}

// Fd returns the underlying file descriptor.
func (f File) Fd() int32 { return f.fd }

// Valid reports whether this handle names a real descriptor.
func (f File) Valid() bool { return f.fd >= 0 }

// FixedFile is a non-owning handle to a slot in a ring's fixed file
// table. Operations that accept a FixedFile set IOSQE_FIXED_FILE and
// address the slot index rather than a process fd.
type FixedFile struct {
	slot uint32
}

// Slot returns the fixed table index this handle names.
func (f FixedFile) Slot() uint32 { return f.slot }

// Socket is a non-owning handle to a plain socket file descriptor.
type Socket struct {
	fd int32
}

// Fd returns the underlying file descriptor.
func (s Socket) Fd() int32 { return s.fd }

// Valid reports whether this handle names a real descriptor.
func (s Socket) Valid() bool { return s.fd >= 0 }

// FixedSocket is a non-owning handle to a fixed-table slot holding a
// socket.
type FixedSocket struct {
	slot uint32
}

// Slot returns the fixed table index this handle names.
func (s FixedSocket) Slot() uint32 { return s.slot }

// Connection pairs a connected plain socket with the peer address that
// accept resolved, the handle type returned to callers that need both.
type Connection struct {
	Socket Socket
	Peer   PeerInfo
}

// FixedConnection is Connection's fixed-table counterpart, pairing a fixed
// socket slot with a peer address. No operation in this package returns
// it; an accept with Direct reports its slot through Connection.
type FixedConnection struct {
	Socket FixedSocket
	Peer   PeerInfo
}
