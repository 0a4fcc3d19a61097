//go:build linux

package iouxx

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Sockopt catalogue: a fixed set of typed setters (with getters for the
// buffer sizes and SO_ERROR) over a plain
// socket fd, covering the options exercised by a server/client loopback
// echo and general IP tuning. Options not listed here are reachable via
// the raw unix.SetsockoptInt/GetsockoptInt family directly; this
// catalogue exists so the common ones are discoverable and typed.

// SetReuseAddr sets/clears SO_REUSEADDR.
func SetReuseAddr(fd int32, v bool) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(v))
}

// SetReusePort sets/clears SO_REUSEPORT.
func SetReusePort(fd int32, v bool) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(v))
}

// SetKeepAlive sets/clears SO_KEEPALIVE.
func SetKeepAlive(fd int32, v bool) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(v))
}

// SetRecvBuffer sets SO_RCVBUF.
func SetRecvBuffer(fd int32, bytes int) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

// RecvBuffer reads SO_RCVBUF.
func RecvBuffer(fd int32) (int, error) {
	return unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
}

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd int32, bytes int) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

// SendBuffer reads SO_SNDBUF.
func SendBuffer(fd int32) (int, error) {
	return unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
}

// SetLinger sets SO_LINGER. A zero duration with onoff true requests an
// abortive close (RST instead of FIN/graceful drain).
func SetLinger(fd int32, onoff bool, d time.Duration) error {
	l := &unix.Linger{Linger: int32(d / time.Second)}
	if onoff {
		l.Onoff = 1
	}
	return unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, l)
}

// SocketError reads and clears SO_ERROR, the pending asynchronous error
// on a socket (e.g. a failed non-blocking connect).
func SocketError(fd int32) error {
	errno, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// SetNoDelay sets/clears TCP_NODELAY (disables/enables Nagle's algorithm).
func SetNoDelay(fd int32, v bool) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(v))
}

// SetKeepIdle sets TCP_KEEPIDLE, the idle time before the first keepalive
// probe.
func SetKeepIdle(fd int32, d time.Duration) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(d/time.Second))
}

// SetIPv6Only sets/clears IPV6_V6ONLY, restricting an AF_INET6 socket to
// IPv6-only traffic (no IPv4-mapped addresses).
func SetIPv6Only(fd int32, v bool) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, boolToInt(v))
}

// GetSockname returns the local endpoint a bound socket is sitting on
// (the kernel-assigned ephemeral port after a bind to port 0, for
// example). Unlike the rest of this file's options it has no
// SOL_SOCKET option name: getsockname is its own syscall, not an
// option on SO_* space, so it is wired directly rather than through
// unix.GetsockoptInt.
func GetSockname(fd int32) (PeerInfo, error) {
	return getname(fd, unix.SYS_GETSOCKNAME)
}

// GetPeerName returns the remote endpoint a connected socket is talking
// to (getpeername(2), not to be confused with an accepted peer_info
// already known at accept time).
func GetPeerName(fd int32) (PeerInfo, error) {
	return getname(fd, unix.SYS_GETPEERNAME)
}

// getname issues the raw getsockname/getpeername syscall into a
// sockaddrStorageSize buffer and decodes it the same way
// peerInfoFromSockaddr does for accept's kernel-filled buffer.
func getname(fd int32, sysno uintptr) (PeerInfo, error) {
	var buf [sockaddrStorageSize]byte
	length := uint32(len(buf))
	_, _, errno := unix.Syscall(sysno,
		uintptr(fd),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&length)),
	)
	if errno != 0 {
		return PeerInfo{}, fmt.Errorf("iouxx: getname: %w", errno)
	}
	return peerInfoFromSockaddr(buf[:length])
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
