//go:build linux

package iouxx

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// loopbackListener binds and listens on an ephemeral 127.0.0.1 port,
// returning the listening socket and the peer address clients should
// connect to.
func loopbackListener(t *testing.T, ring *Ring) (Socket, PeerInfo) {
	t.Helper()

	listener, err := NewSocket(ring, unix.AF_INET, unix.SOCK_STREAM, 0).Wait()
	require.NoError(t, err)
	require.NoError(t, SetReuseAddr(listener.Fd(), true))

	addr, err := ParseAddressV4("127.0.0.1")
	require.NoError(t, err)
	require.NoError(t, NewBind(ring, listener.Fd(), PeerInfo{Family: FamilyV4, V4: SocketV4Info{Addr: addr}}).Wait())

	local, err := GetSockname(listener.Fd())
	require.NoError(t, err)
	require.Equal(t, FamilyV4, local.Family)

	require.NoError(t, NewListen(ring, listener.Fd(), 16).Wait())

	return listener, PeerInfo{Family: FamilyV4, V4: SocketV4Info{Addr: addr, Port: local.V4.Port}}
}

func TestTCPEchoLoopback(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	listener, peer := loopbackListener(t, ring)
	defer NewClose(ring, listener.Fd()).Wait()

	acceptCh := make(chan Connection, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := NewAccept(ring, listener.Fd()).WithPeerInfo().Wait()
		acceptCh <- conn
		acceptErrCh <- err
	}()

	client, err := NewSocket(ring, unix.AF_INET, unix.SOCK_STREAM, 0).Wait()
	require.NoError(t, err)
	defer NewClose(ring, client.Fd()).Wait()

	connErrCh := make(chan error, 1)
	go func() { connErrCh <- NewConnect(ring, client.Fd(), peer).Wait() }()

	require.NoError(t, <-connErrCh)
	require.NoError(t, <-acceptErrCh)
	server := <-acceptCh
	require.True(t, server.Socket.Valid())
	assert.Equal(t, FamilyV4, server.Peer.Family)
	defer NewClose(ring, server.Socket.Fd()).Wait()

	payload := []byte("ping over io_uring")
	n, err := NewSend(ring, client.Fd(), payload).Wait()
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 64)
	n, err = NewRecv(ring, server.Socket.Fd(), buf).Wait()
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	reply := []byte("pong")
	n, err = NewSend(ring, server.Socket.Fd(), reply).Wait()
	require.NoError(t, err)
	assert.Equal(t, len(reply), n)

	buf2 := make([]byte, 64)
	n, err = NewRecv(ring, client.Fd(), buf2).Wait()
	require.NoError(t, err)
	assert.Equal(t, reply, buf2[:n])
}

func TestTCPAcceptMultishotDeliversRepeatedConnections(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	listener, peer := loopbackListener(t, ring)
	defer NewClose(ring, listener.Fd()).Wait()

	const clients = 3
	events := make(chan AcceptEvent, clients)
	multi := NewAcceptMultishot(ring, listener.Fd())
	require.NoError(t, multi.OnComplete(func(ev AcceptEvent) { events <- ev }))

	for i := 0; i < clients; i++ {
		c, err := NewSocket(ring, unix.AF_INET, unix.SOCK_STREAM, 0).Wait()
		require.NoError(t, err)
		require.NoError(t, NewConnect(ring, c.Fd(), peer).Wait())
		defer NewClose(ring, c.Fd()).Wait()
	}

	seen := 0
	deadline := time.After(2 * time.Second)
	for seen < clients {
		select {
		case ev := <-events:
			require.NoError(t, ev.Err)
			assert.True(t, ev.Conn.Socket.Valid())
			defer NewClose(ring, ev.Conn.Socket.Fd()).Wait()
			seen++
		case <-deadline:
			t.Fatalf("only saw %d/%d accepted connections", seen, clients)
		}
	}
}

func TestTCPSendZCNotificationStream(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	listener, peer := loopbackListener(t, ring)
	defer NewClose(ring, listener.Fd()).Wait()

	acceptCh := make(chan Connection, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := NewAccept(ring, listener.Fd()).Wait()
		acceptCh <- conn
		acceptErrCh <- err
	}()

	client, err := NewSocket(ring, unix.AF_INET, unix.SOCK_STREAM, 0).Wait()
	require.NoError(t, err)
	defer NewClose(ring, client.Fd()).Wait()

	connErrCh := make(chan error, 1)
	go func() { connErrCh <- NewConnect(ring, client.Fd(), peer).Wait() }()
	require.NoError(t, <-connErrCh)
	require.NoError(t, <-acceptErrCh)
	server := <-acceptCh
	defer NewClose(ring, server.Socket.Fd()).Wait()

	payload := []byte("zero copy payload")
	events := make(chan ZeroCopyEvent, 4)
	require.NoError(t, NewSendZC(ring, client.Fd(), payload).OnComplete(func(ev ZeroCopyEvent) {
		events <- ev
	}))

	buf := make([]byte, 64)
	n, err := NewRecv(ring, server.Socket.Fd(), buf).Wait()
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	var sawData, sawNotif bool
	deadline := time.After(2 * time.Second)
	for !sawNotif {
		select {
		case ev := <-events:
			require.NoError(t, ev.Err)
			if ev.Kind == ZeroCopyData {
				sawData = true
				assert.Equal(t, int32(len(payload)), ev.N)
			} else {
				sawNotif = true
			}
		case <-deadline:
			t.Fatal("zero-copy notification stream never completed")
		}
	}
	assert.True(t, sawData)
}

func TestUnixDomainSocketEchoRoundTrip(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	path := filepath.Join(t.TempDir(), "iouxx.sock")
	peer := PeerInfo{Family: FamilyUnix, Unix: SocketUnixInfo{Path: path}}

	listener, err := NewSocket(ring, unix.AF_UNIX, unix.SOCK_STREAM, 0).Wait()
	require.NoError(t, err)
	defer NewClose(ring, listener.Fd()).Wait()
	require.NoError(t, NewBind(ring, listener.Fd(), peer).Wait())
	require.NoError(t, NewListen(ring, listener.Fd(), 16).Wait())

	acceptCh := make(chan Connection, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := NewAccept(ring, listener.Fd()).WithPeerInfo().Wait()
		acceptCh <- conn
		acceptErrCh <- err
	}()

	client, err := NewSocket(ring, unix.AF_UNIX, unix.SOCK_STREAM, 0).Wait()
	require.NoError(t, err)
	defer NewClose(ring, client.Fd()).Wait()

	connErrCh := make(chan error, 1)
	go func() { connErrCh <- NewConnect(ring, client.Fd(), peer).Wait() }()

	require.NoError(t, <-connErrCh)
	require.NoError(t, <-acceptErrCh)
	server := <-acceptCh
	defer NewClose(ring, server.Socket.Fd()).Wait()
	assert.Equal(t, FamilyUnix, server.Peer.Family)

	payload := []byte("ping over a unix domain socket")
	n, err := NewSend(ring, client.Fd(), payload).Wait()
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 64)
	n, err = NewRecv(ring, server.Socket.Fd(), buf).Wait()
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	local, err := GetSockname(client.Fd())
	require.NoError(t, err)
	assert.Equal(t, FamilyUnix, local.Family)

	remote, err := GetPeerName(client.Fd())
	require.NoError(t, err)
	assert.Equal(t, FamilyUnix, remote.Family)
	assert.Equal(t, path, remote.Unix.Path)
}
