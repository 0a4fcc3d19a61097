//go:build linux

package iouxx

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOpenWriteReadCloseRoundTrip(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	path := filepath.Join(t.TempDir(), "roundtrip.txt")
	pathPtr, err := unix.BytePtrFromString(path)
	require.NoError(t, err)

	f, err := NewOpen(ring, unix.AT_FDCWD, pathPtr, unix.O_RDWR|unix.O_CREAT, 0o644).Wait()
	require.NoError(t, err)
	defer NewClose(ring, f.Fd()).Wait()

	payload := []byte("hello io_uring file")
	n, err := NewWrite(ring, f.Fd(), payload, 0).Wait()
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, 64)
	n, err = NewRead(ring, f.Fd(), buf, 0).Wait()
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestFtruncateShrinksFile(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	path := filepath.Join(t.TempDir(), "truncate.txt")
	pathPtr, err := unix.BytePtrFromString(path)
	require.NoError(t, err)

	f, err := NewOpen(ring, unix.AT_FDCWD, pathPtr, unix.O_RDWR|unix.O_CREAT, 0o644).Wait()
	require.NoError(t, err)
	defer NewClose(ring, f.Fd()).Wait()

	_, err = NewWrite(ring, f.Fd(), []byte("0123456789"), 0).Wait()
	require.NoError(t, err)

	require.NoError(t, NewFtruncate(ring, f.Fd(), 4).Wait())

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(int(f.Fd()), &st))
	require.Equal(t, int64(4), st.Size)
}

func TestStatxReportsFileSize(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	path := filepath.Join(t.TempDir(), "statx.txt")
	pathPtr, err := unix.BytePtrFromString(path)
	require.NoError(t, err)

	f, err := NewOpen(ring, unix.AT_FDCWD, pathPtr, unix.O_RDWR|unix.O_CREAT, 0o644).Wait()
	require.NoError(t, err)
	defer NewClose(ring, f.Fd()).Wait()

	payload := []byte("statx target contents")
	_, err = NewWrite(ring, f.Fd(), payload, 0).Wait()
	require.NoError(t, err)

	var stx unix.Statx_t
	require.NoError(t, NewStatx(ring, unix.AT_FDCWD, pathPtr, 0, unix.STATX_SIZE, &stx).Wait())
	require.Equal(t, uint64(len(payload)), stx.Size)
}

func TestOpenResolveBeneathRejectsParentEscape(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	dir := t.TempDir()
	dirFd, err := unix.Open(dir, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer unix.Close(dirFd)

	escapePtr, err := unix.BytePtrFromString("../etc/passwd")
	require.NoError(t, err)

	_, err = NewOpen(ring, int32(dirFd), escapePtr, unix.O_RDONLY, 0).
		ResolveFlags(unix.RESOLVE_BENEATH).Wait()
	require.Error(t, err)
}

func TestOpenDirectInstallsFixedSlot(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	require.NoError(t, ring.RegisterFdTable(4))
	defer ring.UnregisterFixedFiles()

	path := filepath.Join(t.TempDir(), "direct.txt")
	pathPtr, err := unix.BytePtrFromString(path)
	require.NoError(t, err)

	f, err := NewOpen(ring, unix.AT_FDCWD, pathPtr, unix.O_RDWR|unix.O_CREAT, 0o644).Direct().Wait()
	require.NoError(t, err)
	require.GreaterOrEqual(t, f.Fd(), int32(0))

	payload := []byte("direct open")
	n, err := NewWrite(ring, f.Fd(), payload, 0).FixedFile().Wait()
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	require.NoError(t, NewCloseFixed(ring, uint32(f.Fd())).Wait())
}
