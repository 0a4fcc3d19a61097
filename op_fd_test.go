//go:build linux

package iouxx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedFDInstallReturnsUsableFd(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, ring.RegisterFixedFiles([]int32{int32(r.Fd())}))
	defer ring.UnregisterFixedFiles()

	installed, err := NewFixedFDInstall(ring, 0).Wait()
	require.NoError(t, err)
	require.True(t, installed.Fd() >= 0)
	defer NewClose(ring, installed.Fd()).Wait()

	payload := []byte("hi")
	_, err = w.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := NewRead(ring, installed.Fd(), buf, 0).Wait()
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestFilesUpdatePatchesFixedTable(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r1, w1, err := os.Pipe()
	require.NoError(t, err)
	defer r1.Close()
	defer w1.Close()

	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	defer r2.Close()
	defer w2.Close()

	require.NoError(t, ring.RegisterFixedFiles([]int32{int32(r1.Fd()), -1}))
	defer ring.UnregisterFixedFiles()

	n, err := NewFilesUpdate(ring, 1, []int32{int32(r2.Fd())}).Wait()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	payload := []byte("update")
	_, err = w2.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, 8)
	read, err := NewRead(ring, 1, buf, 0).FixedFile().Wait()
	require.NoError(t, err)
	require.Equal(t, payload, buf[:read])
}
