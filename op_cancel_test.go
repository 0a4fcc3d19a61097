//go:build linux

package iouxx

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCancelByIdentifierCancelsPendingTimeout(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	timeout := NewTimeout(ring, TimespecFromDuration(time.Hour))
	doneCh := make(chan error, 1)
	require.NoError(t, timeout.OnComplete(func(m MultiShot[struct{}]) { doneCh <- m.Err }))

	n, err := NewCancel(ring, timeout).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case err := <-doneCh:
		assert.True(t, IsCanceled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("canceled timeout never completed")
	}
}

func TestCancelByIdentifierReportsNotFound(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	timeout := NewTimeout(ring, TimespecFromDuration(time.Millisecond))
	require.NoError(t, timeout.Wait())

	_, err := NewCancel(ring, timeout).Wait()
	assert.Error(t, err)
}

func TestCancelFDCancelsPendingPoll(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	pollErrCh := make(chan error, 1)
	poll := NewPollAdd(ring, int32(r.Fd()), unix.POLLIN)
	require.NoError(t, poll.OnComplete(func(_ uint32, err error) { pollErrCh <- err }))

	n, err := NewCancelFD(ring, int32(r.Fd()), false).All().Wait()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	select {
	case err := <-pollErrCh:
		assert.True(t, IsCanceled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("canceled poll never completed")
	}
}
