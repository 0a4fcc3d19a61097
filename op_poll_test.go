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

func TestPollAddFiresOnReadable(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	waitCh := make(chan struct {
		mask uint32
		err  error
	}, 1)
	go func() {
		mask, err := NewPollAdd(ring, int32(r.Fd()), unix.POLLIN).Wait()
		waitCh <- struct {
			mask uint32
			err  error
		}{mask, err}
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	_, rerr := ring.RunOnce()
	require.NoError(t, rerr)

	select {
	case res := <-waitCh:
		require.NoError(t, res.err)
		assert.NotZero(t, res.mask&unix.POLLIN)
	case <-time.After(2 * time.Second):
		t.Fatal("poll add never completed")
	}
}

func TestPollAddMultishotFiresRepeatedly(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	events := make(chan MultiShot[uint32], 4)
	multi := NewPollAddMultishot(ring, int32(r.Fd()), unix.POLLIN)
	require.NoError(t, multi.OnComplete(func(m MultiShot[uint32]) { events <- m }))

	buf := make([]byte, 1)
	for i := 0; i < 2; i++ {
		_, err = w.Write([]byte("y"))
		require.NoError(t, err)

		select {
		case ev := <-events:
			require.NoError(t, ev.Err)
			assert.NotZero(t, ev.Item&unix.POLLIN)
		case <-time.After(2 * time.Second):
			t.Fatalf("multishot poll firing %d never arrived", i)
		}
		_, err = r.Read(buf)
		require.NoError(t, err)
	}
}

func TestPollRemoveCancelsPendingPoll(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	poll := NewPollAdd(ring, int32(r.Fd()), unix.POLLIN)
	errCh := make(chan error, 1)
	require.NoError(t, poll.OnComplete(func(_ uint32, err error) { errCh <- err }))

	require.NoError(t, NewPollRemove(ring, poll).Wait())

	select {
	case err := <-errCh:
		assert.True(t, IsCanceled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("removed poll never completed")
	}
}

func TestPollUpdateChangesEventMask(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	events := make(chan MultiShot[uint32], 4)
	multi := NewPollAddMultishot(ring, int32(w.Fd()), unix.POLLIN)
	require.NoError(t, multi.OnComplete(func(m MultiShot[uint32]) { events <- m }))

	require.NoError(t, NewPollUpdate(ring, multi).Events(unix.POLLOUT).Wait())

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		assert.NotZero(t, ev.Item&unix.POLLOUT)
	case <-time.After(2 * time.Second):
		t.Fatal("updated poll never fired on new mask")
	}
}
