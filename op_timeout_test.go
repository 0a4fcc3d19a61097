//go:build linux

package iouxx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutOneShotTiming(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	start := time.Now()
	err := NewTimeout(ring, TimespecFromDuration(30*time.Millisecond)).Wait()
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestTimeoutCancel(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	to := NewTimeout(ring, TimespecFromDuration(time.Hour))
	done := make(chan error, 1)
	require.NoError(t, to.OnComplete(func(m MultiShot[struct{}]) { done <- m.Err }))

	cancel := NewCancel(ring, to)
	cancelDone := make(chan int, 1)
	require.NoError(t, cancel.OnComplete(func(n int, err error) {
		require.NoError(t, err)
		cancelDone <- n
	}))

	for i := 0; i < 2; i++ {
		_, err := ring.RunOnce()
		require.NoError(t, err)
	}

	<-cancelDone
	err := <-done
	assert.True(t, IsCanceled(err))
}

func TestTimeoutMultishot(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	const reps = 5
	to := NewTimeout(ring, TimespecFromDuration(5*time.Millisecond)).Multishot()
	firings := make(chan MultiShot[struct{}], reps+1)
	require.NoError(t, to.OnComplete(func(m MultiShot[struct{}]) { firings <- m }))

	count := 0
	for count < reps {
		_, err := ring.RunOnce()
		require.NoError(t, err)
		select {
		case m := <-firings:
			require.NoError(t, m.Err)
			assert.True(t, m.More)
			count++
		default:
		}
	}

	remove := NewTimeoutRemove(ring, to)
	require.NoError(t, remove.Wait())
}

func TestTimeoutAwaitContextCancel(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	go func() {
		for i := 0; i < 5; i++ {
			ring.RunOnceTimeout(50 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := NewTimeout(ring, TimespecFromDuration(time.Hour)).Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutMultishotAbsoluteCombinationRejected(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	to := NewTimeout(ring, TimespecFromDuration(time.Hour)).Multishot().Absolute()
	assert.Panics(t, func() { _ = to.Wait() })
}

func TestLinkTimeoutBoundsOperation(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	to := NewTimeout(ring, TimespecFromDuration(time.Hour))
	link := NewLinkTimeout(ring, TimespecFromDuration(10*time.Millisecond))

	timeoutDone := make(chan error, 1)
	require.NoError(t, to.OnComplete(func(m MultiShot[struct{}]) { timeoutDone <- m.Err }))

	require.NoError(t, ring.SubmitLinked(to, link))

	for i := 0; i < 2; i++ {
		_, err := ring.RunOnce()
		require.NoError(t, err)
	}

	err := <-timeoutDone
	assert.True(t, IsCanceled(err))
}
