//go:build linux

package iouxx

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// driveRing runs RunOnceTimeout in a loop until the returned stop function
// is called, the background pump every fixed-table test needs since
// teardown completions for tagged resources arrive asynchronously.
func driveRing(ring *Ring) (stop func()) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			ring.RunOnceTimeout(50 * time.Millisecond)
		}
	}()
	return func() { close(done) }
}

func TestUpdateFixedFileReleasesPriorOccupant(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r1, w1, err := os.Pipe()
	require.NoError(t, err)
	defer r1.Close()
	defer w1.Close()

	require.NoError(t, ring.RegisterFixedFiles([]int32{int32(r1.Fd()), -1}))

	var mu sync.Mutex
	released := map[uint32]bool{}
	onRelease := func(slot uint32) {
		mu.Lock()
		released[slot] = true
		mu.Unlock()
	}

	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	defer r2.Close()
	defer w2.Close()

	require.NoError(t, ring.UpdateFixedFile(0, int32(r2.Fd()), onRelease))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return released[0]
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ring.UnregisterFixedFiles())
}

func TestFdTableSparseLifecycle(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	require.NoError(t, ring.RegisterFdTable(4))

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var mu sync.Mutex
	var released []uint32
	onRelease := func(slot uint32) {
		mu.Lock()
		released = append(released, slot)
		mu.Unlock()
	}

	require.NoError(t, ring.UpdateFdTable(1, []int32{int32(r.Fd())}, onRelease))
	require.NoError(t, ring.UpdateFdTable(1, []int32{-1}, onRelease))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(released) == 1 && released[0] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBufferTableSparseLifecycle(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	require.NoError(t, ring.RegisterBufferTable(4))

	buf := make([]byte, 64)

	var mu sync.Mutex
	var released []uint32
	onRelease := func(slot uint32) {
		mu.Lock()
		released = append(released, slot)
		mu.Unlock()
	}

	require.NoError(t, ring.UpdateBufferTable(2, [][]byte{buf}, onRelease))
	require.NoError(t, ring.UpdateBufferTable(2, [][]byte{{}}, onRelease))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(released) == 1 && released[0] == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegisterFdsWholesaleReplace(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var mu sync.Mutex
	var released []uint32
	onRelease := func(slot uint32) {
		mu.Lock()
		released = append(released, slot)
		mu.Unlock()
	}

	require.NoError(t, ring.RegisterFds([]int32{int32(r.Fd()), -1}, onRelease))
	require.NoError(t, ring.RegisterFds([]int32{-1, -1}, onRelease))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(released) == 1 && released[0] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegisterBuffersWholesaleReplace(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	defer driveRing(ring)()

	buf := make([]byte, 128)

	var mu sync.Mutex
	var released []uint32
	onRelease := func(slot uint32) {
		mu.Lock()
		released = append(released, slot)
		mu.Unlock()
	}

	require.NoError(t, ring.RegisterBuffers([][]byte{buf}, onRelease))
	require.NoError(t, ring.RegisterBuffers([][]byte{{}}, onRelease))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(released) == 1 && released[0] == 0
	}, 2*time.Second, 10*time.Millisecond)
}
