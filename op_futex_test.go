//go:build linux

package iouxx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutexWaitWake(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			ring.RunOnceTimeout(50 * time.Millisecond)
		}
	}()

	var word uint32

	waitErr := make(chan error, 1)
	go func() { waitErr <- NewFutexWait(ring, &word, 0).Wait() }()

	time.Sleep(20 * time.Millisecond)
	atomic.StoreUint32(&word, 1)

	woken, err := NewFutexWake(ring, &word, FutexWakeAll).Wait()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, woken, 0)

	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("futex wait never completed")
	}
}

func TestFutexWaitvWakesCorrectEntry(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			ring.RunOnceTimeout(50 * time.Millisecond)
		}
	}()

	var wordA, wordB uint32
	entries := []FutexWaitvEntry{
		{Addr: &wordA, Expected: 0, Private: true},
		{Addr: &wordB, Expected: 0, Private: true},
	}

	type outcome struct {
		idx int
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		idx, err := NewFutexWaitv(ring, entries).Wait()
		resultCh <- outcome{idx, err}
	}()

	time.Sleep(20 * time.Millisecond)
	atomic.StoreUint32(&wordB, 1)
	_, err := NewFutexWake(ring, &wordB, FutexWakeAll).Wait()
	require.NoError(t, err)

	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		assert.Equal(t, 1, r.idx)
	case <-time.After(2 * time.Second):
		t.Fatal("futex waitv never completed")
	}
}
