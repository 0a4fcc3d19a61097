//go:build linux

package iouxx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// skipIfNoIOURing skips the calling test on kernels/containers where
// io_uring is unavailable (missing syscall, or blocked by seccomp).
func skipIfNoIOURing(t *testing.T) *Ring {
	t.Helper()
	ring, err := New(32)
	if err != nil {
		if err == unix.ENOSYS {
			t.Skip("io_uring not supported on this kernel")
		}
		if err == unix.EPERM {
			t.Skip("io_uring blocked by seccomp or permissions")
		}
		t.Skipf("io_uring unavailable: %v", err)
	}
	return ring
}

func TestNewRing(t *testing.T) {
	tests := []struct {
		name    string
		entries uint32
		opts    []Option
		wantErr bool
	}{
		{"default_32", 32, nil, false},
		{"default_128", 128, nil, false},
		{"non_power_of_two", 100, nil, false},
		{"zero_entries", 0, nil, true},
		{"with_cqsize", 32, []Option{WithCQSize(128)}, false},
		{"with_single_issuer", 32, []Option{WithSingleIssuer()}, false},
		{"with_clamp", 32, []Option{WithClamp()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring, err := New(tt.entries, tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			if err != nil {
				if err == unix.ENOSYS || err == unix.EPERM {
					t.Skipf("io_uring unavailable: %v", err)
				}
				require.NoError(t, err)
			}
			defer ring.Close()
			assert.GreaterOrEqual(t, ring.Fd(), 0)
			assert.NotZero(t, ring.SQEntries())
			assert.NotZero(t, ring.CQEntries())
		})
	}
}

func TestRingCloseIdempotent(t *testing.T) {
	ring := skipIfNoIOURing(t)
	require.NoError(t, ring.Close())
	require.NoError(t, ring.Close())
}

func TestRingClosedRejectsSubmit(t *testing.T) {
	ring := skipIfNoIOURing(t)
	require.NoError(t, ring.Close())

	op := NewNop(ring)
	err := ring.Submit(op)
	assert.ErrorIs(t, err, ErrRingClosed)
}

func TestNopRoundTripDisciplines(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	t.Run("sync", func(t *testing.T) {
		waitErr := make(chan error, 1)
		go func() { waitErr <- NewNop(ring).Wait() }()
		_, err := ring.RunOnce()
		require.NoError(t, err)
		require.NoError(t, <-waitErr)
	})

	t.Run("callback", func(t *testing.T) {
		done := make(chan error, 1)
		op := NewNop(ring)
		require.NoError(t, op.OnComplete(func(err error) { done <- err }))
		_, err := ring.RunOnce()
		require.NoError(t, err)
		require.NoError(t, <-done)
	})
}

func TestSQFullReturnsErrQueueFull(t *testing.T) {
	ring, err := New(1, WithClamp())
	require.NoError(t, err)
	defer ring.Close()

	// Exhaust every local slot via GetSQE (which never flushes to the
	// kernel on its own) before Submit gets a chance to make room.
	for ring.GetSQE() != nil {
	}

	err = ring.Submit(NewNop(ring))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDrainReadyNoCompletions(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()
	assert.Equal(t, 0, ring.DrainReady())
}

func TestProbeSupportsKnownOps(t *testing.T) {
	ring := skipIfNoIOURing(t)
	defer ring.Close()

	probe, err := ring.ProbeSupported()
	require.NoError(t, err)
	assert.True(t, probe.SupportsOp(sys.IORING_OP_NOP))
	assert.False(t, probe.SupportsOp(sys.Op(255)))
}
