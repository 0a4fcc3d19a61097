//go:build linux

package iouxx

import (
	"time"

	"github.com/iouxx-go/iouxx/internal/sys"
)

// Timespec is the kernel timeout representation used by timeout, poll, and
// sync-cancel operations.
type Timespec = sys.Timespec

// Clock selects which kernel clock a timeout operation measures against.
// The kernel only accepts these three for io_uring timeouts.
type Clock uint8

const (
	// ClockMonotonic is the default: time since an arbitrary starting
	// point, unaffected by wall-clock adjustments.
	ClockMonotonic Clock = iota
	// ClockRealtime tracks wall-clock time; requires IORING_TIMEOUT_REALTIME.
	ClockRealtime
	// ClockBoottime includes time spent suspended; requires IORING_TIMEOUT_BOOTTIME.
	ClockBoottime
)

func (c Clock) flag() uint32 {
	switch c {
	case ClockRealtime:
		return sys.IORING_TIMEOUT_REALTIME
	case ClockBoottime:
		return sys.IORING_TIMEOUT_BOOTTIME
	default:
		return 0
	}
}

// TimespecFromDuration converts a relative Go duration into a Timespec
// suitable for a relative timeout operation.
func TimespecFromDuration(d time.Duration) Timespec {
	if d < 0 {
		d = 0
	}
	return Timespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
}

// TimespecFromTime converts an absolute time.Time into a Timespec suitable
// for an absolute timeout operation (IORING_TIMEOUT_ABS).
func TimespecFromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}
