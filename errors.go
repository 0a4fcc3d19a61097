//go:build linux

package iouxx

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors for conditions that do not originate from the kernel.
var (
	// ErrRingClosed is returned by any ring operation attempted after
	// Close or Shutdown has completed.
	ErrRingClosed = errors.New("iouxx: ring is closed")

	// ErrNotSupported is returned when an operation's opcode is not in
	// the ring's cached feature probe, or a capability is unavailable
	// given the ring's setup.
	ErrNotSupported = errors.New("iouxx: operation not supported by this kernel or ring configuration")

	// ErrQueueFull is returned by Submit when the submission queue has
	// no free slot; Submit neither blocks nor retries.
	ErrQueueFull = errors.New("iouxx: submission queue full")

	// ErrNoCompletion reports that no completion is currently available.
	// No call in this package returns it; IsTryAgain recognizes it.
	ErrNoCompletion = errors.New("iouxx: no completion available")

	// ErrSlotInUse reports a fixed-table slot that already holds a live
	// resource. The exported registration calls do not return it.
	ErrSlotInUse = errors.New("iouxx: fixed table slot already occupied")

	// ErrSlotVacant reports a fixed-table slot that holds no resource.
	// The exported update/unregister calls do not return it.
	ErrSlotVacant = errors.New("iouxx: fixed table slot is vacant")
)

// KernelError wraps a negative CQE result as a Go error, preserving the
// raw errno for errors.Is/As against golang.org/x/sys/unix.Errno.
type KernelError struct {
	Op  string
	Err unix.Errno
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("iouxx: %s: %s", e.Op, e.Err.Error())
}

func (e *KernelError) Unwrap() error { return e.Err }

func (e *KernelError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// resultError converts a raw CQE result into a Go error: nil for res >= 0,
// otherwise a *KernelError wrapping the negated errno.
func resultError(op string, res int32) error {
	if res >= 0 {
		return nil
	}
	return &KernelError{Op: op, Err: unix.Errno(-res)}
}

// IsCanceled reports whether err represents ECANCELED, the result
// delivered to a completion whose operation was canceled.
func IsCanceled(err error) bool { return errors.Is(err, unix.ECANCELED) }

// IsNotSupported reports whether err represents ENOSYS/EOPNOTSUPP, or is
// the library's own ErrNotSupported for a feature-gated unavailability.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported) ||
		errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EOPNOTSUPP)
}

// IsTryAgain reports whether err represents EAGAIN/EWOULDBLOCK, or the
// library's own ErrQueueFull/ErrNoCompletion exhaustion conditions.
func IsTryAgain(err error) bool {
	return errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrNoCompletion) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK)
}
