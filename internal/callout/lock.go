package callout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// scopedLock serializes callers within the process with a one-slot
// semaphore and across processes with flock(2) on the lock file. flock is
// per open file description, so goroutines sharing the file would not
// exclude each other without the semaphore. No fairness is provided.
type scopedLock struct {
	file   *os.File
	sem    chan struct{}
	closed bool // guarded by sem
}

func openLock(path string) (*scopedLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o660)
	if err != nil {
		return nil, fmt.Errorf("opening lock %s: %w", path, err)
	}
	return &scopedLock{file: f, sem: make(chan struct{}, 1)}, nil
}

// acquire waits up to timeout (or ctx) for the lock. Contention past the
// deadline is ErrTimeout; any other OS failure is ErrLock.
func (l *scopedLock) acquire(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for in-process holder: %w", ErrTimeout, ctx.Err())
	}
	if l.closed {
		<-l.sem
		return ErrClosed
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Millisecond
	retry.MaxInterval = 50 * time.Millisecond
	retry.MaxElapsedTime = 0 // bounded by ctx

	err := backoff.Retry(func() error {
		err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(retry, ctx))
	if err == nil {
		return nil
	}

	<-l.sem
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: waiting for lock holder in another process: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: flock: %w", ErrLock, err)
}

func (l *scopedLock) release() error {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	<-l.sem
	if err != nil {
		return fmt.Errorf("%w: unlock: %w", ErrLock, err)
	}
	return nil
}

// close must be called with the semaphore held.
func (l *scopedLock) close() error {
	l.closed = true
	return l.file.Close()
}
