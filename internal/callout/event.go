package callout

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Events are named FIFOs. Each signal is one 8-byte call token, well below
// PIPE_BUF, so concurrent writes never interleave.
const tokenSize = 8

type token uint64

func (t token) bytes() []byte {
	var b [tokenSize]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t))
	return b[:]
}

// makeEvent creates the FIFO at path unless it already exists.
func makeEvent(path string) error {
	err := unix.Mkfifo(path, 0o660)
	if err == nil || errors.Is(err, unix.EEXIST) {
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			return fmt.Errorf("stat event %s: %w", path, err)
		}
		if st.Mode&unix.S_IFMT != unix.S_IFIFO {
			return fmt.Errorf("event %s exists and is not a fifo", path)
		}
		return nil
	}
	return fmt.Errorf("creating event %s: %w", path, err)
}

// openEvent opens a FIFO for both reading and writing. Such a handle never
// blocks on open, never sees EOF and counts as a reader for the other side.
// The returned file is registered with the runtime poller, so read
// deadlines apply.
func openEvent(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening event %s: %w", path, err)
	}
	return f, nil
}

// signalEvent writes t to the FIFO at path without blocking. It fails with
// ErrNoListener when nobody holds the FIFO open for reading.
func signalEvent(path string, t token) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) || errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("%w: %s: %w", ErrNoListener, path, err)
		}
		return fmt.Errorf("opening event %s: %w", path, err)
	}
	defer unix.Close(fd)

	n, err := unix.Write(fd, t.bytes())
	switch {
	case errors.Is(err, unix.EAGAIN):
		// The reader holds the FIFO open but has stopped draining it.
		return fmt.Errorf("%w: event %s is full", ErrTimeout, path)
	case errors.Is(err, unix.EPIPE):
		return fmt.Errorf("%w: %s: %w", ErrNoListener, path, err)
	case err != nil:
		return fmt.Errorf("signalling event %s: %w", path, err)
	case n != tokenSize:
		return fmt.Errorf("signalling event %s: short write %d", path, n)
	}
	return nil
}

// drainEvent discards whatever tokens are queued on f without waiting.
func drainEvent(f *os.File) error {
	if err := f.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var buf [512]byte
	return rc.Read(func(fd uintptr) bool {
		for {
			n, err := unix.Read(int(fd), buf[:])
			if n <= 0 || err != nil {
				return true
			}
		}
	})
}

// waitToken reads tokens from f until want arrives, the deadline passes or
// ctx is done. Tokens from earlier, abandoned calls are skipped.
func waitToken(ctx context.Context, f *os.File, want token, deadline time.Time) (stale int, err error) {
	if err := f.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	defer f.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { f.SetReadDeadline(time.Now()) })
	defer stop()

	var buf [tokenSize]byte
	for {
		if _, err := io.ReadFull(f, buf[:]); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if ctx.Err() != nil {
					return stale, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
				}
				return stale, ErrTimeout
			}
			return stale, fmt.Errorf("reading event: %w", err)
		}
		if token(binary.LittleEndian.Uint64(buf[:])) == want {
			return stale, nil
		}
		stale++
	}
}

// readToken blocks until one token arrives on f or its deadline passes.
func readToken(f *os.File) (token, error) {
	var buf [tokenSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return 0, err
	}
	return token(binary.LittleEndian.Uint64(buf[:])), nil
}

// postToken writes t to an event handle opened with openEvent.
func postToken(f *os.File, t token) error {
	if _, err := f.Write(t.bytes()); err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	return nil
}

// hasReader reports whether some process holds the FIFO at path open for
// reading.
func hasReader(path string) bool {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}
