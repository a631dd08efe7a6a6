package callout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	// ErrNoListener means no callout module has the channel open.
	ErrNoListener = errors.New("callout: no listener")
	// ErrTimeout means the lock or the peer's completion did not arrive in
	// time. The channel stays usable.
	ErrTimeout = errors.New("callout: timed out")
	// ErrLock is an operating system failure of the channel lock.
	ErrLock = errors.New("callout: lock failure")
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("callout: channel closed")
	// ErrMalformedEnvelope means the region did not hold a valid envelope,
	// or the peer changed its hook type.
	ErrMalformedEnvelope = errors.New("callout: malformed envelope")
)

const (
	DefaultTimeout     = 3 * time.Second
	DefaultLockTimeout = 10 * time.Second
)

// State is the channel's position in a call, for diagnostics.
type State int32

const (
	StateIdle State = iota
	StateLocked
	StatePosted
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocked:
		return "locked"
	case StatePosted:
		return "posted"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config selects where the channel's objects live and how long calls wait.
type Config struct {
	Dir         string        // directory for Global\ objects, DefaultDir if empty
	Names       Names         // DefaultNames() if zero
	Timeout     time.Duration // wait for the peer's completion
	LockTimeout time.Duration // wait for the channel lock
	Logger      *slog.Logger
}

// Channel is one process's handle on the shared callout channel. A server
// calls Invoke; a callout module calls Serve. Both create missing objects.
type Channel struct {
	cfg    Config
	paths  objectPaths
	logger *slog.Logger

	region []byte // shared mapping, RegionSize bytes
	lock   *scopedLock
	reply  *os.File

	pid   uint32
	seq   atomic.Uint32
	state atomic.Int32

	mu          sync.Mutex
	closed      bool
	serving     bool
	stopServing context.CancelFunc
	serveWG     sync.WaitGroup
}

// Open attaches to the channel, creating the shared region, lock file and
// event FIFOs if they do not exist yet.
func Open(cfg Config) (*Channel, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Names == (Names{}) {
		cfg.Names = DefaultNames()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	paths, err := cfg.Names.paths(cfg.Dir)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		cfg:    cfg,
		paths:  paths,
		logger: cfg.Logger.With("component", "callout"),
		pid:    uint32(os.Getpid()),
	}

	if c.region, err = mapRegion(paths.shm); err != nil {
		return nil, err
	}
	if c.lock, err = openLock(paths.lock); err != nil {
		c.release()
		return nil, err
	}
	for _, p := range []string{paths.send, paths.reply} {
		if err := makeEvent(p); err != nil {
			c.release()
			return nil, err
		}
	}
	if c.reply, err = openEvent(paths.reply); err != nil {
		c.release()
		return nil, err
	}

	c.logger.Debug("callout channel open", "dir", cfg.Dir, "timeout", cfg.Timeout.String())
	return c, nil
}

func mapRegion(path string) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o660)
	if err != nil {
		return nil, fmt.Errorf("opening shared memory %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shared memory: %w", err)
	}
	if st.Size() < RegionSize {
		if err := f.Truncate(RegionSize); err != nil {
			return nil, fmt.Errorf("sizing shared memory: %w", err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap shared memory: %w", err)
	}
	return data, nil
}

// owner loads the token of the call the region currently belongs to. The
// mapping is page aligned, so the header word is safe for 64-bit atomics.
func (c *Channel) owner() token {
	return token(atomic.LoadUint64((*uint64)(unsafe.Pointer(&c.region[0]))))
}

func (c *Channel) claim(t token) token {
	return token(atomic.SwapUint64((*uint64)(unsafe.Pointer(&c.region[0])), uint64(t)))
}

func (c *Channel) envelope() []byte {
	return c.region[RegionHeaderSize:]
}

// State reports where the channel is in the current call.
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Channel) nextToken() token {
	return token(uint64(c.pid)<<32 | uint64(c.seq.Add(1)))
}

// Invoke posts env to the callout module and waits for its answer. Calls
// are serialized across all threads and processes sharing the channel; the
// order in which waiters get the lock is unspecified. The lock is released
// on every return path.
func (c *Channel) Invoke(ctx context.Context, env Envelope) (Envelope, error) {
	buf, err := env.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := c.lock.acquire(ctx, c.cfg.LockTimeout); err != nil {
		return nil, err
	}
	c.setState(StateLocked)
	defer func() {
		c.setState(StateIdle)
		if err := c.lock.release(); err != nil {
			c.logger.Error("releasing callout lock", "error", err)
		}
	}()

	// The token goes in before the envelope. A late answer to an earlier
	// call either lands before both or leaves its own token behind.
	tok := c.nextToken()
	c.claim(tok)
	copy(c.envelope(), buf)
	if err := drainEvent(c.reply); err != nil {
		return nil, fmt.Errorf("draining reply event: %w", err)
	}

	if err := signalEvent(c.paths.send, tok); err != nil {
		return nil, err
	}
	c.setState(StatePosted)

	deadline := time.Now().Add(c.cfg.Timeout)
	c.setState(StateAwaitingResponse)
	stale, err := waitToken(ctx, c.reply, tok, deadline)
	if stale > 0 {
		c.logger.Debug("discarded stale callout completions", "count", stale)
	}
	if err != nil {
		c.logger.Debug("callout not answered", "hook", env.Hook().String(), "error", err)
		return nil, err
	}

	out := make([]byte, OfferSize)
	copy(out, c.envelope())
	if owner := c.owner(); owner != tok {
		return nil, fmt.Errorf("%w: region taken over by call %016x", ErrMalformedEnvelope, uint64(owner))
	}
	hook, err := PeekHook(out)
	if err != nil {
		return nil, err
	}
	if hook != env.Hook() {
		return nil, fmt.Errorf("%w: peer changed hook type %s to %s", ErrMalformedEnvelope, env.Hook(), hook)
	}
	res, err := Decode(out)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Close detaches from the channel. An in-flight Invoke finishes first and
// a running Serve returns. The named objects are left in place for other
// processes.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop := c.stopServing
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.serveWG.Wait()

	// Wait out an in-flight Invoke.
	c.lock.sem <- struct{}{}
	defer func() { <-c.lock.sem }()

	return c.release()
}

func (c *Channel) release() error {
	var errs []error
	if c.region != nil {
		if err := unix.Munmap(c.region); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		c.region = nil
	}
	if c.reply != nil {
		if err := c.reply.Close(); err != nil {
			errs = append(errs, err)
		}
		c.reply = nil
	}
	if c.lock != nil {
		if err := c.lock.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Listening reports whether a callout module is attached.
func (c *Channel) Listening() bool {
	return hasReader(c.paths.send)
}
