package callout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestChannel(t *testing.T, dir string, timeout time.Duration) *Channel {
	t.Helper()
	c, err := Open(Config{
		Dir:         dir,
		Timeout:     timeout,
		LockTimeout: 5 * time.Second,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// startPeer serves h on a fresh channel handle in dir and waits until the
// server side can see it.
func startPeer(t *testing.T, dir string, h Handler) (*Channel, <-chan error) {
	t.Helper()
	peer := openTestChannel(t, dir, time.Second)
	done := make(chan error, 1)
	go func() { done <- peer.Serve(context.Background(), h) }()
	require.Eventually(t, peer.Listening, 2*time.Second, 5*time.Millisecond)
	return peer, done
}

func TestOpenCreatesObjects(t *testing.T) {
	dir := t.TempDir()
	c := openTestChannel(t, dir, time.Second)
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Listening())

	for _, name := range []string{NameSharedMemory, NameLock, NameSendEvent, NameReplyEvent} {
		path, err := ObjectPath(dir, name)
		require.NoError(t, err)
		assert.FileExists(t, path)
	}

	// A second handle attaches to the same objects.
	c2 := openTestChannel(t, dir, time.Second)
	copy(c.region, []byte{0xab})
	assert.Equal(t, byte(0xab), c2.region[0])
}

func TestInvokeNoListener(t *testing.T) {
	c := openTestChannel(t, t.TempDir(), time.Second)

	start := time.Now()
	_, err := c.Invoke(context.Background(), &ClientDelete{})
	assert.ErrorIs(t, err, ErrNoListener)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateIdle, c.State())
}

func TestInvokeOverride(t *testing.T) {
	dir := t.TempDir()
	startPeer(t, dir, HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) {
		offer := env.(*AddressOffer)
		offer.Control = ControlOverride
		offer.IPAddress = net.IPv4(192, 168, 1, 77)
		offer.LeaseTime = 600
		return offer, nil
	}))
	server := openTestChannel(t, dir, time.Second)

	res, err := server.Invoke(context.Background(), &AddressOffer{
		IPAddress: net.IPv4(192, 168, 1, 10),
		AddrType:  ClientDHCP,
		LeaseTime: 3600,
		Packet:    []byte{1, 2, 3},
	})
	require.NoError(t, err)
	offer, ok := res.(*AddressOffer)
	require.True(t, ok)
	assert.Equal(t, ControlOverride, offer.Control)
	assert.Equal(t, "192.168.1.77", offer.IPAddress.String())
	assert.Equal(t, uint32(600), offer.LeaseTime)
	assert.Equal(t, []byte{1, 2, 3}, offer.Packet)
}

func TestInvokeHandlerErrorLeavesEnvelope(t *testing.T) {
	dir := t.TempDir()
	startPeer(t, dir, HandlerFunc(func(context.Context, Envelope) (Envelope, error) {
		return nil, errors.New("policy unavailable")
	}))
	server := openTestChannel(t, dir, time.Second)

	in := &AddressDelete{IPAddress: net.IPv4(10, 0, 0, 5), Packet: []byte{9}}
	res, err := server.Invoke(context.Background(), in)
	require.NoError(t, err)
	del := res.(*AddressDelete)
	assert.Equal(t, ControlProceed, del.Control)
	assert.True(t, del.IPAddress.Equal(in.IPAddress))
}

func TestInvokeHandlerChangedVariantIgnored(t *testing.T) {
	dir := t.TempDir()
	startPeer(t, dir, HandlerFunc(func(context.Context, Envelope) (Envelope, error) {
		return &ClientDelete{}, nil
	}))
	server := openTestChannel(t, dir, time.Second)

	res, err := server.Invoke(context.Background(), &AddressOffer{LeaseTime: 5})
	require.NoError(t, err)
	assert.Equal(t, uint32(5), res.(*AddressOffer).LeaseTime)
}

func TestInvokeHandlerPanicCompletes(t *testing.T) {
	dir := t.TempDir()
	startPeer(t, dir, HandlerFunc(func(context.Context, Envelope) (Envelope, error) {
		panic("boom")
	}))
	server := openTestChannel(t, dir, time.Second)

	_, err := server.Invoke(context.Background(), &ClientDelete{})
	assert.NoError(t, err)
}

func TestInvokePeerRewritesHookType(t *testing.T) {
	dir := t.TempDir()
	server := openTestChannel(t, dir, time.Second)

	// A raw peer that stamps a different hook type into the region.
	peer := openTestChannel(t, dir, time.Second)
	send, err := openEvent(peer.paths.send)
	require.NoError(t, err)
	defer send.Close()
	go func() {
		tok, err := readToken(send)
		if err != nil {
			return
		}
		b, _ := (&ClientDelete{}).MarshalBinary()
		copy(peer.envelope(), b)
		postToken(peer.reply, tok)
	}()

	_, err = server.Invoke(context.Background(), &AddressOffer{})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	assert.Equal(t, StateIdle, server.State())
}

func TestInvokeTimeoutThenRecovers(t *testing.T) {
	dir := t.TempDir()
	const timeout = 200 * time.Millisecond

	var calls atomic.Int32
	unblock := make(chan struct{})
	startPeer(t, dir, HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) {
		if calls.Add(1) == 1 {
			<-unblock
			return nil, errors.New("too late")
		}
		offer := env.(*AddressOffer)
		offer.Control = ControlOverride
		return offer, nil
	}))
	server := openTestChannel(t, dir, timeout)

	start := time.Now()
	_, err := server.Invoke(context.Background(), &AddressOffer{LeaseTime: 1})
	elapsed := time.Since(start)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
	assert.Equal(t, StateIdle, server.State())

	// The late completion of the first call must not be taken as the
	// answer to the second.
	close(unblock)

	res, err := server.Invoke(context.Background(), &AddressOffer{LeaseTime: 2})
	require.NoError(t, err)
	offer := res.(*AddressOffer)
	assert.Equal(t, ControlOverride, offer.Control)
	assert.Equal(t, uint32(2), offer.LeaseTime)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeLateAnswerAfterNextCallPosted(t *testing.T) {
	dir := t.TempDir()
	const timeout = 500 * time.Millisecond

	var (
		calls atomic.Int32
		mu    sync.Mutex
		seen  []uint32
	)
	unblock := make(chan struct{})
	startPeer(t, dir, HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) {
		offer := env.(*AddressOffer)
		mu.Lock()
		seen = append(seen, offer.LeaseTime)
		mu.Unlock()
		if calls.Add(1) == 1 {
			<-unblock
			offer.Control = ControlOverride
			offer.LeaseTime = 999
			return offer, nil
		}
		offer.Control = ControlOverride
		return offer, nil
	}))
	server := openTestChannel(t, dir, timeout)

	_, err := server.Invoke(context.Background(), &AddressOffer{LeaseTime: 1})
	require.ErrorIs(t, err, ErrTimeout)

	type result struct {
		env Envelope
		err error
	}
	second := make(chan result, 1)
	go func() {
		env, err := server.Invoke(context.Background(), &AddressOffer{LeaseTime: 2})
		second <- result{env, err}
	}()

	// Release the first handler only once the second call is posted, so its
	// answer arrives while the region holds the second envelope.
	require.Eventually(t, func() bool {
		return server.State() == StateAwaitingResponse
	}, 2*time.Second, time.Millisecond)
	close(unblock)

	res := <-second
	require.NoError(t, res.err)
	offer := res.env.(*AddressOffer)
	assert.Equal(t, ControlOverride, offer.Control)
	assert.Equal(t, uint32(2), offer.LeaseTime)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{1, 2}, seen)
}

func TestInvokeRejectsForeignOwner(t *testing.T) {
	dir := t.TempDir()
	server := openTestChannel(t, dir, time.Second)

	// A raw peer whose answer carries another call's token, as a late
	// result that overlapped this call would.
	peer := openTestChannel(t, dir, time.Second)
	send, err := openEvent(peer.paths.send)
	require.NoError(t, err)
	defer send.Close()
	go func() {
		tok, err := readToken(send)
		if err != nil {
			return
		}
		b, _ := (&AddressOffer{Control: ControlReject}).MarshalBinary()
		copy(peer.envelope(), b)
		peer.claim(tok + 1)
		postToken(peer.reply, tok)
	}()

	_, err = server.Invoke(context.Background(), &AddressOffer{})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	assert.Equal(t, StateIdle, server.State())
}

func TestHandleSkipsAbandonedCall(t *testing.T) {
	c := openTestChannel(t, t.TempDir(), time.Second)

	b, err := (&AddressOffer{LeaseTime: 7}).MarshalBinary()
	require.NoError(t, err)
	copy(c.envelope(), b)
	c.claim(token(2))

	var called bool
	h := HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) {
		called = true
		offer := env.(*AddressOffer)
		offer.LeaseTime = 999
		return offer, nil
	})

	c.handle(context.Background(), h, token(1))
	assert.False(t, called, "handler ran for a call that no longer owns the region")
	assert.Equal(t, token(2), c.owner())

	env, err := Decode(c.envelope())
	require.NoError(t, err)
	assert.Equal(t, uint32(7), env.(*AddressOffer).LeaseTime)

	tok, err := readToken(c.reply)
	require.NoError(t, err)
	assert.Equal(t, token(1), tok, "abandoned calls are still completed")
}

func TestInvokeContextCancel(t *testing.T) {
	dir := t.TempDir()
	block := make(chan struct{})
	defer close(block)
	startPeer(t, dir, HandlerFunc(func(context.Context, Envelope) (Envelope, error) {
		<-block
		return nil, nil
	}))
	server := openTestChannel(t, dir, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := server.Invoke(ctx, &ClientDelete{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInvokeNoListenerThenAttach(t *testing.T) {
	dir := t.TempDir()
	server := openTestChannel(t, dir, 200*time.Millisecond)

	_, err := server.Invoke(context.Background(), &ClientDelete{})
	require.ErrorIs(t, err, ErrNoListener)

	startPeer(t, dir, HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) {
		return env, nil
	}))
	_, err = server.Invoke(context.Background(), &ClientDelete{})
	assert.NoError(t, err)
}

// TestInvokeTotalOrder runs many concurrent calls from two server handles,
// standing in for two server processes, against a recording peer.
func TestInvokeTotalOrder(t *testing.T) {
	dir := t.TempDir()

	var (
		inside   atomic.Int32
		overlaps atomic.Int32
		mu       sync.Mutex
		order    []uint32
	)
	startPeer(t, dir, HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) {
		if inside.Add(1) != 1 {
			overlaps.Add(1)
		}
		defer inside.Add(-1)

		offer := env.(*AddressOffer)
		mu.Lock()
		order = append(order, offer.LeaseTime)
		mu.Unlock()
		time.Sleep(time.Millisecond)

		offer.Control = ControlOverride
		offer.AltAddr = offer.IPAddress
		return offer, nil
	}))

	servers := []*Channel{
		openTestChannel(t, dir, 5*time.Second),
		openTestChannel(t, dir, 5*time.Second),
	}

	const perServer = 12
	var wg sync.WaitGroup
	errs := make(chan error, 2*perServer)
	for s, server := range servers {
		for i := 0; i < perServer; i++ {
			id := uint32(s*perServer + i + 1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				ip := net.IPv4(10, 0, byte(s), byte(i+1))
				res, err := server.Invoke(context.Background(), &AddressOffer{IPAddress: ip, LeaseTime: id})
				if err != nil {
					errs <- err
					return
				}
				offer := res.(*AddressOffer)
				if offer.LeaseTime != id || !offer.AltAddr.Equal(ip) {
					errs <- fmt.Errorf("call %d got answer for call %d (%s)", id, offer.LeaseTime, offer.AltAddr)
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Zero(t, overlaps.Load(), "handler saw overlapping calls")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2*perServer)
	seen := make(map[uint32]bool)
	for _, id := range order {
		assert.False(t, seen[id], "call %d observed twice", id)
		seen[id] = true
	}
}

func TestLockContention(t *testing.T) {
	dir := t.TempDir()
	server, err := Open(Config{Dir: dir, Timeout: time.Second, LockTimeout: 100 * time.Millisecond, Logger: quietLogger()})
	require.NoError(t, err)
	defer server.Close()

	// Another handle on the lock file, as another process would have.
	path, err := ObjectPath(dir, NameLock)
	require.NoError(t, err)
	other, err := openLock(path)
	require.NoError(t, err)
	defer other.close()
	require.NoError(t, other.acquire(context.Background(), time.Second))

	_, err = server.Invoke(context.Background(), &ClientDelete{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrLock)

	require.NoError(t, other.release())
	_, err = server.Invoke(context.Background(), &ClientDelete{})
	assert.ErrorIs(t, err, ErrNoListener)
}

func TestCloseStopsServe(t *testing.T) {
	dir := t.TempDir()
	peer, done := startPeer(t, dir, HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) {
		return env, nil
	}))

	assert.ErrorIs(t, peer.Serve(context.Background(), nil), ErrServing)

	require.NoError(t, peer.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	_, err := peer.Invoke(context.Background(), &ClientDelete{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, peer.Serve(context.Background(), nil), ErrClosed)
	assert.NoError(t, peer.Close())
}

func TestServeStopsOnContext(t *testing.T) {
	peer := openTestChannel(t, t.TempDir(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- peer.Serve(ctx, HandlerFunc(func(_ context.Context, env Envelope) (Envelope, error) { return env, nil }))
	}()
	require.Eventually(t, peer.Listening, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, peer.Listening())
}

func TestObjectPath(t *testing.T) {
	p, err := ObjectPath("/dev/shm", NameSharedMemory)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/dev/shm", "SHM_CALLOUT_NAME_{096DEB52-BA7A-40E9-8A3B-3A528D1243CB}"), p)

	p, err = ObjectPath("/run/callout", `Local\test_lock`)
	require.NoError(t, err)
	assert.Equal(t, "/run/callout/test_lock", p)

	p, err = ObjectPath("/tmp", "plain")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/plain", p)

	for _, bad := range []string{`Session\x`, `Global\`, `Global\a/b`, `Global\..`} {
		_, err := ObjectPath("/tmp", bad)
		assert.Error(t, err, bad)
	}
}
