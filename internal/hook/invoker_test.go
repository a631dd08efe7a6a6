package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/events"
)

type fakeCaller struct {
	mu    sync.Mutex
	calls []callout.Envelope
	fn    func(callout.Envelope) (callout.Envelope, error)
}

func (f *fakeCaller) Invoke(_ context.Context, env callout.Envelope) (callout.Envelope, error) {
	f.mu.Lock()
	f.calls = append(f.calls, env)
	f.mu.Unlock()
	return f.fn(env)
}

func (f *fakeCaller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failWith(err error) *fakeCaller {
	return &fakeCaller{fn: func(callout.Envelope) (callout.Envelope, error) { return nil, err }}
}

func TestOfferDefaultsOnChannelErrors(t *testing.T) {
	ip := net.IPv4(192, 168, 1, 10)
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"no listener", fmt.Errorf("%w: /dev/shm/x", callout.ErrNoListener), OutcomeNoListener},
		{"timeout", callout.ErrTimeout, OutcomeTimeout},
		{"malformed", fmt.Errorf("%w: changed hook", callout.ErrMalformedEnvelope), OutcomeMalformed},
		{"other", errors.New("boom"), OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewInvoker(failWith(tt.err), nil, quiet())
			d := inv.OfferAddress(context.Background(), ip, callout.ClientDHCP, 3600, []byte{1})
			assert.False(t, d.Reject)
			assert.True(t, d.IP.Equal(ip))
			assert.Equal(t, uint32(3600), d.LeaseTime)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.False(t, inv.Disabled())
		})
	}
}

func TestOfferOverride(t *testing.T) {
	caller := &fakeCaller{fn: func(env callout.Envelope) (callout.Envelope, error) {
		offer := *env.(*callout.AddressOffer)
		offer.Control = callout.ControlOverride
		offer.IPAddress = net.IPv4(192, 168, 1, 99)
		offer.AltAddr = net.IPv4(192, 168, 2, 99)
		offer.LeaseTime = 120
		return &offer, nil
	}}
	inv := NewInvoker(caller, nil, quiet())

	d := inv.OfferAddress(context.Background(), net.IPv4(192, 168, 1, 10), callout.ClientBOOTP, 3600, nil)
	assert.True(t, d.Overridden())
	assert.Equal(t, "192.168.1.99", d.IP.String())
	assert.Equal(t, "192.168.2.99", d.AltIP.String())
	assert.Equal(t, uint32(120), d.LeaseTime)

	require.Equal(t, 1, caller.count())
	sent := caller.calls[0].(*callout.AddressOffer)
	assert.Equal(t, callout.ControlProceed, sent.Control)
	assert.Equal(t, callout.ClientBOOTP, sent.AddrType)
}

func TestOfferOverrideKeepsZeroFields(t *testing.T) {
	caller := &fakeCaller{fn: func(env callout.Envelope) (callout.Envelope, error) {
		return &callout.AddressOffer{Control: callout.ControlOverride}, nil
	}}
	inv := NewInvoker(caller, nil, quiet())

	ip := net.IPv4(10, 0, 0, 1)
	d := inv.OfferAddress(context.Background(), ip, callout.ClientDHCP, 600, nil)
	assert.Equal(t, OutcomeOverride, d.Outcome)
	assert.True(t, d.IP.Equal(ip))
	assert.Equal(t, uint32(600), d.LeaseTime)
}

func TestOfferRejectAndUnknownControl(t *testing.T) {
	control := callout.ControlReject
	caller := &fakeCaller{fn: func(env callout.Envelope) (callout.Envelope, error) {
		offer := *env.(*callout.AddressOffer)
		offer.Control = control
		return &offer, nil
	}}
	inv := NewInvoker(caller, nil, quiet())

	d := inv.OfferAddress(context.Background(), net.IPv4(10, 0, 0, 1), callout.ClientDHCP, 600, nil)
	assert.True(t, d.Reject)
	assert.Equal(t, OutcomeReject, d.Outcome)

	control = callout.ControlCode(42)
	d = inv.OfferAddress(context.Background(), net.IPv4(10, 0, 0, 1), callout.ClientDHCP, 600, nil)
	assert.False(t, d.Reject)
	assert.Equal(t, OutcomeProceed, d.Outcome)
}

func TestDeleteAddress(t *testing.T) {
	caller := &fakeCaller{fn: func(env callout.Envelope) (callout.Envelope, error) {
		del := *env.(*callout.AddressDelete)
		del.Control = callout.ControlReject
		return &del, nil
	}}
	inv := NewInvoker(caller, nil, quiet())

	d := inv.DeleteAddress(context.Background(), net.IPv4(10, 0, 0, 7), []byte{1, 2})
	assert.True(t, d.Reject)

	inv = NewInvoker(failWith(callout.ErrNoListener), nil, quiet())
	d = inv.DeleteAddress(context.Background(), net.IPv4(10, 0, 0, 7), nil)
	assert.False(t, d.Reject)
	assert.Equal(t, OutcomeNoListener, d.Outcome)
}

func TestDeleteClient(t *testing.T) {
	caller := &fakeCaller{fn: func(env callout.Envelope) (callout.Envelope, error) { return env, nil }}
	inv := NewInvoker(caller, nil, quiet())

	long := make(net.HardwareAddr, 20)
	out := inv.DeleteClient(context.Background(), net.IPv4(10, 0, 0, 3), long, callout.ClientDHCP)
	assert.Equal(t, OutcomeProceed, out)
	require.Equal(t, 1, caller.count())
	assert.Len(t, caller.calls[0].(*callout.ClientDelete).HWAddr, callout.HWAddrMax)
}

func TestLockFailureDisablesHooks(t *testing.T) {
	bus := events.NewBus(16, quiet())
	sub := bus.Subscribe(16)
	go bus.Start()
	defer bus.Stop()

	caller := failWith(fmt.Errorf("%w: flock: bad file descriptor", callout.ErrLock))
	inv := NewInvoker(caller, bus, quiet())

	d := inv.OfferAddress(context.Background(), net.IPv4(10, 0, 0, 1), callout.ClientDHCP, 60, nil)
	assert.Equal(t, OutcomeLockError, d.Outcome)
	assert.True(t, inv.Disabled())

	d = inv.OfferAddress(context.Background(), net.IPv4(10, 0, 0, 1), callout.ClientDHCP, 60, nil)
	assert.Equal(t, OutcomeDisabled, d.Outcome)
	assert.False(t, d.Reject)
	assert.Equal(t, OutcomeDisabled, inv.DeleteClient(context.Background(), nil, nil, callout.ClientDHCP))
	assert.Equal(t, 1, caller.count(), "no calls after disabling")

	select {
	case evt := <-sub:
		assert.Equal(t, events.EventCalloutDisabled, evt.Type)
		assert.Contains(t, evt.Reason, "flock")
	case <-time.After(time.Second):
		t.Fatal("no disabled event published")
	}
}

func TestSuccessfulCallPublishesEvent(t *testing.T) {
	bus := events.NewBus(16, quiet())
	sub := bus.Subscribe(16)
	go bus.Start()
	defer bus.Stop()

	caller := &fakeCaller{fn: func(env callout.Envelope) (callout.Envelope, error) { return env, nil }}
	inv := NewInvoker(caller, bus, quiet())
	inv.DeleteAddress(context.Background(), net.IPv4(10, 9, 8, 7), nil)

	select {
	case evt := <-sub:
		assert.Equal(t, events.EventCalloutDelete, evt.Type)
		require.NotNil(t, evt.Callout)
		assert.Equal(t, events.SideServer, evt.Callout.Side)
		assert.Equal(t, "10.9.8.7", evt.Callout.IP.String())
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

// TestInvokerOverChannel drives the invoker through a real channel and a
// serving peer in the same process.
func TestInvokerOverChannel(t *testing.T) {
	dir := t.TempDir()
	peer, err := callout.Open(callout.Config{Dir: dir, Logger: quiet()})
	require.NoError(t, err)
	defer peer.Close()
	go peer.Serve(context.Background(), callout.HandlerFunc(func(_ context.Context, env callout.Envelope) (callout.Envelope, error) {
		if offer, ok := env.(*callout.AddressOffer); ok {
			offer.Control = callout.ControlReject
			return offer, nil
		}
		return nil, nil
	}))
	require.Eventually(t, peer.Listening, 2*time.Second, 5*time.Millisecond)

	server, err := callout.Open(callout.Config{Dir: dir, Timeout: time.Second, Logger: quiet()})
	require.NoError(t, err)
	defer server.Close()

	inv := NewInvoker(server, nil, quiet())
	d := inv.OfferAddress(context.Background(), net.IPv4(10, 0, 0, 2), callout.ClientDHCP, 60, nil)
	assert.True(t, d.Reject)
	d2 := inv.DeleteAddress(context.Background(), net.IPv4(10, 0, 0, 2), nil)
	assert.False(t, d2.Reject)
	assert.Equal(t, OutcomeProceed, d2.Outcome)
}
