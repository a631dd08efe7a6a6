// Package hook is the server-side face of the callout channel. It turns
// the channel's errors into safe defaults, so a missing, slow or broken
// callout module never stops the server from answering clients.
package hook

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/events"
	"github.com/athena-dhcpd/dhcp-callout/internal/metrics"
)

// Caller is the blocking rendezvous with the callout module.
// *callout.Channel implements it.
type Caller interface {
	Invoke(ctx context.Context, env callout.Envelope) (callout.Envelope, error)
}

// Outcome labels for metrics and logs.
const (
	OutcomeProceed    = "proceed"
	OutcomeOverride   = "override"
	OutcomeReject     = "reject"
	OutcomeNoListener = "no_listener"
	OutcomeTimeout    = "timeout"
	OutcomeLockError  = "lock_error"
	OutcomeMalformed  = "malformed"
	OutcomeDisabled   = "disabled"
	OutcomeError      = "error"
)

// Decision is what the server should do after a callout.
type Decision struct {
	// Reject vetoes the offer or deletion.
	Reject bool
	// IP, AltIP and LeaseTime are the values to use. They equal the
	// server's proposal unless the module overrode them.
	IP        net.IP
	AltIP     net.IP
	LeaseTime uint32
	// Outcome says how the decision was reached.
	Outcome string
}

// Overridden reports whether the module replaced the server's values.
func (d Decision) Overridden() bool {
	return d.Outcome == OutcomeOverride
}

// Invoker posts callouts and maps every failure onto the server's own
// choice. After a lock failure it stops calling for the rest of the
// process lifetime.
type Invoker struct {
	caller   Caller
	bus      *events.Bus
	logger   *slog.Logger
	disabled atomic.Bool
}

// NewInvoker wraps caller. bus may be nil.
func NewInvoker(caller Caller, bus *events.Bus, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		caller: caller,
		bus:    bus,
		logger: logger.With("component", "hook"),
	}
}

// Disabled reports whether a lock failure has turned callouts off.
func (inv *Invoker) Disabled() bool {
	return inv.disabled.Load()
}

// OfferAddress asks the module about an address the server is about to
// offer. The packet is the client's raw request.
func (inv *Invoker) OfferAddress(ctx context.Context, ip net.IP, clientType callout.ClientType, leaseTime uint32, packet []byte) Decision {
	def := Decision{IP: ip, LeaseTime: leaseTime, Outcome: OutcomeProceed}
	env := &callout.AddressOffer{
		Control:   callout.ControlProceed,
		IPAddress: ip,
		AddrType:  clientType,
		LeaseTime: leaseTime,
		Packet:    packet,
	}

	res, outcome := inv.call(ctx, env)
	offer, ok := res.(*callout.AddressOffer)
	if !ok {
		def.Outcome = outcome
		return def
	}

	switch offer.Control {
	case callout.ControlReject:
		def.Reject = true
		def.Outcome = OutcomeReject
	case callout.ControlOverride:
		if offer.IPAddress != nil {
			def.IP = offer.IPAddress
		}
		def.AltIP = offer.AltAddr
		if offer.LeaseTime != 0 {
			def.LeaseTime = offer.LeaseTime
		}
		def.Outcome = OutcomeOverride
	}
	return def
}

// DeleteAddress asks the module before the server deletes an address
// binding.
func (inv *Invoker) DeleteAddress(ctx context.Context, ip net.IP, packet []byte) Decision {
	def := Decision{IP: ip, Outcome: OutcomeProceed}
	env := &callout.AddressDelete{
		Control:   callout.ControlProceed,
		IPAddress: ip,
		Packet:    packet,
	}

	res, outcome := inv.call(ctx, env)
	del, ok := res.(*callout.AddressDelete)
	if !ok {
		def.Outcome = outcome
		return def
	}

	switch del.Control {
	case callout.ControlReject:
		def.Reject = true
		def.Outcome = OutcomeReject
	case callout.ControlOverride:
		if del.IPAddress != nil {
			def.IP = del.IPAddress
		}
		def.AltIP = del.AltAddr
		def.Outcome = OutcomeOverride
	}
	return def
}

// DeleteClient notifies the module before the server deletes a client
// record. ClientDelete carries no control code; the deletion always goes
// ahead, and the returned outcome only reports whether the module saw it.
func (inv *Invoker) DeleteClient(ctx context.Context, ip net.IP, hw net.HardwareAddr, clientType callout.ClientType) string {
	if len(hw) > callout.HWAddrMax {
		hw = hw[:callout.HWAddrMax]
	}
	env := &callout.ClientDelete{
		IPAddress:  ip,
		HWAddr:     hw,
		ClientType: clientType,
	}
	_, outcome := inv.call(ctx, env)
	return outcome
}

// call runs one callout. It returns the module's envelope, or nil with the
// outcome that explains why the server's choice stands.
func (inv *Invoker) call(ctx context.Context, env callout.Envelope) (callout.Envelope, string) {
	hook := env.Hook().String()
	if inv.disabled.Load() {
		metrics.Invocations.WithLabelValues(hook, OutcomeDisabled).Inc()
		return nil, OutcomeDisabled
	}

	start := time.Now()
	res, err := inv.caller.Invoke(ctx, env)
	took := time.Since(start)
	metrics.InvocationDuration.WithLabelValues(hook).Observe(took.Seconds())

	if err != nil {
		outcome := inv.fail(env, err)
		metrics.Invocations.WithLabelValues(hook, outcome).Inc()
		return nil, outcome
	}

	outcome := controlOutcome(res)
	metrics.Invocations.WithLabelValues(hook, outcome).Inc()
	inv.bus.Publish(events.NewCalloutEvent(events.SideServer, res, "", took))
	inv.logger.Debug("callout answered",
		"hook", hook,
		"outcome", outcome,
		"duration", took.String())
	return res, outcome
}

func (inv *Invoker) fail(env callout.Envelope, err error) string {
	hook := env.Hook().String()
	data := events.NewCalloutData(events.SideServer, env)

	switch {
	case errors.Is(err, callout.ErrNoListener):
		inv.logger.Debug("no callout module attached", "hook", hook)
		inv.publish(events.EventCalloutNoListener, data, "")
		return OutcomeNoListener

	case errors.Is(err, callout.ErrTimeout):
		inv.logger.Warn("callout timed out, proceeding with server choice",
			"hook", hook, "ip", ipString(data.IP), "error", err)
		inv.publish(events.EventCalloutTimeout, data, err.Error())
		return OutcomeTimeout

	case errors.Is(err, callout.ErrLock):
		if inv.disabled.CompareAndSwap(false, true) {
			metrics.HooksDisabled.Set(1)
			inv.logger.Error("callout lock failed, disabling callouts",
				"hook", hook, "error", err)
			inv.publish(events.EventCalloutDisabled, data, err.Error())
		}
		return OutcomeLockError

	case errors.Is(err, callout.ErrMalformedEnvelope):
		inv.logger.Warn("callout module returned a malformed envelope",
			"hook", hook, "error", err)
		return OutcomeMalformed

	default:
		inv.logger.Error("callout failed", "hook", hook, "error", err)
		return OutcomeError
	}
}

func (inv *Invoker) publish(t events.EventType, data *events.CalloutData, reason string) {
	inv.bus.Publish(events.Event{
		Type:      t,
		Timestamp: time.Now(),
		Callout:   data,
		Reason:    reason,
	})
}

func controlOutcome(env callout.Envelope) string {
	var c callout.ControlCode
	switch e := env.(type) {
	case *callout.AddressOffer:
		c = e.Control
	case *callout.AddressDelete:
		c = e.Control
	}
	switch c {
	case callout.ControlOverride:
		return OutcomeOverride
	case callout.ControlReject:
		return OutcomeReject
	default:
		return OutcomeProceed
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
