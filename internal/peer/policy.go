// Package peer is a reference callout module: it attaches to the channel,
// asks a chain of policies about each envelope and writes the decision back.
package peer

import (
	"context"
	"net"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/dhcp"
	"github.com/athena-dhcpd/dhcp-callout/internal/hostname"
)

// Request is what a policy sees for one callout.
type Request struct {
	Env callout.Envelope
	// Packet is the decoded embedded packet, nil for ClientDelete or when
	// the packet did not decode.
	Packet *dhcp.Packet
	MAC    net.HardwareAddr
	IP     net.IP
	// Vendor is the OUI vendor of MAC, "" without a vendor database.
	Vendor string
}

// Hook returns the envelope's hook type.
func (r *Request) Hook() callout.HookType {
	return r.Env.Hook()
}

// Hostname returns the client's cleaned host name option, if any.
func (r *Request) Hostname() string {
	if r.Packet == nil {
		return ""
	}
	return hostname.Clean(r.Packet.Hostname())
}

// NewRequest builds a request from an envelope.
func NewRequest(env callout.Envelope) *Request {
	r := &Request{Env: env, MAC: callout.ClientHWAddr(env)}
	switch e := env.(type) {
	case *callout.AddressOffer:
		r.IP = e.IPAddress
	case *callout.AddressDelete:
		r.IP = e.IPAddress
	case *callout.ClientDelete:
		r.IP = e.IPAddress
	}
	if pkt, err := callout.DecodePacket(env); err == nil {
		r.Packet = pkt
	}
	return r
}

// Decision is a policy's answer. Zero-valued IP, AltIP and LeaseTime leave
// the server's proposal in place on override.
type Decision struct {
	Control   callout.ControlCode
	IP        net.IP
	AltIP     net.IP
	LeaseTime uint32
	Reason    string
}

// Policy decides on callouts. Decide reports matched=false to let the next
// policy in a chain decide.
type Policy interface {
	Name() string
	Decide(ctx context.Context, req *Request) (d Decision, matched bool, err error)
}

// Chain asks each policy in order; the first match decides.
type Chain []Policy

func (c Chain) Name() string { return "chain" }

// Decide returns the first matching policy's decision along with that
// policy's name. No match is a proceed decision.
func (c Chain) Decide(ctx context.Context, req *Request) (Decision, string, error) {
	for _, p := range c {
		d, ok, err := p.Decide(ctx, req)
		if err != nil {
			return Decision{Control: callout.ControlProceed}, p.Name(), err
		}
		if ok {
			return d, p.Name(), nil
		}
	}
	return Decision{Control: callout.ControlProceed}, "", nil
}

// Apply writes d into env. ClientDelete has no control field and is
// returned unchanged.
func Apply(env callout.Envelope, d Decision) callout.Envelope {
	switch e := env.(type) {
	case *callout.AddressOffer:
		out := *e
		out.Control = d.Control
		if d.Control == callout.ControlOverride {
			if d.IP != nil {
				out.IPAddress = d.IP
			}
			if d.AltIP != nil {
				out.AltAddr = d.AltIP
			}
			if d.LeaseTime != 0 {
				out.LeaseTime = d.LeaseTime
			}
		}
		return &out
	case *callout.AddressDelete:
		out := *e
		out.Control = d.Control
		if d.Control == callout.ControlOverride {
			if d.IP != nil {
				out.IPAddress = d.IP
			}
			if d.AltIP != nil {
				out.AltAddr = d.AltIP
			}
		}
		return &out
	default:
		return env
	}
}
