package events

import (
	"encoding/hex"
	"time"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/hostname"
)

// Sides of the channel that publish events.
const (
	SideServer = "server"
	SidePeer   = "peer"
)

// TypeForHook returns the event type published for a handled envelope.
func TypeForHook(h callout.HookType) EventType {
	switch h {
	case callout.HookAddressDelete:
		return EventCalloutDelete
	case callout.HookClientDelete:
		return EventCalloutClientDelete
	default:
		return EventCalloutOffer
	}
}

// NewCalloutData summarizes env for an event. The embedded packet, when
// present and decodable, contributes the client identity and relay details.
func NewCalloutData(side string, env callout.Envelope) *CalloutData {
	d := &CalloutData{
		Side: side,
		Hook: env.Hook().String(),
		MAC:  callout.ClientHWAddr(env),
	}

	switch e := env.(type) {
	case *callout.AddressOffer:
		d.IP, d.AltIP = e.IPAddress, e.AltAddr
		d.ClientType = e.AddrType.String()
		d.LeaseTime = e.LeaseTime
		d.Control = e.Control.String()
	case *callout.AddressDelete:
		d.IP, d.AltIP = e.IPAddress, e.AltAddr
		d.Control = e.Control.String()
	case *callout.ClientDelete:
		d.IP = e.IPAddress
		d.ClientType = e.ClientType.String()
		d.Control = callout.ControlProceed.String()
	}

	pkt, err := callout.DecodePacket(env)
	if err != nil {
		return d
	}
	d.Hostname = hostname.Clean(pkt.Hostname())
	if id := pkt.ClientIdentifier(); len(id) > 0 {
		d.ClientID = hex.EncodeToString(id)
	}
	if pkt.IsRelayed() {
		d.Relay = &RelayData{GIAddr: pkt.GIAddr}
		if ri := pkt.RelayAgentInfo(); ri != nil {
			d.Relay.CircuitID = ri.CircuitID
			d.Relay.RemoteID = ri.RemoteID
		}
	}
	return d
}

// NewCalloutEvent builds the event for a handled envelope.
func NewCalloutEvent(side string, env callout.Envelope, policy string, took time.Duration) Event {
	d := NewCalloutData(side, env)
	d.Policy = policy
	d.Duration = took
	return Event{
		Type:      TypeForHook(env.Hook()),
		Timestamp: time.Now(),
		Callout:   d,
	}
}
