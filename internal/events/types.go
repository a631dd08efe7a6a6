// Package events provides the event bus that carries callout outcomes to
// the journal and other observers.
package events

import (
	"net"
	"strconv"
	"time"
)

// EventType names a callout lifecycle event.
type EventType string

const (
	EventCalloutOffer        EventType = "callout.offer"
	EventCalloutDelete       EventType = "callout.delete"
	EventCalloutClientDelete EventType = "callout.client_delete"
	EventCalloutNoListener   EventType = "callout.no_listener"
	EventCalloutTimeout      EventType = "callout.timeout"
	EventCalloutDisabled     EventType = "callout.disabled"
)

// Event is the core event payload passed through the event bus.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Callout   *CalloutData `json:"callout,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// CalloutData describes one callout and its outcome. Side is "server" when
// published by the invoking process and "peer" when published by the
// callout module.
type CalloutData struct {
	Side       string           `json:"side"`
	Hook       string           `json:"hook"`
	MAC        net.HardwareAddr `json:"mac,omitempty"`
	ClientID   string           `json:"client_id,omitempty"`
	Hostname   string           `json:"hostname,omitempty"`
	IP         net.IP           `json:"ip,omitempty"`
	AltIP      net.IP           `json:"alt_ip,omitempty"`
	ClientType string           `json:"client_type,omitempty"`
	LeaseTime  uint32           `json:"lease_time,omitempty"`
	Control    string           `json:"control"`
	Policy     string           `json:"policy,omitempty"`
	Duration   time.Duration    `json:"duration_ns,omitempty"`
	Relay      *RelayData       `json:"relay,omitempty"`
}

// RelayData carries relay agent info from the embedded packet.
type RelayData struct {
	GIAddr    net.IP `json:"giaddr,omitempty"`
	CircuitID string `json:"circuit_id,omitempty"`
	RemoteID  string `json:"remote_id,omitempty"`
}

// ToEnvVars converts an event to environment variables for script policies.
func (e *Event) ToEnvVars() map[string]string {
	env := map[string]string{
		"CALLOUT_EVENT": string(e.Type),
	}
	if e.Reason != "" {
		env["CALLOUT_REASON"] = e.Reason
	}

	c := e.Callout
	if c == nil {
		return env
	}
	env["CALLOUT_HOOK"] = c.Hook
	if c.Control != "" {
		env["CALLOUT_CONTROL"] = c.Control
	}
	if c.MAC != nil {
		env["CALLOUT_MAC"] = c.MAC.String()
	}
	if c.IP != nil {
		env["CALLOUT_IP"] = c.IP.String()
	}
	if c.AltIP != nil {
		env["CALLOUT_ALT_IP"] = c.AltIP.String()
	}
	if c.ClientType != "" {
		env["CALLOUT_CLIENT_TYPE"] = c.ClientType
	}
	if c.LeaseTime != 0 {
		env["CALLOUT_LEASE_TIME"] = strconv.FormatUint(uint64(c.LeaseTime), 10)
	}
	if c.Hostname != "" {
		env["CALLOUT_HOSTNAME"] = c.Hostname
	}
	if c.ClientID != "" {
		env["CALLOUT_CLIENT_ID"] = c.ClientID
	}
	if c.Relay != nil {
		if c.Relay.GIAddr != nil {
			env["CALLOUT_GATEWAY"] = c.Relay.GIAddr.String()
		}
		if c.Relay.CircuitID != "" {
			env["CALLOUT_RELAY_AGENT_CIRCUIT_ID"] = c.Relay.CircuitID
		}
		if c.Relay.RemoteID != "" {
			env["CALLOUT_RELAY_AGENT_REMOTE_ID"] = c.Relay.RemoteID
		}
	}
	return env
}
