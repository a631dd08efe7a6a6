package dhcp

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

// RelayAgentInfo holds parsed Option 82 sub-options (RFC 3046).
type RelayAgentInfo struct {
	CircuitID  string
	RemoteID   string
	AgentID    []byte // sub-option 3, agent-specific
	LinkSelect []byte // RFC 3527 sub-option 5
	Raw        []byte
}

// ParseRelayAgentInfo decodes Option 82 sub-options from raw bytes.
// Unknown sub-options are skipped but still bounds checked.
func ParseRelayAgentInfo(data []byte) (*RelayAgentInfo, error) {
	info := &RelayAgentInfo{Raw: data}
	i := 0
	for i < len(data) {
		if i+1 >= len(data) {
			return nil, fmt.Errorf("truncated relay agent sub-option at offset %d: %w", i, ErrMalformedOption)
		}
		subType := data[i]
		subLen := int(data[i+1])
		i += 2
		if i+subLen > len(data) {
			return nil, fmt.Errorf("truncated relay agent sub-option %d at offset %d: %w", subType, i-2, ErrMalformedOption)
		}
		subData := data[i : i+subLen]
		i += subLen

		switch subType {
		case dhcpv4.RelaySubOptionCircuitID:
			info.CircuitID = string(subData)
		case dhcpv4.RelaySubOptionRemoteID:
			info.RemoteID = string(subData)
		case dhcpv4.RelaySubOptionAgentID:
			info.AgentID = append([]byte(nil), subData...)
		case dhcpv4.RelaySubOptionLinkSelect:
			info.LinkSelect = append([]byte(nil), subData...)
		}
	}
	return info, nil
}

// EncodeRelayAgentInfo encodes relay agent sub-options to bytes in
// sub-option code order.
func EncodeRelayAgentInfo(info *RelayAgentInfo) []byte {
	var buf []byte
	add := func(code byte, v []byte) {
		if len(v) == 0 {
			return
		}
		buf = append(buf, code, byte(len(v)))
		buf = append(buf, v...)
	}
	add(dhcpv4.RelaySubOptionCircuitID, []byte(info.CircuitID))
	add(dhcpv4.RelaySubOptionRemoteID, []byte(info.RemoteID))
	add(dhcpv4.RelaySubOptionAgentID, info.AgentID)
	add(dhcpv4.RelaySubOptionLinkSelect, info.LinkSelect)
	return buf
}

func (r *RelayAgentInfo) String() string {
	var parts []string
	if r.CircuitID != "" {
		parts = append(parts, "circuit-id="+r.CircuitID)
	}
	if r.RemoteID != "" {
		parts = append(parts, "remote-id="+r.RemoteID)
	}
	if len(r.AgentID) > 0 {
		parts = append(parts, "agent-id="+hex.EncodeToString(r.AgentID))
	}
	if len(r.LinkSelect) == 4 {
		parts = append(parts, "link-selection="+dhcpv4.BytesToIP(r.LinkSelect).String())
	}
	return strings.Join(parts, " ")
}

// RelayAgentInfo returns the parsed Option 82, or nil when absent or
// malformed.
func (p *Packet) RelayAgentInfo() *RelayAgentInfo {
	data, ok := p.Options[dhcpv4.OptionRelayAgentInfo]
	if !ok {
		return nil
	}
	info, err := ParseRelayAgentInfo(data)
	if err != nil {
		return nil
	}
	return info
}
