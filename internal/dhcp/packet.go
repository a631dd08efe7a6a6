// Package dhcp implements the DHCPv4/BOOTP packet model and option codec.
package dhcp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

// Packet represents a decoded DHCPv4 or BOOTP packet (RFC 951, RFC 2131 §2).
type Packet struct {
	Op      dhcpv4.OpCode       // Message op code: 1=BOOTREQUEST, 2=BOOTREPLY
	HType   dhcpv4.HardwareType // Hardware address type (1=Ethernet)
	HLen    byte                // Hardware address length (6 for Ethernet)
	Hops    byte                // Relay hops
	XID     uint32              // Transaction ID
	Secs    uint16              // Seconds elapsed
	Flags   uint16              // Flags (bit 15 = broadcast)
	CIAddr  net.IP              // Client IP address
	YIAddr  net.IP              // 'Your' (client) IP address
	SIAddr  net.IP              // Next server IP address
	GIAddr  net.IP              // Relay agent IP address
	CHAddr  net.HardwareAddr    // Client hardware address, HLen bytes
	SName   [dhcpv4.SNameLen]byte
	File    [dhcpv4.FileLen]byte
	Options Options

	// BOOTP is set when the packet carried no magic cookie. Such a packet
	// has no options and is encoded without a cookie.
	BOOTP bool

	// Overload records option 52 as found on decode. Overloaded fields
	// are folded into Options and SName/File are left as received.
	Overload Overload
}

// DecodePacket parses a raw DHCPv4 packet. A packet without the magic
// cookie is accepted as plain BOOTP.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < dhcpv4.FixedLen {
		return nil, fmt.Errorf("packet too short: %d bytes (minimum %d)", len(data), dhcpv4.FixedLen)
	}
	if len(data) > dhcpv4.MTUMax {
		return nil, fmt.Errorf("packet too long: %d bytes (maximum %d)", len(data), dhcpv4.MTUMax)
	}

	p := &Packet{}
	p.Op = dhcpv4.OpCode(data[dhcpv4.OffsetOp])
	p.HType = dhcpv4.HardwareType(data[dhcpv4.OffsetHType])
	p.HLen = data[dhcpv4.OffsetHLen]
	p.Hops = data[dhcpv4.OffsetHops]
	p.XID = binary.BigEndian.Uint32(data[dhcpv4.OffsetXID:])
	p.Secs = binary.BigEndian.Uint16(data[dhcpv4.OffsetSecs:])
	p.Flags = binary.BigEndian.Uint16(data[dhcpv4.OffsetFlags:])
	p.CIAddr = copyIP(data[dhcpv4.OffsetCIAddr:])
	p.YIAddr = copyIP(data[dhcpv4.OffsetYIAddr:])
	p.SIAddr = copyIP(data[dhcpv4.OffsetSIAddr:])
	p.GIAddr = copyIP(data[dhcpv4.OffsetGIAddr:])

	// Only HLen bytes of the 16-byte chaddr field are significant.
	hlen := int(p.HLen)
	if hlen > dhcpv4.CHAddrLen {
		return nil, fmt.Errorf("invalid hlen %d (maximum %d)", hlen, dhcpv4.CHAddrLen)
	}
	p.CHAddr = make(net.HardwareAddr, hlen)
	copy(p.CHAddr, data[dhcpv4.OffsetCHAddr:dhcpv4.OffsetCHAddr+hlen])

	copy(p.SName[:], data[dhcpv4.OffsetSName:dhcpv4.OffsetFile])
	copy(p.File[:], data[dhcpv4.OffsetFile:dhcpv4.OffsetOptions])

	space, err := NewOptionSpace(data)
	if err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	if !HasMagicCookie(data) {
		p.BOOTP = true
		p.Options = make(Options)
		return p, nil
	}
	p.Overload = space.Overload
	p.Options, err = DecodeOptionSpace(space)
	if err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	return p, nil
}

func copyIP(b []byte) net.IP {
	ip := make(net.IP, 4)
	copy(ip, b[:4])
	return ip
}

// Encode serializes the packet for the largest MTU.
func (p *Packet) Encode() ([]byte, error) {
	return p.EncodeMTU(dhcpv4.MTUMax)
}

// EncodeMTU serializes the packet, padding to the BOOTP minimum and
// failing if the result would not fit in a UDP datagram on a path with the
// given MTU. Options are always written to the options area and option 52
// is dropped; sname and file are zeroed if they carried options.
func (p *Packet) EncodeMTU(mtu int) ([]byte, error) {
	if mtu < dhcpv4.MTUMin || mtu > dhcpv4.MTUMax {
		return nil, fmt.Errorf("mtu %d outside [%d, %d]", mtu, dhcpv4.MTUMin, dhcpv4.MTUMax)
	}
	if len(p.CHAddr) > dhcpv4.CHAddrLen {
		return nil, fmt.Errorf("hardware address length %d exceeds %d", len(p.CHAddr), dhcpv4.CHAddrLen)
	}

	var optBytes []byte
	if !p.BOOTP {
		opts := p.Options
		if opts.Has(dhcpv4.OptionOverload) {
			opts = opts.Clone()
			opts.Delete(dhcpv4.OptionOverload)
		}
		var err error
		if optBytes, err = opts.Encode(); err != nil {
			return nil, fmt.Errorf("encoding options: %w", err)
		}
		optBytes = append(append([]byte{}, dhcpv4.MagicCookie...), optBytes...)
	}

	totalLen := dhcpv4.FixedLen + len(optBytes)
	if limit := mtu - dhcpv4.UDPOverhead; totalLen > limit {
		return nil, fmt.Errorf("encoded packet is %d bytes, exceeds %d allowed by mtu %d", totalLen, limit, mtu)
	}
	if totalLen < dhcpv4.BOOTPMinLen {
		totalLen = dhcpv4.BOOTPMinLen
	}

	buf := make([]byte, totalLen)
	buf[dhcpv4.OffsetOp] = byte(p.Op)
	buf[dhcpv4.OffsetHType] = byte(p.HType)
	buf[dhcpv4.OffsetHLen] = byte(len(p.CHAddr))
	buf[dhcpv4.OffsetHops] = p.Hops
	binary.BigEndian.PutUint32(buf[dhcpv4.OffsetXID:], p.XID)
	binary.BigEndian.PutUint16(buf[dhcpv4.OffsetSecs:], p.Secs)
	binary.BigEndian.PutUint16(buf[dhcpv4.OffsetFlags:], p.Flags)
	copy(buf[dhcpv4.OffsetCIAddr:dhcpv4.OffsetCIAddr+4], p.CIAddr.To4())
	copy(buf[dhcpv4.OffsetYIAddr:dhcpv4.OffsetYIAddr+4], p.YIAddr.To4())
	copy(buf[dhcpv4.OffsetSIAddr:dhcpv4.OffsetSIAddr+4], p.SIAddr.To4())
	copy(buf[dhcpv4.OffsetGIAddr:dhcpv4.OffsetGIAddr+4], p.GIAddr.To4())
	copy(buf[dhcpv4.OffsetCHAddr:], p.CHAddr)
	if p.Overload == OverloadNone {
		copy(buf[dhcpv4.OffsetSName:], p.SName[:])
		copy(buf[dhcpv4.OffsetFile:], p.File[:])
	}
	copy(buf[dhcpv4.OffsetOptions:], optBytes)

	return buf, nil
}

// MessageType returns the DHCP message type from option 53, or 0 for BOOTP
// and malformed packets.
func (p *Packet) MessageType() dhcpv4.MessageType {
	if data, ok := p.Options[dhcpv4.OptionDHCPMessageType]; ok && len(data) == 1 {
		return dhcpv4.MessageType(data[0])
	}
	return 0
}

// RequestedIP returns the requested IP address from option 50.
func (p *Packet) RequestedIP() net.IP {
	if data, ok := p.Options[dhcpv4.OptionRequestedIP]; ok && len(data) == 4 {
		return net.IP(data)
	}
	return nil
}

// ServerIdentifier returns the server identifier from option 54.
func (p *Packet) ServerIdentifier() net.IP {
	if data, ok := p.Options[dhcpv4.OptionServerIdentifier]; ok && len(data) == 4 {
		return net.IP(data)
	}
	return nil
}

// ClientIdentifier returns the client identifier from option 61.
func (p *Packet) ClientIdentifier() []byte {
	if data, ok := p.Options[dhcpv4.OptionClientIdentifier]; ok {
		return data
	}
	return nil
}

// Hostname returns the hostname from option 12.
func (p *Packet) Hostname() string {
	if data, ok := p.Options[dhcpv4.OptionHostname]; ok {
		return string(data)
	}
	return ""
}

// LeaseTime returns the lease time in seconds from option 51.
func (p *Packet) LeaseTime() (uint32, bool) {
	if data, ok := p.Options[dhcpv4.OptionIPLeaseTime]; ok && len(data) == 4 {
		return binary.BigEndian.Uint32(data), true
	}
	return 0, false
}

// ParameterRequestList returns the list of requested option codes.
func (p *Packet) ParameterRequestList() []dhcpv4.OptionCode {
	if data, ok := p.Options[dhcpv4.OptionParameterRequestList]; ok {
		codes := make([]dhcpv4.OptionCode, len(data))
		for i, b := range data {
			codes[i] = dhcpv4.OptionCode(b)
		}
		return codes
	}
	return nil
}

// VendorClassID returns the vendor class identifier from option 60.
func (p *Packet) VendorClassID() string {
	if data, ok := p.Options[dhcpv4.OptionVendorClassID]; ok {
		return string(data)
	}
	return ""
}

// MaxMessageSize returns the maximum DHCP message size from option 57.
func (p *Packet) MaxMessageSize() uint16 {
	if data, ok := p.Options[dhcpv4.OptionMaxDHCPMessageSize]; ok && len(data) == 2 {
		return binary.BigEndian.Uint16(data)
	}
	return 0
}

// ServerName returns sname up to the first NUL. Empty when sname carries
// overloaded options.
func (p *Packet) ServerName() string {
	if p.Overload.SName() {
		return ""
	}
	return cString(p.SName[:])
}

// BootFile returns file up to the first NUL. Empty when file carries
// overloaded options.
func (p *Packet) BootFile() string {
	if p.Overload.File() {
		return ""
	}
	return cString(p.File[:])
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// IsBroadcast returns true if the broadcast flag is set.
func (p *Packet) IsBroadcast() bool {
	return p.Flags&dhcpv4.BroadcastFlag != 0
}

// IsRelayed returns true if the packet was relayed (GIAddr is non-zero).
func (p *Packet) IsRelayed() bool {
	return p.GIAddr != nil && !p.GIAddr.Equal(net.IPv4zero)
}

// ClientKey returns the identity a server keys a client on: the client
// identifier when present, otherwise htype followed by chaddr (RFC 2131 §4.2).
func (p *Packet) ClientKey() []byte {
	if id := p.ClientIdentifier(); len(id) > 0 {
		return id
	}
	return append([]byte{byte(p.HType)}, p.CHAddr...)
}

// NewRequest creates a BOOTREQUEST carrying the given message type, as a
// client would send it.
func NewRequest(msgType dhcpv4.MessageType, mac net.HardwareAddr, xid uint32) *Packet {
	p := &Packet{
		Op:      dhcpv4.OpCodeBootRequest,
		HType:   dhcpv4.HardwareTypeEthernet,
		HLen:    byte(len(mac)),
		XID:     xid,
		CIAddr:  net.IPv4zero,
		YIAddr:  net.IPv4zero,
		SIAddr:  net.IPv4zero,
		GIAddr:  net.IPv4zero,
		CHAddr:  append(net.HardwareAddr{}, mac...),
		Options: make(Options),
	}
	p.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(msgType)}
	return p
}
