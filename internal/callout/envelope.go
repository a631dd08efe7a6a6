// Package callout implements the synchronous hook channel between a DHCP
// server and an external callout module: the envelope layouts carried in
// shared memory and the lock/event rendezvous that delivers them.
package callout

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/athena-dhcpd/dhcp-callout/internal/dhcp"
	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

// HookType identifies the envelope variant. It is always the first DWORD of
// the envelope.
type HookType uint32

const (
	HookAddressOffer  HookType = 1
	HookAddressDelete HookType = 2
	HookClientDelete  HookType = 3
)

func (h HookType) String() string {
	switch h {
	case HookAddressOffer:
		return "address_offer"
	case HookAddressDelete:
		return "address_delete"
	case HookClientDelete:
		return "client_delete"
	default:
		return fmt.Sprintf("hook(%d)", uint32(h))
	}
}

// ControlCode is the decision a peer writes back.
type ControlCode uint32

const (
	ControlProceed  ControlCode = 0 // keep the server's choice
	ControlOverride ControlCode = 1 // use the returned addresses and lease time
	ControlReject   ControlCode = 2 // veto the offer or deletion
)

func (c ControlCode) String() string {
	switch c {
	case ControlProceed:
		return "proceed"
	case ControlOverride:
		return "override"
	case ControlReject:
		return "reject"
	default:
		return fmt.Sprintf("control(%d)", uint32(c))
	}
}

// ClientType distinguishes DHCP from BOOTP clients in AddrType and
// ClientType fields.
type ClientType uint32

const (
	ClientDHCP  ClientType = 1
	ClientBOOTP ClientType = 2
)

func (c ClientType) String() string {
	switch c {
	case ClientDHCP:
		return "dhcp"
	case ClientBOOTP:
		return "bootp"
	default:
		return fmt.Sprintf("client(%d)", uint32(c))
	}
}

// Region sizes. The shared region holds the owning call's token followed
// by an envelope of the largest variant.
const (
	PacketMax        = dhcpv4.MTUMax
	HWAddrMax        = dhcpv4.CHAddrLen
	OfferSize        = 28 + PacketMax
	DeleteSize       = 8 + PacketMax + 12
	ClientDeleteSize = 32
	RegionHeaderSize = tokenSize
	RegionSize       = RegionHeaderSize + OfferSize
)

// AddressOffer field offsets.
const (
	offOfferHook      = 0
	offOfferPktSize   = 4
	offOfferControl   = 8
	offOfferIP        = 12
	offOfferAlt       = 16
	offOfferAddrType  = 20
	offOfferLeaseTime = 24
	offOfferPacket    = 28
)

// AddressDelete field offsets.
const (
	offDeleteHook    = 0
	offDeletePktSize = 4
	offDeletePacket  = 8
	offDeleteControl = offDeletePacket + PacketMax
	offDeleteIP      = offDeleteControl + 4
	offDeleteAlt     = offDeleteIP + 4
)

// ClientDelete field offsets.
const (
	offClientHook       = 0
	offClientIP         = 4
	offClientHWAddr     = 8
	offClientHWLen      = offClientHWAddr + HWAddrMax
	offClientClientType = offClientHWLen + 4
)

// Envelope is one of AddressOffer, AddressDelete or ClientDelete.
type Envelope interface {
	Hook() HookType
	// Size is the number of region bytes the variant occupies.
	Size() int
	// MarshalBinary returns exactly Size() bytes.
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(b []byte) error
}

// AddressOffer is posted before the server offers an address.
type AddressOffer struct {
	Control   ControlCode
	IPAddress net.IP
	AltAddr   net.IP
	AddrType  ClientType
	LeaseTime uint32 // seconds
	Packet    []byte // raw request, at most PacketMax bytes
}

// AddressDelete is posted before the server deletes an address binding.
type AddressDelete struct {
	Control   ControlCode
	IPAddress net.IP
	AltAddr   net.IP
	Packet    []byte
}

// ClientDelete is posted before the server deletes a client record.
type ClientDelete struct {
	IPAddress  net.IP
	HWAddr     net.HardwareAddr // at most HWAddrMax bytes
	ClientType ClientType
}

func (*AddressOffer) Hook() HookType  { return HookAddressOffer }
func (*AddressDelete) Hook() HookType { return HookAddressDelete }
func (*ClientDelete) Hook() HookType  { return HookClientDelete }

func (*AddressOffer) Size() int  { return OfferSize }
func (*AddressDelete) Size() int { return DeleteSize }
func (*ClientDelete) Size() int  { return ClientDeleteSize }

var le = binary.LittleEndian

func putIP(b []byte, ip net.IP) {
	le.PutUint32(b, dhcpv4.IPToUint32(ip))
}

func getIP(b []byte) net.IP {
	return dhcpv4.HostDWORDToIP(le.Uint32(b))
}

func (e *AddressOffer) MarshalBinary() ([]byte, error) {
	if len(e.Packet) > PacketMax {
		return nil, fmt.Errorf("offer packet is %d bytes, maximum %d", len(e.Packet), PacketMax)
	}
	b := make([]byte, OfferSize)
	le.PutUint32(b[offOfferHook:], uint32(HookAddressOffer))
	le.PutUint32(b[offOfferPktSize:], uint32(len(e.Packet)))
	le.PutUint32(b[offOfferControl:], uint32(e.Control))
	putIP(b[offOfferIP:], e.IPAddress)
	putIP(b[offOfferAlt:], e.AltAddr)
	le.PutUint32(b[offOfferAddrType:], uint32(e.AddrType))
	le.PutUint32(b[offOfferLeaseTime:], e.LeaseTime)
	copy(b[offOfferPacket:], e.Packet)
	return b, nil
}

func (e *AddressOffer) UnmarshalBinary(b []byte) error {
	if err := checkHeader(b, HookAddressOffer, OfferSize); err != nil {
		return err
	}
	n := le.Uint32(b[offOfferPktSize:])
	if n > PacketMax {
		return fmt.Errorf("offer packet size %d exceeds %d: %w", n, PacketMax, ErrMalformedEnvelope)
	}
	e.Control = ControlCode(le.Uint32(b[offOfferControl:]))
	e.IPAddress = getIP(b[offOfferIP:])
	e.AltAddr = getIP(b[offOfferAlt:])
	e.AddrType = ClientType(le.Uint32(b[offOfferAddrType:]))
	e.LeaseTime = le.Uint32(b[offOfferLeaseTime:])
	e.Packet = append([]byte(nil), b[offOfferPacket:offOfferPacket+int(n)]...)
	return nil
}

func (e *AddressDelete) MarshalBinary() ([]byte, error) {
	if len(e.Packet) > PacketMax {
		return nil, fmt.Errorf("delete packet is %d bytes, maximum %d", len(e.Packet), PacketMax)
	}
	b := make([]byte, DeleteSize)
	le.PutUint32(b[offDeleteHook:], uint32(HookAddressDelete))
	le.PutUint32(b[offDeletePktSize:], uint32(len(e.Packet)))
	copy(b[offDeletePacket:], e.Packet)
	le.PutUint32(b[offDeleteControl:], uint32(e.Control))
	putIP(b[offDeleteIP:], e.IPAddress)
	putIP(b[offDeleteAlt:], e.AltAddr)
	return b, nil
}

func (e *AddressDelete) UnmarshalBinary(b []byte) error {
	if err := checkHeader(b, HookAddressDelete, DeleteSize); err != nil {
		return err
	}
	n := le.Uint32(b[offDeletePktSize:])
	if n > PacketMax {
		return fmt.Errorf("delete packet size %d exceeds %d: %w", n, PacketMax, ErrMalformedEnvelope)
	}
	e.Packet = append([]byte(nil), b[offDeletePacket:offDeletePacket+int(n)]...)
	e.Control = ControlCode(le.Uint32(b[offDeleteControl:]))
	e.IPAddress = getIP(b[offDeleteIP:])
	e.AltAddr = getIP(b[offDeleteAlt:])
	return nil
}

func (e *ClientDelete) MarshalBinary() ([]byte, error) {
	if len(e.HWAddr) > HWAddrMax {
		return nil, fmt.Errorf("hardware address is %d bytes, maximum %d", len(e.HWAddr), HWAddrMax)
	}
	b := make([]byte, ClientDeleteSize)
	le.PutUint32(b[offClientHook:], uint32(HookClientDelete))
	putIP(b[offClientIP:], e.IPAddress)
	copy(b[offClientHWAddr:], e.HWAddr)
	le.PutUint32(b[offClientHWLen:], uint32(len(e.HWAddr)))
	le.PutUint32(b[offClientClientType:], uint32(e.ClientType))
	return b, nil
}

func (e *ClientDelete) UnmarshalBinary(b []byte) error {
	if err := checkHeader(b, HookClientDelete, ClientDeleteSize); err != nil {
		return err
	}
	n := le.Uint32(b[offClientHWLen:])
	if n > HWAddrMax {
		return fmt.Errorf("hardware address length %d exceeds %d: %w", n, HWAddrMax, ErrMalformedEnvelope)
	}
	e.IPAddress = getIP(b[offClientIP:])
	e.HWAddr = append(net.HardwareAddr(nil), b[offClientHWAddr:offClientHWAddr+int(n)]...)
	e.ClientType = ClientType(le.Uint32(b[offClientClientType:]))
	return nil
}

func checkHeader(b []byte, want HookType, size int) error {
	if len(b) < size {
		return fmt.Errorf("%s envelope needs %d bytes, have %d: %w", want, size, len(b), ErrMalformedEnvelope)
	}
	if got := HookType(le.Uint32(b)); got != want {
		return fmt.Errorf("hook type %s, want %s: %w", got, want, ErrMalformedEnvelope)
	}
	return nil
}

// PeekHook reads the hook type at offset 0 without interpreting the rest.
func PeekHook(b []byte) (HookType, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("region is %d bytes: %w", len(b), ErrMalformedEnvelope)
	}
	return HookType(le.Uint32(b)), nil
}

// Decode dispatches on the hook type and decodes the matching variant.
func Decode(b []byte) (Envelope, error) {
	hook, err := PeekHook(b)
	if err != nil {
		return nil, err
	}
	var env Envelope
	switch hook {
	case HookAddressOffer:
		env = &AddressOffer{}
	case HookAddressDelete:
		env = &AddressDelete{}
	case HookClientDelete:
		env = &ClientDelete{}
	default:
		return nil, fmt.Errorf("unknown %s: %w", hook, ErrMalformedEnvelope)
	}
	if err := env.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return env, nil
}

// DecodePacket parses the embedded packet of an offer or delete envelope.
// ClientDelete carries no packet.
func DecodePacket(env Envelope) (*dhcp.Packet, error) {
	var raw []byte
	switch e := env.(type) {
	case *AddressOffer:
		raw = e.Packet
	case *AddressDelete:
		raw = e.Packet
	default:
		return nil, fmt.Errorf("%s envelope carries no packet", env.Hook())
	}
	return dhcp.DecodePacket(raw)
}

// ClientHWAddr returns the client hardware address an envelope refers to,
// taken from the embedded packet when there is one.
func ClientHWAddr(env Envelope) net.HardwareAddr {
	if cd, ok := env.(*ClientDelete); ok {
		return cd.HWAddr
	}
	pkt, err := DecodePacket(env)
	if err != nil {
		return nil
	}
	return pkt.CHAddr
}
