package dhcpv4

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Option values are big-endian; envelope DWORDs hold addresses as host
// order integers.

func wantLen(kind string, b []byte, n int) error {
	if len(b) != n {
		return fmt.Errorf("invalid %s length %d: expected %d", kind, len(b), n)
	}
	return nil
}

// BytesToIP returns a copy of a 4-byte value as an IPv4 address, or nil.
func BytesToIP(b []byte) net.IP {
	if len(b) != 4 {
		return nil
	}
	return net.IPv4(b[0], b[1], b[2], b[3])
}

// BytesToIPList splits an N*4 byte value into addresses.
func BytesToIPList(b []byte) ([]net.IP, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid IP list length %d: must be multiple of 4", len(b))
	}
	ips := make([]net.IP, 0, len(b)/4)
	for i := 0; i < len(b); i += 4 {
		ips = append(ips, BytesToIP(b[i:i+4]))
	}
	return ips, nil
}

// Uint16ToBytes encodes v as a 2-byte option value.
func Uint16ToBytes(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

// BytesToUint16 decodes a 2-byte option value.
func BytesToUint16(b []byte) (uint16, error) {
	if err := wantLen("uint16", b, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32ToBytes encodes v as a 4-byte option value.
func Uint32ToBytes(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// BytesToUint32 decodes a 4-byte option value.
func BytesToUint32(b []byte) (uint32, error) {
	if err := wantLen("uint32", b, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// BytesToInt32 decodes a signed 4-byte option value such as the time
// offset (option 2).
func BytesToInt32(b []byte) (int32, error) {
	if err := wantLen("int32", b, 4); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// IPToUint32 returns the address as a host order integer, 0 for a nil or
// non-IPv4 address.
func IPToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

// HostDWORDToIP is the inverse of IPToUint32 except that zero maps to nil,
// so "no address" survives a round trip through a DWORD field.
func HostDWORDToIP(v uint32) net.IP {
	if v == 0 {
		return nil
	}
	return BytesToIP(binary.BigEndian.AppendUint32(nil, v))
}

// CIDRRoute is one classless static route (RFC 3442).
type CIDRRoute struct {
	Destination net.IP
	PrefixLen   int
	Gateway     net.IP
}

func (r CIDRRoute) String() string {
	return fmt.Sprintf("%s/%d via %s", r.Destination, r.PrefixLen, r.Gateway)
}

// BytesToCIDRRoutes decodes option 121: per route a prefix length, the
// significant destination octets and a 4-byte gateway.
func BytesToCIDRRoutes(b []byte) ([]CIDRRoute, error) {
	var routes []CIDRRoute
	for i := 0; i < len(b); {
		prefixLen := int(b[i])
		if prefixLen > 32 {
			return nil, fmt.Errorf("invalid CIDR prefix length %d at offset %d", prefixLen, i)
		}
		i++
		sig := (prefixLen + 7) / 8
		if i+sig+4 > len(b) {
			return nil, fmt.Errorf("truncated CIDR route at offset %d", i)
		}
		dest := make(net.IP, 4)
		copy(dest, b[i:i+sig])
		i += sig
		routes = append(routes, CIDRRoute{
			Destination: dest.Mask(net.CIDRMask(prefixLen, 32)),
			PrefixLen:   prefixLen,
			Gateway:     BytesToIP(b[i : i+4]),
		})
		i += 4
	}
	return routes, nil
}
