package dhcp

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

// Client FQDN flag bits (RFC 4702 §2.1).
const (
	FQDNFlagS byte = 0x01 // server should perform A RR updates
	FQDNFlagO byte = 0x02 // server overrode the client's S bit
	FQDNFlagE byte = 0x04 // name is in DNS wire format
	FQDNFlagN byte = 0x08 // server should perform no updates
)

// ClientFQDN is a decoded option 81.
type ClientFQDN struct {
	Flags  byte
	RCode1 byte
	RCode2 byte
	Name   string
	// Partial is set for a wire-format name lacking the root label.
	Partial bool
}

// ParseClientFQDN decodes option 81. Names in canonical wire format are
// unpacked with the DNS codec; the deprecated ASCII form is taken as is.
func ParseClientFQDN(data []byte) (*ClientFQDN, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("client fqdn: %d bytes, need at least 3: %w", len(data), ErrMalformedOption)
	}
	f := &ClientFQDN{Flags: data[0], RCode1: data[1], RCode2: data[2]}
	name := data[3:]
	if len(name) == 0 {
		return f, nil
	}
	if f.Flags&FQDNFlagE == 0 {
		f.Name = string(name)
		return f, nil
	}

	s, _, err := dns.UnpackDomainName(name, 0)
	if err != nil {
		// RFC 4702 §2.3.1 allows a partial name without the terminating
		// zero-length label.
		terminated := append(append([]byte(nil), name...), 0)
		if s, _, err = dns.UnpackDomainName(terminated, 0); err != nil {
			return nil, fmt.Errorf("client fqdn: %v: %w", err, ErrMalformedOption)
		}
		f.Partial = true
	}
	f.Name = s
	if f.Partial {
		f.Name = strings.TrimSuffix(s, ".")
	}
	return f, nil
}

// Encode produces option 81 bytes. The name is written in wire format when
// the E flag is set.
func (f *ClientFQDN) Encode() ([]byte, error) {
	buf := []byte{f.Flags, f.RCode1, f.RCode2}
	if f.Name == "" {
		return buf, nil
	}
	if f.Flags&FQDNFlagE == 0 {
		return append(buf, f.Name...), nil
	}
	wire := make([]byte, 255)
	n, err := dns.PackDomainName(dns.Fqdn(f.Name), wire, 0, nil, false)
	if err != nil {
		return nil, fmt.Errorf("client fqdn %q: %w", f.Name, err)
	}
	return append(buf, wire[:n]...), nil
}

func (f *ClientFQDN) String() string {
	return fmt.Sprintf("%s flags=0x%02x", f.Name, f.Flags)
}

// ClientFQDN returns the parsed option 81, or nil when absent or malformed.
func (p *Packet) ClientFQDN() *ClientFQDN {
	data, ok := p.Options[dhcpv4.OptionClientFQDN]
	if !ok {
		return nil
	}
	f, err := ParseClientFQDN(data)
	if err != nil {
		return nil
	}
	return f
}

// ParseDomainSearch decodes option 119 (RFC 3397). Compression pointers are
// relative to the start of the option data.
func ParseDomainSearch(data []byte) ([]string, error) {
	var names []string
	for off := 0; off < len(data); {
		name, next, err := dns.UnpackDomainName(data, off)
		if err != nil {
			return nil, fmt.Errorf("domain search at offset %d: %v: %w", off, err, ErrMalformedOption)
		}
		names = append(names, name)
		off = next
	}
	return names, nil
}

// EncodeDomainSearch produces option 119 bytes with name compression.
func EncodeDomainSearch(names []string) ([]byte, error) {
	buf := make([]byte, 255*len(names))
	compression := make(map[string]int)
	off := 0
	for _, name := range names {
		var err error
		off, err = dns.PackDomainName(dns.Fqdn(name), buf, off, compression, true)
		if err != nil {
			return nil, fmt.Errorf("domain search %q: %w", name, err)
		}
	}
	return buf[:off], nil
}

// DomainSearch returns the parsed option 119, or nil when absent or
// malformed.
func (p *Packet) DomainSearch() []string {
	data, ok := p.Options[dhcpv4.OptionDomainSearch]
	if !ok {
		return nil
	}
	names, err := ParseDomainSearch(data)
	if err != nil {
		return nil
	}
	return names
}
