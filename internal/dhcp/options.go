package dhcp

import (
	"fmt"
	"sort"

	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

// Options is a map of DHCP option code to raw option data.
type Options map[dhcpv4.OptionCode][]byte

// DecodeOptions parses a TLV options area (RFC 2132). Values are copied
// out of data. When a code repeats, the first occurrence is kept, matching
// LookupOption.
func DecodeOptions(data []byte) (Options, error) {
	opts := make(Options)
	if err := opts.decodeInto(data); err != nil {
		return nil, err
	}
	return opts, nil
}

// DecodeOptionSpace merges every area of s into one map, options area
// first, then file, then sname.
func DecodeOptionSpace(s *OptionSpace) (Options, error) {
	opts := make(Options)
	for _, area := range s.Areas() {
		if err := opts.decodeInto(area); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func (opts Options) decodeInto(data []byte) error {
	i := 0
	for i < len(data) {
		code := dhcpv4.OptionCode(data[i])
		i++

		// Pad option (RFC 2132 §3.1)
		if code == dhcpv4.OptionPad {
			continue
		}
		// End option (RFC 2132 §3.2)
		if code == dhcpv4.OptionEnd {
			break
		}

		if i >= len(data) {
			return fmt.Errorf("truncated option %d: no length byte: %w", code, ErrMalformedOption)
		}
		length := int(data[i])
		i++
		if i+length > len(data) {
			return fmt.Errorf("truncated option %d: need %d bytes, have %d: %w", code, length, len(data)-i, ErrMalformedOption)
		}

		if _, seen := opts[code]; !seen {
			value := make([]byte, length)
			copy(value, data[i:i+length])
			opts[code] = value
		}
		i += length
	}
	return nil
}

// Codes returns the option codes present, ascending.
func (opts Options) Codes() []dhcpv4.OptionCode {
	codes := make([]dhcpv4.OptionCode, 0, len(opts))
	for code := range opts {
		if code == dhcpv4.OptionPad || code == dhcpv4.OptionEnd {
			continue
		}
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Encode serializes options in ascending code order followed by END.
// Values longer than 255 bytes cannot be represented in a single TLV.
func (opts Options) Encode() ([]byte, error) {
	size := 1 // End option
	for _, v := range opts {
		size += 2 + len(v)
	}

	buf := make([]byte, 0, size)
	for _, code := range opts.Codes() {
		value := opts[code]
		if len(value) > 255 {
			return nil, fmt.Errorf("option %d: value length %d exceeds 255", code, len(value))
		}
		buf = append(buf, byte(code), byte(len(value)))
		buf = append(buf, value...)
	}

	buf = append(buf, byte(dhcpv4.OptionEnd))
	return buf, nil
}

// Get returns the raw value for an option code.
func (opts Options) Get(code dhcpv4.OptionCode) ([]byte, bool) {
	v, ok := opts[code]
	return v, ok
}

// Set sets an option to a raw value.
func (opts Options) Set(code dhcpv4.OptionCode, value []byte) {
	opts[code] = value
}

// SetUint32 sets a uint32 option.
func (opts Options) SetUint32(code dhcpv4.OptionCode, v uint32) {
	opts[code] = dhcpv4.Uint32ToBytes(v)
}

// SetUint16 sets a uint16 option.
func (opts Options) SetUint16(code dhcpv4.OptionCode, v uint16) {
	opts[code] = dhcpv4.Uint16ToBytes(v)
}

// SetString sets a string option.
func (opts Options) SetString(code dhcpv4.OptionCode, s string) {
	opts[code] = []byte(s)
}

// Has returns true if the option is present.
func (opts Options) Has(code dhcpv4.OptionCode) bool {
	_, ok := opts[code]
	return ok
}

// Delete removes an option.
func (opts Options) Delete(code dhcpv4.OptionCode) {
	delete(opts, code)
}

// Clone returns a deep copy of the options.
func (opts Options) Clone() Options {
	clone := make(Options, len(opts))
	for k, v := range opts {
		vc := make([]byte, len(v))
		copy(vc, v)
		clone[k] = vc
	}
	return clone
}
