package dhcp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

var (
	// ErrOptionNotFound is returned when the requested code is absent.
	ErrOptionNotFound = errors.New("option not found")
	// ErrMalformedOption is returned when an option's declared length runs
	// past the end of the buffer.
	ErrMalformedOption = errors.New("malformed option")
)

// LookupOption scans a TLV options buffer for code and returns a view of
// its value bytes. The returned slice aliases buf and must not be modified.
// PAD and END are sentinels and are never reported as found. The first
// occurrence of a code wins. A truncated option yields ErrMalformedOption
// and nothing past len(buf) is ever read.
func LookupOption(buf []byte, code dhcpv4.OptionCode) ([]byte, error) {
	if code == dhcpv4.OptionPad || code == dhcpv4.OptionEnd {
		return nil, ErrOptionNotFound
	}
	i := 0
	for i < len(buf) {
		c := dhcpv4.OptionCode(buf[i])
		i++
		switch c {
		case dhcpv4.OptionPad:
			continue
		case dhcpv4.OptionEnd:
			return nil, ErrOptionNotFound
		}
		if i >= len(buf) {
			return nil, fmt.Errorf("option %d at offset %d: no length byte: %w", c, i-1, ErrMalformedOption)
		}
		n := int(buf[i])
		i++
		if n > len(buf)-i {
			return nil, fmt.Errorf("option %d: need %d bytes, have %d: %w", c, n, len(buf)-i, ErrMalformedOption)
		}
		if c == code {
			return buf[i : i+n : i+n], nil
		}
		i += n
	}
	return nil, ErrOptionNotFound
}

// FindOption is LookupOption collapsed to a found flag: malformed input is
// reported as not found.
func FindOption(buf []byte, code dhcpv4.OptionCode) ([]byte, bool) {
	v, err := LookupOption(buf, code)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Overload is the value of option 52 (RFC 2132 §9.3): which of the fixed
// header fields carry additional options.
type Overload byte

const (
	OverloadNone  Overload = 0
	OverloadFile  Overload = 1
	OverloadSName Overload = 2
	OverloadBoth  Overload = 3
)

// File reports whether the file field carries options.
func (o Overload) File() bool { return o == OverloadFile || o == OverloadBoth }

// SName reports whether the sname field carries options.
func (o Overload) SName() bool { return o == OverloadSName || o == OverloadBoth }

func (o Overload) String() string {
	switch o {
	case OverloadNone:
		return "none"
	case OverloadFile:
		return "file"
	case OverloadSName:
		return "sname"
	case OverloadBoth:
		return "both"
	default:
		return fmt.Sprintf("invalid(%d)", byte(o))
	}
}

// OptionSpace is the set of option areas of one raw packet with the
// overload indicator already resolved. All slices alias the packet buffer.
type OptionSpace struct {
	Options  []byte // after the magic cookie
	File     []byte // nil unless overloaded
	SName    []byte // nil unless overloaded
	Overload Overload
}

// NewOptionSpace locates the option areas of a raw DHCP packet. A packet
// without the magic cookie is plain BOOTP and yields an empty space. Option
// 52 is read from the options area before the file and sname fields are
// considered.
func NewOptionSpace(raw []byte) (*OptionSpace, error) {
	if len(raw) < dhcpv4.FixedLen {
		return nil, fmt.Errorf("packet too short: %d bytes (minimum %d)", len(raw), dhcpv4.FixedLen)
	}
	s := &OptionSpace{}
	if !HasMagicCookie(raw) {
		return s, nil
	}
	s.Options = raw[dhcpv4.OffsetOptions+len(dhcpv4.MagicCookie):]

	v, err := LookupOption(s.Options, dhcpv4.OptionOverload)
	switch {
	case errors.Is(err, ErrOptionNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("resolving overload: %w", err)
	case len(v) != 1 || Overload(v[0]) > OverloadBoth:
		return nil, fmt.Errorf("invalid overload value %v: %w", v, ErrMalformedOption)
	}
	s.Overload = Overload(v[0])
	if s.Overload.File() {
		s.File = raw[dhcpv4.OffsetFile : dhcpv4.OffsetFile+dhcpv4.FileLen]
	}
	if s.Overload.SName() {
		s.SName = raw[dhcpv4.OffsetSName : dhcpv4.OffsetSName+dhcpv4.SNameLen]
	}
	return s, nil
}

// Areas returns the option areas in lookup order: options, file, sname
// (RFC 2131 §4.1).
func (s *OptionSpace) Areas() [][]byte {
	areas := [][]byte{s.Options}
	if s.File != nil {
		areas = append(areas, s.File)
	}
	if s.SName != nil {
		areas = append(areas, s.SName)
	}
	return areas
}

// Lookup searches every area in order and returns the first match.
// Overload itself is only honoured in the options area.
func (s *OptionSpace) Lookup(code dhcpv4.OptionCode) ([]byte, error) {
	for i, area := range s.Areas() {
		if i > 0 && code == dhcpv4.OptionOverload {
			break
		}
		v, err := LookupOption(area, code)
		if errors.Is(err, ErrOptionNotFound) {
			continue
		}
		return v, err
	}
	return nil, ErrOptionNotFound
}

// Find is Lookup collapsed to a found flag.
func (s *OptionSpace) Find(code dhcpv4.OptionCode) ([]byte, bool) {
	v, err := s.Lookup(code)
	if err != nil {
		return nil, false
	}
	return v, true
}

// HasMagicCookie reports whether raw carries the DHCP magic cookie at the
// start of the options area.
func HasMagicCookie(raw []byte) bool {
	end := dhcpv4.OffsetOptions + len(dhcpv4.MagicCookie)
	return len(raw) >= end && bytes.Equal(raw[dhcpv4.OffsetOptions:end], dhcpv4.MagicCookie)
}
