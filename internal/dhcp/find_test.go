package dhcp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

func TestFindOptionDiscover(t *testing.T) {
	raw := make([]byte, dhcpv4.BOOTPMinLen)
	raw[0] = byte(dhcpv4.OpCodeBootRequest)
	copy(raw[dhcpv4.OffsetOptions:], []byte{
		0x63, 0x82, 0x53, 0x63,
		53, 1, 1,
		255,
	})

	opts := raw[dhcpv4.OffsetOptions+len(dhcpv4.MagicCookie):]
	v, ok := FindOption(opts, dhcpv4.OptionDHCPMessageType)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, v)
	assert.Len(t, v, 1)

	space, err := NewOptionSpace(raw)
	require.NoError(t, err)
	v, ok = space.Find(dhcpv4.OptionDHCPMessageType)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, v)
}

func TestFindOptionEveryCode(t *testing.T) {
	want := map[dhcpv4.OptionCode][]byte{
		dhcpv4.OptionSubnetMask:       {255, 255, 255, 0},
		dhcpv4.OptionRouter:           {10, 0, 0, 1, 10, 0, 0, 2},
		dhcpv4.OptionHostname:         []byte("client-7"),
		dhcpv4.OptionDHCPMessageType:  {byte(dhcpv4.MessageTypeRequest)},
		dhcpv4.OptionClientIdentifier: {1, 0, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e},
		dhcpv4.OptionVendorSpecific:   {},
		dhcpv4.OptionCode(224):        bytes.Repeat([]byte{0xaa}, 255),
	}
	opts := make(Options)
	for code, v := range want {
		opts.Set(code, v)
	}
	buf, err := opts.Encode()
	require.NoError(t, err)
	// Leading PAD bytes are skipped by the scan.
	buf = append([]byte{0, 0}, buf...)

	for code, v := range want {
		got, ok := FindOption(buf, code)
		require.True(t, ok, "code %d", code)
		assert.Equal(t, v, []byte(got), "code %d", code)
	}
	for _, code := range []dhcpv4.OptionCode{2, 50, 54, 61 + 1, 254} {
		_, ok := FindOption(buf, code)
		assert.False(t, ok, "code %d should be absent", code)
	}
}

func TestFindOptionStopsAtEnd(t *testing.T) {
	buf := []byte{
		12, 1, 'a',
		255,
		53, 1, 1,
	}
	_, ok := FindOption(buf, dhcpv4.OptionDHCPMessageType)
	assert.False(t, ok)
}

func TestFindOptionFirstMatch(t *testing.T) {
	buf := []byte{
		12, 3, 'o', 'n', 'e',
		12, 3, 't', 'w', 'o',
		255,
	}
	v, ok := FindOption(buf, dhcpv4.OptionHostname)
	require.True(t, ok)
	assert.Equal(t, "one", string(v))
}

func TestFindOptionSentinels(t *testing.T) {
	buf := []byte{0, 0, 53, 1, 1, 255}
	for _, in := range [][]byte{nil, {}, buf} {
		_, ok := FindOption(in, dhcpv4.OptionPad)
		assert.False(t, ok)
		_, ok = FindOption(in, dhcpv4.OptionEnd)
		assert.False(t, ok)
	}
}

func TestFindOptionTruncated(t *testing.T) {
	// The option claims as many value bytes as the whole buffer holds, so
	// honouring it would read past the end.
	for _, n := range []int{2, 3, 8, 64, 255} {
		buf := make([]byte, n)
		buf[0] = byte(dhcpv4.OptionHostname)
		buf[1] = byte(n)
		// A fresh backing array exactly n long; any over-read panics.
		buf = append([]byte(nil), buf...)[:n:n]

		_, ok := FindOption(buf, dhcpv4.OptionHostname)
		assert.False(t, ok, "n=%d", n)
		_, err := LookupOption(buf, dhcpv4.OptionHostname)
		assert.ErrorIs(t, err, ErrMalformedOption, "n=%d", n)
		_, err = LookupOption(buf, dhcpv4.OptionRouter)
		assert.ErrorIs(t, err, ErrMalformedOption, "n=%d", n)
	}

	_, err := LookupOption([]byte{byte(dhcpv4.OptionHostname)}, dhcpv4.OptionHostname)
	assert.ErrorIs(t, err, ErrMalformedOption)
}

func TestLookupOptionViewIsBounded(t *testing.T) {
	buf := []byte{12, 2, 'h', 'i', 53, 1, 1, 255}
	v, err := LookupOption(buf, dhcpv4.OptionHostname)
	require.NoError(t, err)
	assert.Equal(t, 2, cap(v))
	assert.Same(t, &buf[2], &v[0])
}

func TestFindOptionRoundTrip(t *testing.T) {
	orig := Options{
		dhcpv4.OptionIPLeaseTime:      {0, 1, 0x51, 0x80},
		dhcpv4.OptionServerIdentifier: {192, 168, 1, 1},
		dhcpv4.OptionDomainName:       []byte("example.net"),
		dhcpv4.OptionParameterRequestList: {
			1, 3, 6, 15, 51, 54,
		},
	}
	buf, err := orig.Encode()
	require.NoError(t, err)
	for code, v := range orig {
		got, ok := FindOption(buf, code)
		require.True(t, ok)
		assert.True(t, bytes.Equal(v, got), "code %d", code)
	}
}

// overloadedPacket builds a packet whose file and/or sname fields carry
// options per option 52.
func overloadedPacket(ov Overload, opts, file, sname []byte) []byte {
	raw := make([]byte, dhcpv4.OffsetOptions, 400)
	raw[0] = byte(dhcpv4.OpCodeBootRequest)
	copy(raw[dhcpv4.OffsetFile:], file)
	copy(raw[dhcpv4.OffsetSName:], sname)
	raw = append(raw, dhcpv4.MagicCookie...)
	if ov != OverloadNone {
		raw = append(raw, byte(dhcpv4.OptionOverload), 1, byte(ov))
	}
	raw = append(raw, opts...)
	return raw
}

func TestOptionSpaceOverload(t *testing.T) {
	opts := []byte{53, 1, 3, 255}
	file := []byte{12, 4, 'f', 'i', 'l', 'e', 255}
	sname := []byte{15, 3, 'l', 'a', 'n', 12, 4, 's', 'n', 'a', 'm', 255}

	tests := []struct {
		ov           Overload
		wantHostname string
		wantDomain   bool
	}{
		{OverloadNone, "", false},
		{OverloadFile, "file", false},
		{OverloadSName, "snam", true},
		{OverloadBoth, "file", true},
	}
	for _, tt := range tests {
		t.Run(tt.ov.String(), func(t *testing.T) {
			space, err := NewOptionSpace(overloadedPacket(tt.ov, opts, file, sname))
			require.NoError(t, err)
			assert.Equal(t, tt.ov, space.Overload)

			v, ok := space.Find(dhcpv4.OptionDHCPMessageType)
			require.True(t, ok)
			assert.Equal(t, []byte{3}, v)

			v, ok = space.Find(dhcpv4.OptionHostname)
			if tt.wantHostname == "" {
				assert.False(t, ok)
			} else {
				require.True(t, ok)
				assert.Equal(t, tt.wantHostname, string(v))
			}

			_, ok = space.Find(dhcpv4.OptionDomainName)
			assert.Equal(t, tt.wantDomain, ok)
		})
	}
}

func TestOptionSpaceOverloadOnlyInOptionsArea(t *testing.T) {
	// An overload option inside file must not be reported.
	file := []byte{52, 1, 2, 255}
	space, err := NewOptionSpace(overloadedPacket(OverloadFile, []byte{255}, file, nil))
	require.NoError(t, err)
	v, ok := space.Find(dhcpv4.OptionOverload)
	require.True(t, ok)
	assert.Equal(t, []byte{byte(OverloadFile)}, v)
	assert.Nil(t, space.SName)
}

func TestOptionSpaceInvalidOverload(t *testing.T) {
	raw := overloadedPacket(OverloadNone, []byte{52, 1, 7, 255}, nil, nil)
	_, err := NewOptionSpace(raw)
	assert.ErrorIs(t, err, ErrMalformedOption)

	raw = overloadedPacket(OverloadNone, []byte{52, 2, 1, 1, 255}, nil, nil)
	_, err = NewOptionSpace(raw)
	assert.ErrorIs(t, err, ErrMalformedOption)
}

func TestOptionSpaceBOOTP(t *testing.T) {
	raw := make([]byte, dhcpv4.BOOTPMinLen)
	raw[0] = byte(dhcpv4.OpCodeBootRequest)
	space, err := NewOptionSpace(raw)
	require.NoError(t, err)
	assert.Equal(t, OverloadNone, space.Overload)
	_, ok := space.Find(dhcpv4.OptionDHCPMessageType)
	assert.False(t, ok)
	assert.False(t, HasMagicCookie(raw))
}

func TestOptionSpaceTooShort(t *testing.T) {
	_, err := NewOptionSpace(make([]byte, dhcpv4.FixedLen-1))
	assert.Error(t, err)
}
