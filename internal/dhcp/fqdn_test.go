package dhcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

func TestParseClientFQDN(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantName    string
		wantPartial bool
	}{
		{
			name:     "wire format",
			data:     append([]byte{FQDNFlagS | FQDNFlagE, 0, 0}, "\x04host\x07example\x03com\x00"...),
			wantName: "host.example.com.",
		},
		{
			name:        "partial wire name",
			data:        append([]byte{FQDNFlagE, 0, 0}, "\x04host"...),
			wantName:    "host",
			wantPartial: true,
		},
		{
			name:     "ascii",
			data:     append([]byte{0, 255, 255}, "pc1.lan"...),
			wantName: "pc1.lan",
		},
		{
			name: "flags only",
			data: []byte{FQDNFlagN, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseClientFQDN(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.data[0], f.Flags)
			assert.Equal(t, tt.wantName, f.Name)
			assert.Equal(t, tt.wantPartial, f.Partial)
		})
	}
}

func TestParseClientFQDNMalformed(t *testing.T) {
	_, err := ParseClientFQDN([]byte{FQDNFlagE, 0})
	assert.ErrorIs(t, err, ErrMalformedOption)

	// Label length runs past the end even with a root label appended.
	_, err = ParseClientFQDN(append([]byte{FQDNFlagE, 0, 0}, "\x09abc"...))
	assert.ErrorIs(t, err, ErrMalformedOption)
}

func TestClientFQDNEncodeRoundTrip(t *testing.T) {
	in := &ClientFQDN{Flags: FQDNFlagS | FQDNFlagE, Name: "laptop.corp.example"}
	data, err := in.Encode()
	require.NoError(t, err)

	out, err := ParseClientFQDN(data)
	require.NoError(t, err)
	assert.Equal(t, "laptop.corp.example.", out.Name)
	assert.False(t, out.Partial)

	pkt := &Packet{Options: Options{dhcpv4.OptionClientFQDN: data}}
	require.NotNil(t, pkt.ClientFQDN())
	assert.Equal(t, out.Name, pkt.ClientFQDN().Name)
}

func TestParseDomainSearch(t *testing.T) {
	// RFC 3397 §3 example: the second name points back into the first.
	data := []byte("\x03eng\x05apple\x03com\x00\x09marketing\xc0\x04")
	names, err := ParseDomainSearch(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"eng.apple.com.", "marketing.apple.com."}, names)

	_, err = ParseDomainSearch([]byte{5, 'a'})
	assert.ErrorIs(t, err, ErrMalformedOption)
}

func TestEncodeDomainSearchRoundTrip(t *testing.T) {
	data, err := EncodeDomainSearch([]string{"eng.example.com", "example.com", "lab.example.org."})
	require.NoError(t, err)

	pkt := &Packet{Options: Options{dhcpv4.OptionDomainSearch: data}}
	assert.Equal(t, []string{"eng.example.com.", "example.com.", "lab.example.org."}, pkt.DomainSearch())
	assert.Equal(t, "eng.example.com.,example.com.,lab.example.org.", FormatOption(dhcpv4.OptionDomainSearch, data))
}
