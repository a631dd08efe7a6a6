package main

import (
	"bytes"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/config"
	"github.com/athena-dhcpd/dhcp-callout/internal/dhcp"
	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

func TestDecodeHexOrRaw(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, decodeHexOrRaw([]byte("01 02\nff\n")))
	raw := []byte{0x01, 0x00, 0x63}
	assert.Equal(t, raw, decodeHexOrRaw(raw))
	assert.Equal(t, []byte("abc"), decodeHexOrRaw([]byte("abc")))
}

func TestParseClientType(t *testing.T) {
	ct, err := parseClientType("bootp")
	require.NoError(t, err)
	assert.Equal(t, callout.ClientBOOTP, ct)
	ct, err = parseClientType("")
	require.NoError(t, err)
	assert.Equal(t, callout.ClientDHCP, ct)
	_, err = parseClientType("pxe")
	assert.Error(t, err)
}

func TestChannelConfigNames(t *testing.T) {
	cfg := config.Default()
	cfg.Channel.Lock = "Local\\TestLock"
	cc := channelConfig(cfg, nil)
	assert.Equal(t, "Local\\TestLock", cc.Names.Lock)
	assert.Equal(t, callout.DefaultNames().SharedMemory, cc.Names.SharedMemory)
	assert.Equal(t, config.DefaultChannelTimeout, cc.Timeout)
}

func TestDecodeCommand(t *testing.T) {
	pkt := dhcp.NewRequest(dhcpv4.MessageTypeRequest, net.HardwareAddr{0, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}, 0xdeadbeef)
	pkt.Options.SetString(dhcpv4.OptionHostname, "printer")
	raw, err := pkt.Encode()
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "pkt.hex")
	require.NoError(t, os.WriteFile(file, []byte(hex.EncodeToString(raw)), 0o644))

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"decode", file})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "0xdeadbeef")
	assert.Contains(t, text, "00:1a:2b:3c:4d:5e")
	assert.Contains(t, text, "printer")
}

func TestDecodeEnvelopeCommand(t *testing.T) {
	env := &callout.ClientDelete{
		IPAddress:  net.IPv4(10, 0, 0, 7),
		HWAddr:     net.HardwareAddr{0xaa, 0xbb, 0xcc},
		ClientType: callout.ClientBOOTP,
	}
	raw, err := env.MarshalBinary()
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetIn(bytes.NewReader(raw))
	cmd.SetArgs([]string{"decode", "--envelope", "-"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "client_delete")
	assert.Contains(t, text, "10.0.0.7")
	assert.Contains(t, text, "aa:bb:cc")
	assert.True(t, strings.Contains(text, "bootp"))
}
