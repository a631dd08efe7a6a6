package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/dhcp"
	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

func decodeCmd() *cobra.Command {
	var envelope bool

	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Decode a DHCP packet or a callout envelope",
		Long: `Decode a raw or hex encoded DHCP/BOOTP packet and print its header and
options, overloaded sname/file areas included. With --envelope the file
holds a callout envelope, and its embedded request is decoded too. FILE "-"
reads stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			raw := decodeHexOrRaw(data)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			if envelope {
				return printEnvelope(w, raw)
			}
			pkt, err := dhcp.DecodePacket(raw)
			if err != nil {
				return err
			}
			printPacket(w, pkt)
			return nil
		},
	}
	cmd.Flags().BoolVar(&envelope, "envelope", false, "FILE holds a callout envelope")
	return cmd
}

// decodeHexOrRaw returns data hex-decoded when it is entirely hex text,
// whitespace ignored, and unchanged otherwise.
func decodeHexOrRaw(data []byte) []byte {
	text := bytes.Join(bytes.Fields(data), nil)
	if len(text) == 0 || len(text)%2 != 0 {
		return data
	}
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return data
	}
	return raw
}

func printEnvelope(w io.Writer, raw []byte) error {
	env, err := callout.Decode(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "hook\t%s\n", env.Hook())
	switch e := env.(type) {
	case *callout.AddressOffer:
		fmt.Fprintf(w, "control\t%s\n", e.Control)
		fmt.Fprintf(w, "ip\t%s\n", e.IPAddress)
		fmt.Fprintf(w, "alt_ip\t%s\n", e.AltAddr)
		fmt.Fprintf(w, "client_type\t%s\n", e.AddrType)
		fmt.Fprintf(w, "lease_time\t%d\n", e.LeaseTime)
	case *callout.AddressDelete:
		fmt.Fprintf(w, "control\t%s\n", e.Control)
		fmt.Fprintf(w, "ip\t%s\n", e.IPAddress)
		fmt.Fprintf(w, "alt_ip\t%s\n", e.AltAddr)
	case *callout.ClientDelete:
		fmt.Fprintf(w, "ip\t%s\n", e.IPAddress)
		fmt.Fprintf(w, "hw_addr\t%s\n", dhcpv4.FormatHWAddr(e.HWAddr))
		fmt.Fprintf(w, "client_type\t%s\n", e.ClientType)
		return nil
	}

	pkt, err := callout.DecodePacket(env)
	if err != nil {
		fmt.Fprintf(w, "packet\t%v\n", err)
		return nil
	}
	fmt.Fprintln(w, "")
	printPacket(w, pkt)
	return nil
}

func printPacket(w io.Writer, p *dhcp.Packet) {
	kind := "dhcp"
	if p.BOOTP {
		kind = "bootp"
	}
	fmt.Fprintf(w, "kind\t%s\n", kind)
	fmt.Fprintf(w, "op\t%s\n", p.Op)
	fmt.Fprintf(w, "htype\t%s\n", p.HType)
	fmt.Fprintf(w, "xid\t0x%08x\n", p.XID)
	fmt.Fprintf(w, "secs\t%d\n", p.Secs)
	fmt.Fprintf(w, "flags\t0x%04x\n", p.Flags)
	fmt.Fprintf(w, "ciaddr\t%s\n", p.CIAddr)
	fmt.Fprintf(w, "yiaddr\t%s\n", p.YIAddr)
	fmt.Fprintf(w, "siaddr\t%s\n", p.SIAddr)
	fmt.Fprintf(w, "giaddr\t%s\n", p.GIAddr)
	fmt.Fprintf(w, "chaddr\t%s\n", dhcpv4.FormatHWAddr(p.CHAddr))
	if !p.Overload.SName() {
		if s := p.ServerName(); s != "" {
			fmt.Fprintf(w, "sname\t%s\n", s)
		}
	}
	if !p.Overload.File() {
		if s := p.BootFile(); s != "" {
			fmt.Fprintf(w, "file\t%s\n", s)
		}
	}
	if p.Overload != dhcp.OverloadNone {
		fmt.Fprintf(w, "overload\t%s\n", p.Overload)
	}
	if p.BOOTP {
		return
	}
	fmt.Fprintf(w, "message_type\t%s\n", p.MessageType())
	for _, code := range p.Options.Codes() {
		value, _ := p.Options.Get(code)
		fmt.Fprintf(w, "option %d\t%s\t%s\n", code, dhcp.OptionName(code), dhcp.FormatOption(code, value))
	}
}
