package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/dhcp"
	"github.com/athena-dhcpd/dhcp-callout/internal/hook"
	"github.com/athena-dhcpd/dhcp-callout/pkg/dhcpv4"
)

type invokeFlags struct {
	ip         string
	mac        string
	hostname   string
	clientType string
	leaseTime  time.Duration
	packetFile string
	timeout    time.Duration
}

// invokeResult is printed as JSON.
type invokeResult struct {
	Hook      string `json:"hook"`
	Outcome   string `json:"outcome"`
	Reject    bool   `json:"reject,omitempty"`
	IP        string `json:"ip,omitempty"`
	AltIP     string `json:"alt_ip,omitempty"`
	LeaseTime uint32 `json:"lease_time,omitempty"`
}

func invokeCmd(g *globalFlags) *cobra.Command {
	f := &invokeFlags{}

	cmd := &cobra.Command{
		Use:   "invoke offer|delete|client-delete",
		Short: "Post one callout as the DHCP server would and print the decision",
		Long: `Post one callout on the channel as the DHCP server would. Channel
failures are reported as the outcome the server would fall back on, so a
missing listener prints outcome "no_listener" rather than failing.

The embedded request is read from --packet (raw or hex) or built as a
DHCPDISCOVER from --mac and --hostname.`,
		Example: `  calloutctl invoke offer --ip 192.168.1.50 --mac 00:1a:2b:3c:4d:5e --hostname printer
  calloutctl invoke delete --ip 192.168.1.50 --packet request.hex
  calloutctl invoke client-delete --ip 192.168.1.50 --mac 00:1a:2b:3c:4d:5e`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"offer", "delete", "client-delete"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			ip := net.ParseIP(f.ip).To4()
			if ip == nil {
				return fmt.Errorf("--ip %q is not an IPv4 address", f.ip)
			}
			var mac net.HardwareAddr
			if f.mac != "" {
				if mac, err = net.ParseMAC(f.mac); err != nil {
					return fmt.Errorf("--mac: %w", err)
				}
			}
			clientType, err := parseClientType(f.clientType)
			if err != nil {
				return err
			}

			chCfg := channelConfig(cfg, logger)
			if f.timeout > 0 {
				chCfg.Timeout = f.timeout
			}
			ch, err := callout.Open(chCfg)
			if err != nil {
				return err
			}
			defer ch.Close()
			inv := hook.NewInvoker(ch, nil, logger)

			ctx := cmd.Context()
			res := invokeResult{}
			switch args[0] {
			case "offer", "delete":
				pkt, err := f.packet(mac)
				if err != nil {
					return err
				}
				var d hook.Decision
				if args[0] == "offer" {
					d = inv.OfferAddress(ctx, ip, clientType, uint32(f.leaseTime/time.Second), pkt)
				} else {
					d = inv.DeleteAddress(ctx, ip, pkt)
				}
				res = invokeResult{
					Outcome:   d.Outcome,
					Reject:    d.Reject,
					IP:        ipText(d.IP),
					AltIP:     ipText(d.AltIP),
					LeaseTime: d.LeaseTime,
				}
				if args[0] == "offer" {
					res.Hook = callout.HookAddressOffer.String()
				} else {
					res.Hook = callout.HookAddressDelete.String()
				}
			case "client-delete":
				if mac == nil {
					return fmt.Errorf("client-delete needs --mac")
				}
				res.Hook = callout.HookClientDelete.String()
				res.Outcome = inv.DeleteClient(ctx, ip, mac, clientType)
			default:
				return fmt.Errorf("unknown hook %q (want offer, delete or client-delete)", args[0])
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&f.ip, "ip", "", "address the server proposes")
	cmd.Flags().StringVar(&f.mac, "mac", "", "client hardware address")
	cmd.Flags().StringVar(&f.hostname, "hostname", "", "host name option for the built request")
	cmd.Flags().StringVar(&f.clientType, "client-type", "dhcp", "dhcp or bootp")
	cmd.Flags().DurationVar(&f.leaseTime, "lease-time", time.Hour, "proposed lease time (offer)")
	cmd.Flags().StringVar(&f.packetFile, "packet", "", "file holding the raw or hex encoded request")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "completion timeout (configured value when zero)")
	_ = cmd.MarkFlagRequired("ip")

	return cmd
}

// packet returns the request to embed in the callout.
func (f *invokeFlags) packet(mac net.HardwareAddr) ([]byte, error) {
	if f.packetFile != "" {
		data, err := os.ReadFile(f.packetFile)
		if err != nil {
			return nil, err
		}
		raw := decodeHexOrRaw(data)
		if len(raw) > callout.PacketMax {
			return nil, fmt.Errorf("packet is %d bytes, at most %d fit in a callout", len(raw), callout.PacketMax)
		}
		return raw, nil
	}
	if mac == nil {
		return nil, fmt.Errorf("need --packet or --mac to build the request")
	}
	req := dhcp.NewRequest(dhcpv4.MessageTypeDiscover, mac, rand.Uint32())
	if f.hostname != "" {
		req.Options.SetString(dhcpv4.OptionHostname, f.hostname)
	}
	return req.Encode()
}

func parseClientType(s string) (callout.ClientType, error) {
	switch s {
	case "dhcp", "":
		return callout.ClientDHCP, nil
	case "bootp":
		return callout.ClientBOOTP, nil
	default:
		return 0, fmt.Errorf("unknown client type %q (want dhcp or bootp)", s)
	}
}

func ipText(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
