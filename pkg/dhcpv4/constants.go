// Package dhcpv4 provides wire constants, name tables and encoding helpers
// for DHCPv4/BOOTP packets.
package dhcpv4

// DHCP Message Types (RFC 2131 §9.6, RFC 4388 for lease query)
type MessageType byte

const (
	MessageTypeDiscover        MessageType = 1  // DHCPDISCOVER
	MessageTypeOffer           MessageType = 2  // DHCPOFFER
	MessageTypeRequest         MessageType = 3  // DHCPREQUEST
	MessageTypeDecline         MessageType = 4  // DHCPDECLINE
	MessageTypeAck             MessageType = 5  // DHCPACK
	MessageTypeNak             MessageType = 6  // DHCPNAK
	MessageTypeRelease         MessageType = 7  // DHCPRELEASE
	MessageTypeInform          MessageType = 8  // DHCPINFORM
	MessageTypeLeaseQuery      MessageType = 10 // DHCPLEASEQUERY
	MessageTypeLeaseUnassigned MessageType = 11 // DHCPLEASEUNASSIGNED
	MessageTypeLeaseUnknown    MessageType = 12 // DHCPLEASEUNKNOWN
	MessageTypeLeaseActive     MessageType = 13 // DHCPLEASEACTIVE
)

// DHCP Op Codes (RFC 951, RFC 2131 §2)
type OpCode byte

const (
	OpCodeBootRequest OpCode = 1 // BOOTREQUEST
	OpCodeBootReply   OpCode = 2 // BOOTREPLY
)

// Hardware Types (RFC 1700)
type HardwareType byte

const (
	HardwareTypeEthernet HardwareType = 1 // Ethernet 10Mbps
	HardwareTypeIEEE802  HardwareType = 6 // IEEE 802.2 Token Ring
	HardwareTypeFDDI     HardwareType = 8 // FDDI
)

// BroadcastFlag is bit 15 of the flags field (RFC 2131 §2).
const BroadcastFlag uint16 = 0x8000

// DHCP Option Codes (RFC 2132 and extensions)
type OptionCode byte

const (
	OptionPad                    OptionCode = 0
	OptionSubnetMask             OptionCode = 1
	OptionTimeOffset             OptionCode = 2
	OptionRouter                 OptionCode = 3
	OptionTimeServer             OptionCode = 4
	OptionNameServer             OptionCode = 5
	OptionDomainNameServer       OptionCode = 6
	OptionLogServer              OptionCode = 7
	OptionCookieServer           OptionCode = 8
	OptionLPRServer              OptionCode = 9
	OptionImpressServer          OptionCode = 10
	OptionResourceLocationServer OptionCode = 11
	OptionHostname               OptionCode = 12
	OptionBootFileSize           OptionCode = 13
	OptionMeritDumpFile          OptionCode = 14
	OptionDomainName             OptionCode = 15
	OptionSwapServer             OptionCode = 16
	OptionRootPath               OptionCode = 17
	OptionExtensionsPath         OptionCode = 18
	OptionIPForwarding           OptionCode = 19
	OptionNonLocalSourceRouting  OptionCode = 20
	OptionPolicyFilter           OptionCode = 21
	OptionMaxDatagramReassembly  OptionCode = 22
	OptionDefaultIPTTL           OptionCode = 23
	OptionPathMTUAgingTimeout    OptionCode = 24
	OptionPathMTUPlateauTable    OptionCode = 25
	OptionInterfaceMTU           OptionCode = 26
	OptionAllSubnetsLocal        OptionCode = 27
	OptionBroadcastAddress       OptionCode = 28
	OptionPerformMaskDiscovery   OptionCode = 29
	OptionMaskSupplier           OptionCode = 30
	OptionPerformRouterDiscovery OptionCode = 31
	OptionRouterSolicitAddr      OptionCode = 32
	OptionStaticRoute            OptionCode = 33
	OptionTrailerEncapsulation   OptionCode = 34
	OptionARPCacheTimeout        OptionCode = 35
	OptionEthernetEncapsulation  OptionCode = 36
	OptionTCPDefaultTTL          OptionCode = 37
	OptionTCPKeepaliveInterval   OptionCode = 38
	OptionTCPKeepaliveGarbage    OptionCode = 39
	OptionNISDomain              OptionCode = 40
	OptionNISServers             OptionCode = 41
	OptionNTPServers             OptionCode = 42
	OptionVendorSpecific         OptionCode = 43
	OptionNetBIOSNameServer      OptionCode = 44
	OptionNetBIOSDatagramDist    OptionCode = 45
	OptionNetBIOSNodeType        OptionCode = 46
	OptionNetBIOSScope           OptionCode = 47
	OptionXWindowFontServer      OptionCode = 48
	OptionXWindowDisplayManager  OptionCode = 49
	OptionRequestedIP            OptionCode = 50
	OptionIPLeaseTime            OptionCode = 51
	OptionOverload               OptionCode = 52
	OptionDHCPMessageType        OptionCode = 53
	OptionServerIdentifier       OptionCode = 54
	OptionParameterRequestList   OptionCode = 55
	OptionMessage                OptionCode = 56
	OptionMaxDHCPMessageSize     OptionCode = 57
	OptionRenewalTime            OptionCode = 58
	OptionRebindingTime          OptionCode = 59
	OptionVendorClassID          OptionCode = 60
	OptionClientIdentifier       OptionCode = 61
	OptionNetWareIPDomain        OptionCode = 62
	OptionNetWareIPOption        OptionCode = 63
	OptionTFTPServerName         OptionCode = 66
	OptionBootfileName           OptionCode = 67
	OptionUserClass              OptionCode = 77
	OptionClientFQDN             OptionCode = 81
	OptionRelayAgentInfo         OptionCode = 82
	OptionClientLastTransaction  OptionCode = 91 // RFC 4388
	OptionAssociatedIP           OptionCode = 92 // RFC 4388
	OptionSubnetSelection        OptionCode = 118
	OptionDomainSearch           OptionCode = 119
	OptionClasslessStaticRoute   OptionCode = 121
	OptionVIVendorClass          OptionCode = 124
	OptionVIVendorSpecific       OptionCode = 125
	OptionTFTPServerAddress      OptionCode = 150
	OptionAuthenticate           OptionCode = 210 // site-local, pre-standard
	OptionEnd                    OptionCode = 255
)

// Relay Agent Information Sub-Option Types (RFC 3046)
const (
	RelaySubOptionCircuitID  byte = 1
	RelaySubOptionRemoteID   byte = 2
	RelaySubOptionAgentID    byte = 3
	RelaySubOptionLinkSelect byte = 5 // RFC 3527
)

// Client FQDN option (81) sub-option codes as numbered by the ISC option
// space. Only the first three describe wire flag bits (RFC 4702 §2.1).
const (
	FQDNNoClientUpdate byte = 1
	FQDNServerUpdate   byte = 2
	FQDNEncoded        byte = 3
	FQDNRCode1         byte = 4
	FQDNRCode2         byte = 5
	FQDNHostname       byte = 6
	FQDNDomainName     byte = 7
	FQDNFQDN           byte = 8
	FQDNSubOptionCount      = 8
)

// VendorISCSubOptions is the ISC enterprise number used in options 124/125.
const VendorISCSubOptions uint32 = 2495

// Packet geometry (RFC 951, RFC 2131 §2).
const (
	UDPOverhead     = 20 + 8 // IP header + UDP header
	SNameLen        = 64
	FileLen         = 128
	CHAddrLen       = 16
	FixedLen        = 236 // everything but options
	FixedLenWithUDP = FixedLen + UDPOverhead
	BOOTPMinLen     = 300

	MTUMax = 1500
	MTUMin = 576

	MaxOptionLen = MTUMax - FixedLenWithUDP
	MinOptionLen = MTUMin - FixedLenWithUDP
)

// Field offsets within the fixed header.
const (
	OffsetOp      = 0
	OffsetHType   = 1
	OffsetHLen    = 2
	OffsetHops    = 3
	OffsetXID     = 4
	OffsetSecs    = 8
	OffsetFlags   = 10
	OffsetCIAddr  = 12
	OffsetYIAddr  = 16
	OffsetSIAddr  = 20
	OffsetGIAddr  = 24
	OffsetCHAddr  = 28
	OffsetSName   = 44
	OffsetFile    = 108
	OffsetOptions = FixedLen
)

// DHCP Ports
const (
	ServerPort = 67
	ClientPort = 68
)

// MagicCookie validates the options field (and the BOOTP vendor extensions
// field), RFC 2131 §3.
var MagicCookie = []byte{99, 130, 83, 99}
