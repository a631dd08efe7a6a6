package dhcpv4

import "fmt"

var messageTypeNames = map[MessageType]string{
	MessageTypeDiscover:        "DHCPDISCOVER",
	MessageTypeOffer:           "DHCPOFFER",
	MessageTypeRequest:         "DHCPREQUEST",
	MessageTypeDecline:         "DHCPDECLINE",
	MessageTypeAck:             "DHCPACK",
	MessageTypeNak:             "DHCPNAK",
	MessageTypeRelease:         "DHCPRELEASE",
	MessageTypeInform:          "DHCPINFORM",
	MessageTypeLeaseQuery:      "DHCPLEASEQUERY",
	MessageTypeLeaseUnassigned: "DHCPLEASEUNASSIGNED",
	MessageTypeLeaseUnknown:    "DHCPLEASEUNKNOWN",
	MessageTypeLeaseActive:     "DHCPLEASEACTIVE",
}

func (m MessageType) String() string {
	if name, ok := messageTypeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether m is a registered message type.
func (m MessageType) Valid() bool {
	_, ok := messageTypeNames[m]
	return ok
}

// hardwareTypeNames follows the ARP hardware type registry for the types a
// DHCP server commonly sees; anything else renders as "unknown-N".
var hardwareTypeNames = map[HardwareType]string{
	HardwareTypeEthernet: "ethernet",
	HardwareTypeIEEE802:  "token-ring",
	HardwareTypeFDDI:     "fddi",
}

func (h HardwareType) String() string {
	if name, ok := hardwareTypeNames[h]; ok {
		return name
	}
	return fmt.Sprintf("unknown-%d", byte(h))
}

func (o OpCode) String() string {
	switch o {
	case OpCodeBootRequest:
		return "BOOTREQUEST"
	case OpCodeBootReply:
		return "BOOTREPLY"
	default:
		return fmt.Sprintf("OP(%d)", byte(o))
	}
}
