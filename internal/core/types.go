package core

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Protocol is the transport protocol tag used for aggregation.
type Protocol uint8

const (
	ProtoOther Protocol = iota
	ProtoTCP
	ProtoUDP
	ProtoICMP
)

// Protocols lists every tag in display order.
var Protocols = []Protocol{ProtoTCP, ProtoUDP, ProtoICMP, ProtoOther}

// IP protocol numbers.
const (
	IPProtoICMP   uint8 = 1
	IPProtoTCP    uint8 = 6
	IPProtoUDP    uint8 = 17
	IPProtoICMPv6 uint8 = 58
)

// ProtocolFromIP maps an IP protocol number to its tag.
func ProtocolFromIP(n uint8) Protocol {
	switch n {
	case IPProtoTCP:
		return ProtoTCP
	case IPProtoUDP:
		return ProtoUDP
	case IPProtoICMP, IPProtoICMPv6:
		return ProtoICMP
	default:
		return ProtoOther
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	default:
		return "other"
	}
}

// MarshalText lets Protocol be used as a JSON object key.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the names produced by MarshalText.
func (p *Protocol) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "tcp":
		*p = ProtoTCP
	case "udp":
		*p = ProtoUDP
	case "icmp":
		*p = ProtoICMP
	case "other":
		*p = ProtoOther
	default:
		return fmt.Errorf("unknown protocol %q", b)
	}
	return nil
}

// LinkHeader contains the link-layer fields of a frame.
type LinkHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	HasMAC    bool
	EtherType uint16
	VLANs     []uint16
}

// NetworkHeader contains IPv4/IPv6 fields.
type NetworkHeader struct {
	Version  uint8 // 4 or 6
	Src      netip.Addr
	Dst      netip.Addr
	Protocol uint8 // IP protocol number (next header for IPv6)
	TTL      uint8 // hop limit for IPv6
}

// ParsedRecord is the structured decode of one frame.
//
// Network fields are set only when HasNetwork is true and ports only when
// HasPorts is true. A Malformed record carries link fields at most.
type ParsedRecord struct {
	Timestamp time.Time
	Length    uint64 // bytes accounted for this frame
	Malformed bool

	Link LinkHeader

	HasNetwork bool
	Network    NetworkHeader

	Protocol   Protocol
	HasPorts   bool
	SrcPort    uint16
	DstPort    uint16
	PayloadLen int
}

// FlowKey returns the aggregation key of the record.
// Records without a decoded network layer have no flow.
func (r ParsedRecord) FlowKey() (FlowKey, bool) {
	if r.Malformed || !r.HasNetwork {
		return FlowKey{}, false
	}
	k := FlowKey{
		Src:   r.Network.Src,
		Dst:   r.Network.Dst,
		Proto: r.Network.Protocol,
	}
	if r.HasPorts {
		k.SrcPort = r.SrcPort
		k.DstPort = r.DstPort
	}
	return k, true
}

// FlowKey identifies a direction-sensitive flow.
type FlowKey struct {
	Src     netip.Addr `json:"src"`
	Dst     netip.Addr `json:"dst"`
	Proto   uint8      `json:"proto"`
	SrcPort uint16     `json:"src_port,omitempty"`
	DstPort uint16     `json:"dst_port,omitempty"`
}

// Protocol returns the tag for the key's IP protocol number.
func (k FlowKey) Protocol() Protocol {
	return ProtocolFromIP(k.Proto)
}

func (k FlowKey) String() string {
	proto := k.Protocol().String()
	if k.Protocol() == ProtoOther {
		proto = fmt.Sprintf("other(%d)", k.Proto)
	}
	if k.SrcPort == 0 && k.DstPort == 0 {
		return fmt.Sprintf("%s %s -> %s", proto, k.Src, k.Dst)
	}
	return fmt.Sprintf("%s %s -> %s",
		proto,
		netip.AddrPortFrom(k.Src, k.SrcPort),
		netip.AddrPortFrom(k.Dst, k.DstPort))
}
