// Package decoder implements L2-L4 protocol stack decoding.
//
// Parse never fails: any decode error downgrades the record to Malformed.
// Every field read is preceded by an explicit length check.
package decoder

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/netdash/internal/core"
)

// Parse decodes a raw frame into a ParsedRecord.
func Parse(frame core.RawFrame) core.ParsedRecord {
	rec := core.ParsedRecord{
		Timestamp: frame.Timestamp,
		Length:    frame.Length(),
	}

	link, payload, err := decodeLink(frame.LinkType, frame.Data)
	rec.Link = link
	if err != nil {
		rec.Malformed = true
		return rec
	}

	if link.EtherType != etherTypeIPv4 && link.EtherType != etherTypeIPv6 {
		// Non-IP network layer (ARP, LLDP, ...): counted, no flow.
		rec.Protocol = core.ProtoOther
		return rec
	}

	ip, err := decodeIP(payload)
	if err != nil {
		return malformed(rec)
	}

	rec.HasNetwork = true
	rec.Network = ip.header
	rec.Protocol = core.ProtocolFromIP(ip.header.Protocol)
	rec.PayloadLen = ip.payloadLen

	// Only the first fragment carries the transport header.
	if ip.fragment {
		return rec
	}

	switch ip.header.Protocol {
	case core.IPProtoTCP, core.IPProtoUDP:
		th, err := decodeTransport(ip.payload, ip.header.Protocol)
		if err != nil {
			return malformed(rec)
		}
		rec.HasPorts = true
		rec.SrcPort = th.srcPort
		rec.DstPort = th.dstPort
		rec.PayloadLen = max(ip.payloadLen-th.headerLen, 0)
	}

	return rec
}

// malformed strips everything above the link layer.
func malformed(rec core.ParsedRecord) core.ParsedRecord {
	return core.ParsedRecord{
		Timestamp: rec.Timestamp,
		Length:    rec.Length,
		Malformed: true,
		Link:      rec.Link,
	}
}

// decodeLink dispatches on the capture link type.
func decodeLink(lt core.LinkType, data []byte) (core.LinkHeader, []byte, error) {
	if lt > 0xFF {
		return core.LinkHeader{}, nil, core.ErrUnsupportedLinkType
	}
	switch layers.LinkType(lt) {
	case layers.LinkTypeEthernet:
		return decodeEthernet(data)
	case layers.LinkTypeLinuxSLL:
		return decodeLinuxSLL(data)
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return decodeLoopback(data)
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return decodeRawIP(data)
	default:
		return core.LinkHeader{}, nil, core.ErrUnsupportedLinkType
	}
}
