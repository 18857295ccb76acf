package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/netdash/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	// IPv6 extension headers
	ipv6HopByHop    = 0
	ipv6Routing     = 43
	ipv6Fragment    = 44
	ipv6AuthHeader  = 51
	ipv6DestOptions = 60

	ipv6FragmentLen  = 8
	maxIPv6ExtChains = 8
)

// ipPacket is a decoded IP header plus the bytes that follow it.
type ipPacket struct {
	header     core.NetworkHeader
	payload    []byte // captured transport bytes, trimmed to the declared length
	payloadLen int    // declared transport length
	fragment   bool   // non-first fragment, no transport header
}

// decodeIP decodes an IPv4 or IPv6 header.
func decodeIP(data []byte) (ipPacket, error) {
	if len(data) < 1 {
		return ipPacket{}, core.ErrPacketTooShort
	}

	switch data[0] >> 4 {
	case 4:
		return decodeIPv4(data)
	case 6:
		return decodeIPv6(data)
	default:
		return ipPacket{}, core.ErrInvalidHeader
	}
}

// decodeIPv4 decodes an IPv4 header.
func decodeIPv4(data []byte) (ipPacket, error) {
	if len(data) < ipv4HeaderMinLen {
		return ipPacket{}, core.ErrPacketTooShort
	}

	// IHL is in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen {
		return ipPacket{}, core.ErrInvalidHeader
	}
	if len(data) < headerLen {
		return ipPacket{}, core.ErrPacketTooShort
	}

	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen == 0 {
		// segmentation offload leaves the length unset
		totalLen = len(data)
	}
	if totalLen < headerLen {
		return ipPacket{}, core.ErrInvalidHeader
	}

	p := ipPacket{
		header: core.NetworkHeader{
			Version:  4,
			TTL:      data[8],
			Protocol: data[9],
			Src:      netip.AddrFrom4([4]byte(data[12:16])),
			Dst:      netip.AddrFrom4([4]byte(data[16:20])),
		},
		payloadLen: totalLen - headerLen,
	}

	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	p.fragment = flagsOffset&0x1FFF != 0

	// Drop link-layer padding after the datagram.
	end := min(totalLen, len(data))
	p.payload = data[headerLen:end]
	return p, nil
}

// decodeIPv6 decodes the fixed IPv6 header and walks extension headers
// to find the upper-layer protocol.
func decodeIPv6(data []byte) (ipPacket, error) {
	if len(data) < ipv6HeaderLen {
		return ipPacket{}, core.ErrPacketTooShort
	}

	payloadLen := int(binary.BigEndian.Uint16(data[4:6]))
	if payloadLen == 0 {
		// jumbogram or offload
		payloadLen = len(data) - ipv6HeaderLen
	}

	p := ipPacket{
		header: core.NetworkHeader{
			Version: 6,
			TTL:     data[7],
			Src:     netip.AddrFrom16([16]byte(data[8:24])),
			Dst:     netip.AddrFrom16([16]byte(data[24:40])),
		},
	}

	end := min(ipv6HeaderLen+payloadLen, len(data))
	rest := data[ipv6HeaderLen:end]
	next := data[6]
	extLen := 0

	for i := 0; ; i++ {
		if i == maxIPv6ExtChains {
			return ipPacket{}, core.ErrInvalidHeader
		}

		var hdrLen int
		switch next {
		case ipv6HopByHop, ipv6Routing, ipv6DestOptions:
			if len(rest) < 2 {
				return ipPacket{}, core.ErrPacketTooShort
			}
			hdrLen = (int(rest[1]) + 1) * 8
		case ipv6AuthHeader:
			if len(rest) < 2 {
				return ipPacket{}, core.ErrPacketTooShort
			}
			hdrLen = (int(rest[1]) + 2) * 4
		case ipv6Fragment:
			if len(rest) < ipv6FragmentLen {
				return ipPacket{}, core.ErrPacketTooShort
			}
			hdrLen = ipv6FragmentLen
			if binary.BigEndian.Uint16(rest[2:4])>>3 != 0 {
				p.fragment = true
			}
		default:
			p.header.Protocol = next
			p.payload = rest
			p.payloadLen = max(payloadLen-extLen, 0)
			return p, nil
		}

		if len(rest) < hdrLen {
			return ipPacket{}, core.ErrPacketTooShort
		}
		next = rest[0]
		rest = rest[hdrLen:]
		extLen += hdrLen
	}
}
