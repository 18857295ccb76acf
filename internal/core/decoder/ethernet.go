package decoder

import (
	"encoding/binary"

	"firestige.xyz/netdash/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	sllHeaderLen      = 16
	loopbackHeaderLen = 4

	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8

	// Stacked tags beyond this are treated as corrupt.
	maxVLANTags = 8
)

// decodeEthernet decodes an Ethernet II header including 802.1Q/802.1ad tags.
func decodeEthernet(data []byte) (core.LinkHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return core.LinkHeader{}, nil, core.ErrPacketTooShort
	}

	link := core.LinkHeader{HasMAC: true}
	copy(link.DstMAC[:], data[0:6])
	copy(link.SrcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(link.VLANs) == maxVLANTags {
			return link, nil, core.ErrInvalidHeader
		}
		if len(data) < offset+vlanHeaderLen {
			return link, nil, core.ErrPacketTooShort
		}
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		link.VLANs = append(link.VLANs, tci&0x0FFF)
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	link.EtherType = etherType
	return link, data[offset:], nil
}

// decodeLinuxSLL decodes the Linux "cooked" capture header used on the any device.
func decodeLinuxSLL(data []byte) (core.LinkHeader, []byte, error) {
	if len(data) < sllHeaderLen {
		return core.LinkHeader{}, nil, core.ErrPacketTooShort
	}

	link := core.LinkHeader{}
	// link-layer address length at [4:6], address at [6:14]
	if binary.BigEndian.Uint16(data[4:6]) == 6 {
		copy(link.SrcMAC[:], data[6:12])
		link.HasMAC = true
	}
	link.EtherType = binary.BigEndian.Uint16(data[14:16])
	return link, data[sllHeaderLen:], nil
}

// decodeLoopback decodes BSD loopback encapsulation. The address family is
// host byte order for NULL and network order for LOOP, and AF_INET6 differs
// across systems, so the IP version nibble decides.
func decodeLoopback(data []byte) (core.LinkHeader, []byte, error) {
	if len(data) < loopbackHeaderLen {
		return core.LinkHeader{}, nil, core.ErrPacketTooShort
	}
	return decodeRawIP(data[loopbackHeaderLen:])
}

// decodeRawIP handles captures that start at the IP header.
func decodeRawIP(data []byte) (core.LinkHeader, []byte, error) {
	if len(data) < 1 {
		return core.LinkHeader{}, nil, core.ErrPacketTooShort
	}
	switch data[0] >> 4 {
	case 4:
		return core.LinkHeader{EtherType: etherTypeIPv4}, data, nil
	case 6:
		return core.LinkHeader{EtherType: etherTypeIPv6}, data, nil
	default:
		return core.LinkHeader{}, nil, core.ErrInvalidHeader
	}
}
