package decoder

import (
	"encoding/binary"

	"firestige.xyz/netdash/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
)

// transportHeader holds the port fields of a TCP or UDP header.
type transportHeader struct {
	srcPort   uint16
	dstPort   uint16
	headerLen int
}

// decodeTransport decodes a TCP or UDP header.
func decodeTransport(data []byte, protocol uint8) (transportHeader, error) {
	switch protocol {
	case core.IPProtoTCP:
		return decodeTCP(data)
	case core.IPProtoUDP:
		return decodeUDP(data)
	default:
		return transportHeader{}, core.ErrInvalidHeader
	}
}

// decodeUDP decodes a UDP header.
func decodeUDP(data []byte) (transportHeader, error) {
	if len(data) < udpHeaderLen {
		return transportHeader{}, core.ErrPacketTooShort
	}
	return transportHeader{
		srcPort:   binary.BigEndian.Uint16(data[0:2]),
		dstPort:   binary.BigEndian.Uint16(data[2:4]),
		headerLen: udpHeaderLen,
	}, nil
}

// decodeTCP decodes a TCP header and validates the data offset.
func decodeTCP(data []byte) (transportHeader, error) {
	if len(data) < tcpHeaderMinLen {
		return transportHeader{}, core.ErrPacketTooShort
	}

	// Data offset is in 32-bit words
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen {
		return transportHeader{}, core.ErrInvalidHeader
	}
	if len(data) < headerLen {
		return transportHeader{}, core.ErrPacketTooShort
	}

	return transportHeader{
		srcPort:   binary.BigEndian.Uint16(data[0:2]),
		dstPort:   binary.BigEndian.Uint16(data[2:4]),
		headerLen: headerLen,
	}, nil
}
