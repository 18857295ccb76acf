package decoder

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	testSrcMAC = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	testDstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
)

// serialize builds a frame from gopacket layers with lengths and checksums fixed up.
func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

// makeTCPv4Frame builds Ethernet + IPv4 + TCP with the given payload.
// Ethernet minimum-length padding is stripped so the frame ends where
// the datagram does.
func makeTCPv4Frame(t testing.TB, payload []byte) []byte {
	t.Helper()
	data := makePaddedTCPv4Frame(t, payload)
	return data[:14+int(binary.BigEndian.Uint16(data[16:18]))]
}

// makePaddedTCPv4Frame is makeTCPv4Frame as it appears on the wire,
// padded to the 60-byte Ethernet minimum.
func makePaddedTCPv4Frame(t testing.TB, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: 43210, DstPort: 443, Seq: 1, ACK: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	return serialize(t, eth, ip, tcp, gopacket.Payload(payload))
}

// makeUDPv6Frame builds Ethernet + IPv6 + UDP with the given payload.
func makeUDPv6Frame(t testing.TB, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   32,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	return serialize(t, eth, ip, udp, gopacket.Payload(payload))
}

// makeSimpleUDPPacket returns a hand-built Ethernet + IPv4 + UDP frame.
func makeSimpleUDPPacket() []byte {
	packet := make([]byte, 42)

	// Ethernet header (14 bytes)
	// Dst MAC: 00:11:22:33:44:55
	packet[0], packet[1], packet[2] = 0x00, 0x11, 0x22
	packet[3], packet[4], packet[5] = 0x33, 0x44, 0x55
	// Src MAC: AA:BB:CC:DD:EE:FF
	packet[6], packet[7], packet[8] = 0xAA, 0xBB, 0xCC
	packet[9], packet[10], packet[11] = 0xDD, 0xEE, 0xFF
	// EtherType: IPv4 (0x0800)
	packet[12], packet[13] = 0x08, 0x00

	// IPv4 header (20 bytes)
	packet[14] = 0x45                   // Version 4, IHL 5
	packet[15] = 0x00                   // DSCP, ECN
	packet[16], packet[17] = 0x00, 0x1C // Total Length: 28 bytes
	packet[18], packet[19] = 0x12, 0x34 // Identification
	packet[20], packet[21] = 0x00, 0x00 // Flags, Fragment Offset
	packet[22] = 0x40                   // TTL: 64
	packet[23] = 0x11                   // Protocol: UDP (17)
	packet[24], packet[25] = 0x00, 0x00 // Checksum (not calculated)
	// Src IP: 192.168.1.1
	packet[26], packet[27], packet[28], packet[29] = 192, 168, 1, 1
	// Dst IP: 192.168.1.2
	packet[30], packet[31], packet[32], packet[33] = 192, 168, 1, 2

	// UDP header (8 bytes)
	packet[34], packet[35] = 0x13, 0x88 // Src Port: 5000
	packet[36], packet[37] = 0x13, 0x89 // Dst Port: 5001
	packet[38], packet[39] = 0x00, 0x08 // Length: 8 bytes
	packet[40], packet[41] = 0x00, 0x00 // Checksum (not calculated)

	return packet
}
