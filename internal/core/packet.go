// Package core defines the data types shared by the capture pipeline.
package core

import (
	"time"
)

// LinkType is the data link type reported by a capture handle.
// Values follow the pcap LINKTYPE_ registry.
type LinkType uint16

// RawFrame is a single link-layer frame read from a capture handle.
// Data is only valid until the next read on the handle that produced it.
type RawFrame struct {
	Data           []byte
	Timestamp      time.Time
	CaptureLen     uint32 // bytes captured
	WireLen        uint32 // frame length on the wire, including truncated bytes
	InterfaceIndex int
	LinkType       LinkType
}

// Length returns the frame length used for byte accounting.
func (f RawFrame) Length() uint64 {
	if f.WireLen > 0 {
		return uint64(f.WireLen)
	}
	return uint64(len(f.Data))
}
