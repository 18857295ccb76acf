package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/netdash/internal/core"
)

const (
	defaultSnapLen     = 65535
	defaultReadTimeout = 250 * time.Millisecond
)

// pcapHandle reads frames from a libpcap handle, live or offline.
type pcapHandle struct {
	handle  *pcap.Handle
	offline bool
	closed  atomic.Bool
}

// openPcap opens a live libpcap handle.
func openPcap(cfg Config) (Handle, error) {
	snapLen := cfg.SnapLen
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	h, err := pcap.OpenLive(cfg.Interface, int32(snapLen), cfg.Promiscuous, timeout)
	if err != nil {
		return nil, classifyOpenError(cfg.Interface, err)
	}

	if cfg.Filter != "" {
		if err := h.SetBPFFilter(cfg.Filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: bpf filter %q: %v", core.ErrConfigInvalid, cfg.Filter, err)
		}
	}

	return &pcapHandle{handle: h}, nil
}

// openFile opens a capture file for replay.
func openFile(cfg Config) (Handle, error) {
	h, err := pcap.OpenOffline(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("open capture file %s: %w", cfg.File, err)
	}

	if cfg.Filter != "" {
		if err := h.SetBPFFilter(cfg.Filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: bpf filter %q: %v", core.ErrConfigInvalid, cfg.Filter, err)
		}
	}

	return &pcapHandle{handle: h, offline: true}, nil
}

func (p *pcapHandle) Next(ctx context.Context) (core.RawFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return core.RawFrame{}, err
		}
		if p.closed.Load() {
			return core.RawFrame{}, core.ErrHandleClosed
		}

		data, ci, err := p.handle.ReadPacketData()
		switch {
		case err == nil:
			return toFrame(data, ci, p.LinkType()), nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF) && p.offline:
			return core.RawFrame{}, io.EOF
		default:
			return core.RawFrame{}, fmt.Errorf("%w: %v", core.ErrCaptureInterrupted, err)
		}
	}
}

func (p *pcapHandle) LinkType() core.LinkType {
	return core.LinkType(p.handle.LinkType())
}

func (p *pcapHandle) Stats() (Stats, error) {
	if p.offline {
		return Stats{}, nil
	}
	s, err := p.handle.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Received: uint64(s.PacketsReceived),
		Dropped:  uint64(s.PacketsDropped + s.PacketsIfDropped),
	}, nil
}

func (p *pcapHandle) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.handle.Close()
	return nil
}

func toFrame(data []byte, ci gopacket.CaptureInfo, lt core.LinkType) core.RawFrame {
	return core.RawFrame{
		Data:           data,
		Timestamp:      ci.Timestamp,
		CaptureLen:     uint32(ci.CaptureLength),
		WireLen:        uint32(ci.Length),
		InterfaceIndex: ci.InterfaceIndex,
		LinkType:       lt,
	}
}
