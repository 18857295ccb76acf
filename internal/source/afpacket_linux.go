//go:build linux

package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/netdash/internal/core"
)

const defaultRingMB = 8

// afpacketHandle reads frames from a TPACKET_V3 ring.
type afpacketHandle struct {
	tp     *afpacket.TPacket
	closed atomic.Bool
}

// openAFPacket opens an AF_PACKET socket bound to cfg.Interface.
func openAFPacket(cfg Config) (Handle, error) {
	snapLen := cfg.SnapLen
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}
	bufferMB := cfg.BufferSizeMB
	if bufferMB <= 0 {
		bufferMB = defaultRingMB
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	ring, err := computeRing(bufferMB, snapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(ring.frameSize),
		afpacket.OptBlockSize(ring.blockSize),
		afpacket.OptNumBlocks(ring.numBlocks),
		afpacket.OptPollTimeout(timeout),
		afpacket.OptBlockTimeout(timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, classifyOpenError(cfg.Interface, err)
	}

	if cfg.Filter != "" {
		if err := applyBPF(tp, ring.frameSize, cfg.Filter); err != nil {
			tp.Close()
			return nil, fmt.Errorf("%w: bpf filter %q: %v", core.ErrConfigInvalid, cfg.Filter, err)
		}
	}

	// AF_PACKET ignores the promiscuous flag; the interface keeps its mode.
	return &afpacketHandle{tp: tp}, nil
}

// applyBPF compiles the expression with libpcap and attaches it to the socket.
func applyBPF(tp *afpacket.TPacket, snapLen int, expr string) error {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return err
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return tp.SetBPF(raw)
}

func (a *afpacketHandle) Next(ctx context.Context) (core.RawFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return core.RawFrame{}, err
		}
		if a.closed.Load() {
			return core.RawFrame{}, core.ErrHandleClosed
		}

		data, ci, err := a.tp.ZeroCopyReadPacketData()
		switch {
		case err == nil:
			return toFrame(data, ci, a.LinkType()), nil
		case errors.Is(err, afpacket.ErrTimeout):
			continue
		default:
			return core.RawFrame{}, fmt.Errorf("%w: %v", core.ErrCaptureInterrupted, err)
		}
	}
}

func (a *afpacketHandle) LinkType() core.LinkType {
	return core.LinkType(layers.LinkTypeEthernet)
}

func (a *afpacketHandle) Stats() (Stats, error) {
	_, v3, err := a.tp.SocketStats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Received: uint64(v3.Packets()), Dropped: uint64(v3.Drops())}, nil
}

func (a *afpacketHandle) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.tp.Close()
	return nil
}
