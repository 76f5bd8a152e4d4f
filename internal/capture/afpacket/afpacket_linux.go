//go:build linux

// Package afpacket implements the capture collaborator on a TPACKET_V3 ring.
package afpacket

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/netraffic/internal/capture"
)

// immediateBlockTimeout retires ring blocks quickly so single packets are
// delivered without waiting for a block to fill.
const immediateBlockTimeout = time.Millisecond

// Opener opens AF_PACKET rings.
type Opener struct{}

// NewOpener returns an AF_PACKET opener.
func NewOpener() *Opener {
	return &Opener{}
}

// Open creates a TPACKET_V3 ring bound to device.
func (o *Opener) Open(device string, opts capture.Options) (capture.Handle, error) {
	defaults := capture.DefaultOptions()
	if opts.SnapLen <= 0 {
		opts.SnapLen = defaults.SnapLen
	}
	if opts.BufferSizeMB <= 0 {
		opts.BufferSizeMB = defaults.BufferSizeMB
	}

	ring, err := computeRing(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("failed to compute ring layout: %w", err)
	}

	tpOpts := []interface{}{
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(ring.frameSize),
		afpacket.OptBlockSize(ring.blockSize),
		afpacket.OptNumBlocks(ring.numBlocks),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
		afpacket.OptPollTimeout(opts.PollTimeout()),
	}
	if opts.ImmediateMode {
		tpOpts = append(tpOpts, afpacket.OptBlockTimeout(immediateBlockTimeout))
	}

	tp, err := afpacket.NewTPacket(tpOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket on %s: %w", device, err)
	}
	return &handle{tp: tp, snapLen: ring.frameSize}, nil
}

type handle struct {
	tp      *afpacket.TPacket
	snapLen int
}

// SetFilter compiles expr with libpcap for an Ethernet link and loads the
// resulting program into the socket.
func (h *handle) SetFilter(expr string) error {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, h.snapLen, expr)
	if err != nil {
		return fmt.Errorf("failed to compile BPF filter %q: %w", expr, err)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	if err := h.tp.SetBPF(raw); err != nil {
		return fmt.Errorf("failed to attach BPF filter %q: %w", expr, err)
	}
	return nil
}

func (h *handle) SetDirection(dir capture.Direction) error {
	if dir == capture.DirectionInOut {
		return nil
	}
	return fmt.Errorf("afpacket %s: %w", dir, capture.ErrDirectionUnsupported)
}

func (h *handle) NextPacket() (capture.PacketHeader, error) {
	_, ci, err := h.tp.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
			return capture.PacketHeader{}, capture.ErrTimeout
		}
		return capture.PacketHeader{}, err
	}
	return capture.PacketHeader{
		Length:        ci.Length,
		CaptureLength: ci.CaptureLength,
		Timestamp:     ci.Timestamp,
	}, nil
}

func (h *handle) Close() {
	h.tp.Close()
}

var _ capture.Opener = (*Opener)(nil)
