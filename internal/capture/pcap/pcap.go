// Package pcap implements the capture collaborator on top of libpcap.
package pcap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/netraffic/internal/capture"
)

// FilePrefix marks a device name as an offline savefile path.
const FilePrefix = "file:"

// pcapIfLoopback mirrors PCAP_IF_LOOPBACK from pcap.h.
const pcapIfLoopback = 0x00000001

// Opener opens libpcap handles. Device names starting with FilePrefix are
// treated as savefiles and replayed.
type Opener struct{}

// NewOpener returns a libpcap backed opener.
func NewOpener() *Opener {
	return &Opener{}
}

// Open opens device for capture.
func (o *Opener) Open(device string, opts capture.Options) (capture.Handle, error) {
	if path, ok := strings.CutPrefix(device, FilePrefix); ok {
		return openOffline(path)
	}
	return openLive(device, opts)
}

func openLive(device string, opts capture.Options) (capture.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, fmt.Errorf("failed to create inactive handle for %s: %w", device, err)
	}
	defer inactive.CleanUp()

	snapLen := opts.SnapLen
	if snapLen <= 0 {
		snapLen = capture.DefaultOptions().SnapLen
	}
	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, fmt.Errorf("failed to set snaplen on %s: %w", device, err)
	}
	if err := inactive.SetPromisc(opts.Promiscuous); err != nil {
		return nil, fmt.Errorf("failed to set promiscuous mode on %s: %w", device, err)
	}

	if err := inactive.SetTimeout(opts.PollTimeout()); err != nil {
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", device, err)
	}
	if err := inactive.SetImmediateMode(opts.ImmediateMode); err != nil {
		return nil, fmt.Errorf("failed to set immediate mode on %s: %w", device, err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate %s: %w", device, err)
	}
	return &handle{h: h}, nil
}

func openOffline(path string) (capture.Handle, error) {
	h, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	return &handle{h: h, offline: true}, nil
}

// handle adapts *pcap.Handle to capture.Handle.
type handle struct {
	h       *pcap.Handle
	offline bool
}

func (h *handle) SetFilter(expr string) error {
	if err := h.h.SetBPFFilter(expr); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", expr, err)
	}
	return nil
}

func (h *handle) SetDirection(dir capture.Direction) error {
	// libpcap refuses pcap_setdirection on savefiles; InOut is what a file holds anyway.
	if h.offline {
		if dir == capture.DirectionInOut {
			return nil
		}
		return fmt.Errorf("savefile: %w", capture.ErrDirectionUnsupported)
	}

	var d pcap.Direction
	switch dir {
	case capture.DirectionInOut:
		d = pcap.DirectionInOut
	case capture.DirectionIn:
		d = pcap.DirectionIn
	case capture.DirectionOut:
		d = pcap.DirectionOut
	default:
		return fmt.Errorf("unknown direction %v", dir)
	}
	if err := h.h.SetDirection(d); err != nil {
		return fmt.Errorf("failed to set direction %s: %w", dir, err)
	}
	return nil
}

func (h *handle) NextPacket() (capture.PacketHeader, error) {
	_, ci, err := h.h.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return capture.PacketHeader{}, capture.ErrTimeout
		}
		return capture.PacketHeader{}, err
	}
	return headerFrom(ci), nil
}

func (h *handle) Close() {
	h.h.Close()
}

func headerFrom(ci gopacket.CaptureInfo) capture.PacketHeader {
	return capture.PacketHeader{
		Length:        ci.Length,
		CaptureLength: ci.CaptureLength,
		Timestamp:     ci.Timestamp,
	}
}

// Enumerator lists libpcap devices.
type Enumerator struct{}

// NewEnumerator returns a libpcap device enumerator.
func NewEnumerator() *Enumerator {
	return &Enumerator{}
}

// Devices returns every device libpcap can open.
func (Enumerator) Devices() ([]capture.Device, error) {
	ifaces, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(ifaces) == 0 {
		return nil, capture.ErrNoDevice
	}

	devices := make([]capture.Device, 0, len(ifaces))
	for _, iface := range ifaces {
		devices = append(devices, deviceFrom(iface))
	}
	return devices, nil
}

// Default returns the device libpcap would pick when none is named.
func (e Enumerator) Default() (capture.Device, error) {
	devices, err := e.Devices()
	if err != nil {
		return capture.Device{}, err
	}
	return capture.PickDefault(devices)
}

func deviceFrom(iface pcap.Interface) capture.Device {
	d := capture.Device{
		Name:        iface.Name,
		Description: iface.Description,
		Loopback:    iface.Flags&pcapIfLoopback != 0,
	}
	for _, addr := range iface.Addresses {
		if addr.IP == nil {
			continue
		}
		d.Addresses = append(d.Addresses, addr.IP.String())
	}
	return d
}

// Ensure interface satisfaction at compile time.
var (
	_ capture.Opener     = (*Opener)(nil)
	_ capture.Enumerator = Enumerator{}
)
