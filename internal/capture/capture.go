// Package capture defines the packet capture collaborator used by traffic workers.
//
// Backends live in sub-packages (pcap, afpacket); this package only carries
// the handle contract and the value types shared by every backend.
package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned by Handle.NextPacket when no packet arrived
	// within the configured read timeout. Callers should simply retry.
	ErrTimeout = errors.New("capture: read timeout expired")

	// ErrNoDevice is returned by an Enumerator when no capture device exists.
	ErrNoDevice = errors.New("capture: no capture device found")

	// ErrDirectionUnsupported is returned by SetDirection on backends that
	// cannot restrict the capture direction.
	ErrDirectionUnsupported = errors.New("capture: direction not supported by backend")
)

// Direction selects which traffic direction a handle observes.
type Direction int

const (
	DirectionInOut Direction = iota // both directions
	DirectionIn                     // received packets only
	DirectionOut                    // sent packets only
)

func (d Direction) String() string {
	switch d {
	case DirectionInOut:
		return "inout"
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection converts "inout", "in" or "out" (case-insensitive) to a Direction.
// An empty string yields DirectionInOut.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inout", "in_out", "both":
		return DirectionInOut, nil
	case "in":
		return DirectionIn, nil
	case "out":
		return DirectionOut, nil
	default:
		return DirectionInOut, fmt.Errorf("unknown direction %q (must be inout/in/out)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Options configures how a device is opened.
type Options struct {
	ImmediateMode bool          // deliver packets as soon as they arrive
	SnapLen       int           // bytes captured per packet
	Promiscuous   bool          // put the interface into promiscuous mode
	ReadTimeout   time.Duration // upper bound of a single NextPacket call
	BufferSizeMB  int           // kernel ring budget, backends that support it
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ImmediateMode: true,
		SnapLen:       65535,
		Promiscuous:   false,
		ReadTimeout:   500 * time.Millisecond,
		BufferSizeMB:  8,
	}
}

// PollTimeout returns the read timeout a handle must be opened with. A
// non-positive value falls back to the default: a handle that blocks forever
// on a quiet link would never see its worker's control signals.
func (o Options) PollTimeout() time.Duration {
	if o.ReadTimeout <= 0 {
		return DefaultOptions().ReadTimeout
	}
	return o.ReadTimeout
}

// PacketHeader is the per-packet metadata a worker aggregates.
type PacketHeader struct {
	Length        int       // original length on the wire
	CaptureLength int       // bytes actually captured
	Timestamp     time.Time // capture time
}

// Handle is an opened capture on a single device.
type Handle interface {
	// SetFilter compiles expr as an optimised BPF program and attaches it.
	SetFilter(expr string) error

	// SetDirection restricts the handle to the given direction.
	SetDirection(dir Direction) error

	// NextPacket blocks until the next packet, ErrTimeout or io.EOF.
	NextPacket() (PacketHeader, error)

	// Close releases the handle.
	Close()
}

// Opener opens capture handles on named devices.
type Opener interface {
	Open(device string, opts Options) (Handle, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(device string, opts Options) (Handle, error)

// Open calls f(device, opts).
func (f OpenerFunc) Open(device string, opts Options) (Handle, error) {
	return f(device, opts)
}

// Device describes a capture-capable network device.
type Device struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	Loopback    bool     `json:"loopback" yaml:"loopback"`
}

// Enumerator lists capture devices.
type Enumerator interface {
	Devices() ([]Device, error)
	Default() (Device, error)
}

// PickDefault returns the first non-loopback device, falling back to the first
// device when every device is a loopback.
func PickDefault(devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}
	for _, d := range devices {
		if !d.Loopback {
			return d, nil
		}
	}
	return devices[0], nil
}
