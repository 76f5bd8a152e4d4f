package traffic

import (
	"fmt"
	"strings"
)

// Signal is a control message delivered to a capture worker.
type Signal int

const (
	SignalSuspend Signal = iota
	SignalResume
	SignalStop
)

func (s Signal) String() string {
	switch s {
	case SignalSuspend:
		return "suspend"
	case SignalResume:
		return "resume"
	case SignalStop:
		return "stop"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// State is the lifecycle state of a capture worker.
type State int32

const (
	StateRunning State = iota
	StateSuspended
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "running":
		*s = StateRunning
	case "suspended":
		*s = StateSuspended
	case "stopped":
		*s = StateStopped
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}
