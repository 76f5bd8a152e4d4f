package traffic

import (
	"fmt"
	"log/slog"
	"strings"

	"firestige.xyz/netraffic/internal/capture"
)

const (
	// DefaultPublishEvery publishes the accumulator on every second packet.
	DefaultPublishEvery = 2
	// DefaultControlBuffer is the capacity of each worker's control mailbox.
	DefaultControlBuffer = 16
)

// DuplicatePolicy decides what AddListener does when the rule is already owned
// by a live listener.
type DuplicatePolicy int

const (
	// RejectDuplicate fails with ErrDuplicateRule.
	RejectDuplicate DuplicatePolicy = iota
	// ReplaceDuplicate stops the old worker, waits for it, then starts the new one.
	ReplaceDuplicate
)

func (p DuplicatePolicy) String() string {
	switch p {
	case RejectDuplicate:
		return "reject"
	case ReplaceDuplicate:
		return "replace"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseDuplicatePolicy parses "reject" or "replace".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return RejectDuplicate, nil
	case "replace":
		return ReplaceDuplicate, nil
	default:
		return RejectDuplicate, fmt.Errorf("unknown duplicate policy %q (must be reject/replace)", s)
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithCaptureOptions sets the options every handle is opened with.
// ImmediateMode is always taken from the Filter.
func WithCaptureOptions(opts capture.Options) Option {
	return func(r *Registry) {
		r.captureOpts = opts
	}
}

// WithPublishEvery publishes a worker's accumulator every n counted packets.
// Values below 1 are ignored.
func WithPublishEvery(n uint64) Option {
	return func(r *Registry) {
		if n >= 1 {
			r.publishEvery = n
		}
	}
}

// WithControlBuffer sets the capacity of each control mailbox.
func WithControlBuffer(n int) Option {
	return func(r *Registry) {
		if n >= 1 {
			r.controlBuffer = n
		}
	}
}

// WithDuplicatePolicy sets how re-registering a live rule is handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Registry) {
		r.duplicates = p
	}
}

// WithLogger sets the logger used by the registry and its workers.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}
