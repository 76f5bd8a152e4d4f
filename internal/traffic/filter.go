// Package traffic aggregates per-filter packet counters from concurrent
// capture workers and routes control signals to them by rule.
package traffic

import (
	"fmt"
	"strings"

	"firestige.xyz/netraffic/internal/capture"
)

// Filter is the configuration of one listener. Rule is both the BPF
// expression and the key under which statistics and control are routed.
type Filter struct {
	Device        string            `json:"device" yaml:"device"`
	Rule          string            `json:"rule" yaml:"rule"`
	Direction     capture.Direction `json:"direction" yaml:"direction"`
	ImmediateMode bool              `json:"immediate_mode" yaml:"immediate_mode"`
}

// NewFilter returns a filter capturing both directions in immediate mode.
func NewFilter(device, rule string) Filter {
	return Filter{
		Device:        device,
		Rule:          rule,
		Direction:     capture.DirectionInOut,
		ImmediateMode: true,
	}
}

// Validate reports missing fields.
func (f Filter) Validate() error {
	if strings.TrimSpace(f.Device) == "" {
		return fmt.Errorf("device is required")
	}
	if strings.TrimSpace(f.Rule) == "" {
		return fmt.Errorf("rule is required")
	}
	return nil
}
