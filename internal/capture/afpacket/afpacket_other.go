//go:build !linux

// Package afpacket implements the capture collaborator on a TPACKET_V3 ring.
package afpacket

import (
	"errors"

	"firestige.xyz/netraffic/internal/capture"
)

var errUnsupportedPlatform = errors.New("afpacket: only available on linux")

// Opener is unavailable outside linux; Open always fails.
type Opener struct{}

// NewOpener returns an opener that reports the platform as unsupported.
func NewOpener() *Opener {
	return &Opener{}
}

func (o *Opener) Open(string, capture.Options) (capture.Handle, error) {
	return nil, errUnsupportedPlatform
}
