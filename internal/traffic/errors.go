package traffic

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRule is returned by AddListener when a live listener already
	// owns the rule and the registry rejects duplicates.
	ErrDuplicateRule = errors.New("rule already registered")

	// ErrUnknownRule is returned by lookups for a rule that was never registered.
	ErrUnknownRule = errors.New("unknown rule")

	// ErrRegistryClosed is returned by AddListener after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// Stage names the startup step that failed.
type Stage string

const (
	StageOpen      Stage = "open"
	StageFilter    Stage = "filter"
	StageDirection Stage = "direction"
)

// StartupError reports a listener that could not start. No worker was
// spawned and nothing was published for the rule.
type StartupError struct {
	Rule   string
	Device string
	Stage  Stage
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("listener %q on %s: %s failed: %v", e.Rule, e.Device, e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
