package traffic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"firestige.xyz/netraffic/internal/capture"
	"firestige.xyz/netraffic/internal/metrics"
)

// ListenerInfo describes one registered listener.
type ListenerInfo struct {
	Filter Filter `json:"filter" yaml:"filter"`
	State  State  `json:"state" yaml:"state"`
}

type listener struct {
	filter  Filter
	control chan Signal
	worker  *worker
	closed  bool // control has been closed; guarded by Registry.mu
}

// Registry owns the stats store and routes control signals to capture
// workers by rule.
type Registry struct {
	opener        capture.Opener
	store         *Store
	captureOpts   capture.Options
	publishEvery  uint64
	controlBuffer int
	duplicates    DuplicatePolicy
	logger        *slog.Logger

	mu        sync.RWMutex
	listeners map[string]*listener
	closed    bool
	wg        sync.WaitGroup
}

// NewRegistry creates an empty registry that opens handles through opener.
func NewRegistry(opener capture.Opener, opts ...Option) *Registry {
	r := &Registry{
		opener:        opener,
		store:         NewStore(),
		captureOpts:   capture.DefaultOptions(),
		publishEvery:  DefaultPublishEvery,
		controlBuffer: DefaultControlBuffer,
		duplicates:    RejectDuplicate,
		logger:        slog.Default(),
		listeners:     make(map[string]*listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "traffic")
	return r
}

// AddListener opens a capture handle for f and starts its worker. Startup
// failures are returned as *StartupError and leave no worker behind.
//
// The registry lock is held while the handle is opened and, under
// ReplaceDuplicate, while the previous worker drains.
func (r *Registry) AddListener(ctx context.Context, f Filter) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	if old, ok := r.listeners[f.Rule]; ok && !old.worker.exited() {
		if r.duplicates != ReplaceDuplicate {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, f.Rule)
		}
		r.closeMailbox(old)
		select {
		case <-old.worker.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for previous listener %q: %w", f.Rule, ctx.Err())
		}
		r.logger.Info("replaced listener", "rule", f.Rule)
	}

	h, err := r.open(f)
	if err != nil {
		var se *StartupError
		if errors.As(err, &se) {
			metrics.ListenerStartFailuresTotal.WithLabelValues(string(se.Stage)).Inc()
		}
		r.logger.Error("listener startup failed", "rule", f.Rule, "device", f.Device, "error", err)
		return err
	}

	control := make(chan Signal, r.controlBuffer)
	w := newWorker(f, h, r.store, control, r.publishEvery, r.logger)
	r.listeners[f.Rule] = &listener{filter: f, control: control, worker: w}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		w.run()
	}()
	return nil
}

func (r *Registry) open(f Filter) (capture.Handle, error) {
	opts := r.captureOpts
	opts.ImmediateMode = f.ImmediateMode

	h, err := r.opener.Open(f.Device, opts)
	if err != nil {
		return nil, &StartupError{Rule: f.Rule, Device: f.Device, Stage: StageOpen, Err: err}
	}
	if err := h.SetFilter(f.Rule); err != nil {
		h.Close()
		return nil, &StartupError{Rule: f.Rule, Device: f.Device, Stage: StageFilter, Err: err}
	}
	if err := h.SetDirection(f.Direction); err != nil {
		h.Close()
		return nil, &StartupError{Rule: f.Rule, Device: f.Device, Stage: StageDirection, Err: err}
	}
	return h, nil
}

// closeMailbox closes l's control channel once. Caller holds r.mu for writing.
func (r *Registry) closeMailbox(l *listener) {
	if l.closed {
		return
	}
	l.closed = true
	close(l.control)
}

// RemoveListener asks the worker for rule to stop. It returns false when the
// rule is unknown, the worker already exited or its mailbox is full.
func (r *Registry) RemoveListener(rule string) bool {
	return r.send(rule, SignalStop)
}

// SuspendListener asks the worker for rule to pause counting.
func (r *Registry) SuspendListener(rule string) bool {
	return r.send(rule, SignalSuspend)
}

// ResumeListener asks a suspended worker to continue. Resuming a running
// worker has no effect.
func (r *Registry) ResumeListener(rule string) bool {
	return r.send(rule, SignalResume)
}

func (r *Registry) send(rule string, sig Signal) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.listeners[rule]
	if !ok {
		metrics.ControlSignalsTotal.WithLabelValues(sig.String(), metrics.SignalUnknown).Inc()
		return false
	}
	if l.closed || l.worker.exited() {
		metrics.ControlSignalsTotal.WithLabelValues(sig.String(), metrics.SignalDropped).Inc()
		return false
	}

	select {
	case l.control <- sig:
		metrics.ControlSignalsTotal.WithLabelValues(sig.String(), metrics.SignalDelivered).Inc()
		return true
	default:
		metrics.ControlSignalsTotal.WithLabelValues(sig.String(), metrics.SignalDropped).Inc()
		r.logger.Warn("control mailbox full, signal dropped", "rule", rule, "signal", sig)
		return false
	}
}

// GetData returns a copy of every published snapshot, waiting for an
// in-flight publish to finish.
func (r *Registry) GetData() map[string]Snapshot {
	return r.store.Read()
}

// TryGetData is the non-blocking variant of GetData. It returns false when a
// worker is publishing.
func (r *Registry) TryGetData() (map[string]Snapshot, bool) {
	return r.store.TryRead()
}

// Done returns a channel closed when the worker for rule has exited.
func (r *Registry) Done(rule string) (<-chan struct{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listeners[rule]
	if !ok {
		return nil, false
	}
	return l.worker.done, true
}

// RemoveListenerAndWait stops the worker for rule and waits until it exits.
func (r *Registry) RemoveListenerAndWait(ctx context.Context, rule string) error {
	done, ok := r.Done(rule)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRule, rule)
	}
	r.RemoveListener(rule)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for listener %q: %w", rule, ctx.Err())
	}
}

// State returns the worker state for rule.
func (r *Registry) State(rule string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listeners[rule]
	if !ok {
		return StateStopped, false
	}
	return l.worker.State(), true
}

// Listeners returns every registered listener ordered by rule, including
// stopped ones.
func (r *Registry) Listeners() []ListenerInfo {
	r.mu.RLock()
	infos := make([]ListenerInfo, 0, len(r.listeners))
	for _, l := range r.listeners {
		infos = append(infos, ListenerInfo{Filter: l.filter, State: l.worker.State()})
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ListenerInfo) int {
		return strings.Compare(a.Filter.Rule, b.Filter.Rule)
	})
	return infos
}

// Close closes every mailbox and waits for all workers to exit. Snapshots
// stay readable afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, l := range r.listeners {
		r.closeMailbox(l)
	}
	n := len(r.listeners)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("registry closed", "listeners", n)
	return nil
}
