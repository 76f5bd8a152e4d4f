package traffic

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/netraffic/internal/capture"
	"firestige.xyz/netraffic/internal/metrics"
)

// Worker exit reasons, also used as metric labels.
const (
	exitStopped = "stopped"
	exitClosed  = "mailbox_closed"
	exitEOF     = "end_of_capture"
	exitError   = "read_error"
)

// worker runs the capture loop of a single filter.
//
// State machine: Running -> Suspended -> Running | Stopped; Running -> Stopped.
type worker struct {
	filter       Filter
	handle       capture.Handle
	store        *Store
	control      <-chan Signal
	publishEvery uint64

	state     atomic.Int32
	done      chan struct{}
	logger    *slog.Logger
	published prometheus.Counter
}

func newWorker(f Filter, h capture.Handle, store *Store, control <-chan Signal, publishEvery uint64, logger *slog.Logger) *worker {
	w := &worker{
		filter:       f,
		handle:       h,
		store:        store,
		control:      control,
		publishEvery: publishEvery,
		done:         make(chan struct{}),
		logger:       logger.With("rule", f.Rule, "device", f.Device),
		published:    metrics.SnapshotPublishesTotal.WithLabelValues(f.Rule),
	}
	w.state.Store(int32(StateRunning))
	return w
}

func (w *worker) State() State {
	return State(w.state.Load())
}

func (w *worker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.Info("listener state changed", "state", s)
}

// exited reports whether run has returned.
func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *worker) run() {
	defer close(w.done)
	defer w.handle.Close()

	metrics.ListenersActive.Inc()
	defer metrics.ListenersActive.Dec()

	w.logger.Info("listener started", "direction", w.filter.Direction, "immediate_mode", w.filter.ImmediateMode)

	reason := w.loop()
	w.setState(StateStopped)
	metrics.WorkerExitsTotal.WithLabelValues(reason).Inc()
	w.logger.Info("listener exited", "reason", reason)
}

func (w *worker) loop() string {
	var (
		count uint64
		acc   Snapshot
	)

	for {
		hdr, err := w.handle.NextPacket()
		switch {
		case err == nil:
		case errors.Is(err, capture.ErrTimeout):
			// Idle link: still honour control signals.
			if reason, ok := w.poll(); !ok {
				return reason
			}
			continue
		case errors.Is(err, io.EOF):
			return exitEOF
		default:
			w.logger.Error("capture read failed", "error", err)
			return exitError
		}

		if reason, ok := w.poll(); !ok {
			return reason
		}

		count++
		acc.add(hdr)
		if count%w.publishEvery == 0 {
			w.store.Publish(w.filter.Rule, acc)
			w.published.Inc()
			w.logger.Debug("snapshot published", "packets", count, "total", acc.Total)
		}
	}
}

// poll checks the mailbox without blocking. It returns false with an exit
// reason when the worker must terminate.
func (w *worker) poll() (string, bool) {
	select {
	case sig, ok := <-w.control:
		if !ok {
			return exitClosed, false
		}
		switch sig {
		case SignalStop:
			return exitStopped, false
		case SignalSuspend:
			return w.suspend()
		default:
			return "", true
		}
	default:
		return "", true
	}
}

// suspend blocks on the mailbox until Resume or Stop. A repeated Suspend
// leaves the worker suspended.
func (w *worker) suspend() (string, bool) {
	w.setState(StateSuspended)
	for sig := range w.control {
		switch sig {
		case SignalStop:
			return exitStopped, false
		case SignalResume:
			w.setState(StateRunning)
			return "", true
		}
	}
	return exitClosed, false
}
