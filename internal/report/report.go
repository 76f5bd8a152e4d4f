// Package report periodically samples the traffic store and ships per-rule
// records to sinks.
package report

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"firestige.xyz/netraffic/internal/metrics"
	"firestige.xyz/netraffic/internal/rate"
	"firestige.xyz/netraffic/internal/traffic"
)

// Record is one rule's state at a reporting tick.
type Record struct {
	Rule        string    `json:"rule"`
	Total       uint64    `json:"total"`
	Len         uint64    `json:"len"`
	Timestamp   uint64    `json:"timestamp"`
	BytesPerSec float64   `json:"bytes_per_sec"`
	At          time.Time `json:"at"`
}

// Sink receives the records of one tick.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []Record) error
	Close() error
}

// Source is the non-blocking view of the stats store.
type Source interface {
	TryGetData() (map[string]traffic.Snapshot, bool)
}

// Reporter samples a Source every interval. Ticks that find the store busy
// are skipped rather than waiting on a publishing worker.
type Reporter struct {
	source   Source
	sinks    []Sink
	meter    *rate.Meter
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a reporter. The meter keeps samples for ten intervals.
func New(source Source, interval time.Duration, sinks ...Sink) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		source:   source,
		sinks:    sinks,
		meter:    rate.NewMeter(10 * interval),
		interval: interval,
		now:      time.Now,
		logger:   slog.Default().With("component", "report"),
	}
}

// Run reports until ctx is cancelled, then closes every sink.
func (r *Reporter) Run(ctx context.Context) error {
	defer r.closeSinks()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reporter started", "interval", r.interval, "sinks", len(r.sinks))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reporter stopped")
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick samples the source once. It returns false when the store was busy.
func (r *Reporter) Tick(ctx context.Context) bool {
	data, ok := r.source.TryGetData()
	if !ok {
		r.logger.Debug("stats store busy, skipping tick")
		return false
	}

	records := r.records(data, r.now())
	if len(records) == 0 {
		return true
	}

	for _, s := range r.sinks {
		if err := s.Write(ctx, records); err != nil {
			metrics.ReportErrorsTotal.WithLabelValues(s.Name()).Inc()
			r.logger.Error("report failed", "sink", s.Name(), "error", err)
		}
	}
	return true
}

func (r *Reporter) records(data map[string]traffic.Snapshot, at time.Time) []Record {
	records := make([]Record, 0, len(data))
	for rule, snap := range data {
		bps, _ := r.meter.Observe(rule, snap.Total, at)
		records = append(records, Record{
			Rule:        rule,
			Total:       snap.Total,
			Len:         snap.Len,
			Timestamp:   snap.Timestamp,
			BytesPerSec: bps,
			At:          at,
		})
	}
	slices.SortFunc(records, func(a, b Record) int {
		switch {
		case a.Rule < b.Rule:
			return -1
		case a.Rule > b.Rule:
			return 1
		}
		return 0
	})
	return records
}

func (r *Reporter) closeSinks() {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.logger.Error("error closing sink", "sink", s.Name(), "error", err)
		}
	}
}
