package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RuleStats is the per-rule view exported on scrape.
type RuleStats struct {
	Rule      string
	Device    string
	Total     uint64
	LastLen   uint64
	State     string
	Published bool // false until the worker published its first snapshot
}

// StatsSource supplies the per-rule view at scrape time.
type StatsSource interface {
	RuleStats() []RuleStats
}

// StatsSourceFunc adapts a function to StatsSource.
type StatsSourceFunc func() []RuleStats

// RuleStats calls f.
func (f StatsSourceFunc) RuleStats() []RuleStats {
	return f()
}

// States exported by the listener state gauge.
var listenerStates = []string{"running", "suspended", "stopped"}

// TrafficCollector exports per-rule traffic counters read from a StatsSource.
// Values are produced on scrape so the capture path never touches Prometheus.
type TrafficCollector struct {
	src StatsSource

	bytesTotal *prometheus.Desc
	lastLen    *prometheus.Desc
	state      *prometheus.Desc
}

// NewTrafficCollector creates a collector over src.
func NewTrafficCollector(src StatsSource) *TrafficCollector {
	return &TrafficCollector{
		src: src,
		bytesTotal: prometheus.NewDesc(
			"netraffic_rule_bytes_total",
			"Cumulative bytes counted for a filter rule",
			[]string{"rule", "device"}, nil,
		),
		lastLen: prometheus.NewDesc(
			"netraffic_rule_last_packet_bytes",
			"Length of the most recently counted packet for a filter rule",
			[]string{"rule", "device"}, nil,
		),
		state: prometheus.NewDesc(
			"netraffic_listener_state",
			"Listener state (1 for the current state)",
			[]string{"rule", "state"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *TrafficCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesTotal
	ch <- c.lastLen
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *TrafficCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.RuleStats() {
		if s.Published {
			ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(s.Total), s.Rule, s.Device)
			ch <- prometheus.MustNewConstMetric(c.lastLen, prometheus.GaugeValue, float64(s.LastLen), s.Rule, s.Device)
		}
		if s.State == "" {
			continue
		}
		for _, st := range listenerStates {
			v := 0.0
			if st == s.State {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.Rule, st)
		}
	}
}

var _ prometheus.Collector = (*TrafficCollector)(nil)
