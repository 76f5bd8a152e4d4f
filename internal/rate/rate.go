// Package rate turns cumulative byte counters into throughput.
package rate

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultTTL = 5 * time.Minute

type sample struct {
	total uint64
	at    time.Time
}

// Meter remembers the last observed counter per rule. Samples of rules that
// stop reporting expire after the TTL.
type Meter struct {
	samples *cache.Cache // rule → sample
	ttl     time.Duration
}

// NewMeter creates a meter. A non-positive ttl selects five minutes.
func NewMeter(ttl time.Duration) *Meter {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Meter{
		samples: cache.New(ttl, 2*ttl),
		ttl:     ttl,
	}
}

// Observe records total for rule at time at and returns the bytes per second
// since the previous sample. The second result is false on the first sample,
// when time did not advance, or when the counter went backwards (a replaced
// listener), in which case the new sample becomes the baseline.
func (m *Meter) Observe(rule string, total uint64, at time.Time) (float64, bool) {
	cur := sample{total: total, at: at}
	cached, found := m.samples.Get(rule)
	m.samples.Set(rule, cur, m.ttl)
	if !found {
		return 0, false
	}

	prev := cached.(sample)
	elapsed := at.Sub(prev.at)
	if elapsed <= 0 || total < prev.total {
		return 0, false
	}
	return float64(total-prev.total) / elapsed.Seconds(), true
}

// Forget drops the sample of rule.
func (m *Meter) Forget(rule string) {
	m.samples.Delete(rule)
}

// Len returns the number of rules with a live sample.
func (m *Meter) Len() int {
	return m.samples.ItemCount()
}

// Reset drops every sample.
func (m *Meter) Reset() {
	m.samples.Flush()
}

// FormatBytes renders n with decimal units: B, KB (1000) and MB (1000²).
func FormatBytes(n float64) string {
	switch {
	case n >= 1000*1000:
		return fmt.Sprintf("%.2f MB", n/(1000*1000))
	case n >= 1000:
		return fmt.Sprintf("%.2f KB", n/1000)
	default:
		return fmt.Sprintf("%.2f B", n)
	}
}

// FormatRate renders a bytes-per-second value, e.g. "1.50 KB/s".
func FormatRate(bytesPerSec float64) string {
	return FormatBytes(bytesPerSec) + "/s"
}
