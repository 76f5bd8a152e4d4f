package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netraffic/internal/config"
	"firestige.xyz/netraffic/internal/traffic"
)

type fakeSource struct {
	mu   sync.Mutex
	data map[string]traffic.Snapshot
	busy bool
}

func (s *fakeSource) TryGetData() (map[string]traffic.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, false
	}
	out := make(map[string]traffic.Snapshot, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, true
}

func (s *fakeSource) set(rule string, snap traffic.Snapshot) {
	s.mu.Lock()
	s.data[rule] = snap
	s.mu.Unlock()
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
	closed  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestTickComputesRate(t *testing.T) {
	src := &fakeSource{data: map[string]traffic.Snapshot{
		"port 443":           {Total: 1000, Len: 100},
		"src host 127.0.0.1": {Total: 10, Len: 10},
	}}
	sink := &recordingSink{}
	r := New(src, time.Second, sink)

	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }
	require.True(t, r.Tick(context.Background()))

	src.set("port 443", traffic.Snapshot{Total: 3000, Len: 200})
	now = now.Add(2 * time.Second)
	require.True(t, r.Tick(context.Background()))

	require.Len(t, sink.batches, 2)
	first := sink.batches[0]
	require.Len(t, first, 2)
	assert.Equal(t, "port 443", first[0].Rule)
	assert.Equal(t, "src host 127.0.0.1", first[1].Rule)
	assert.Zero(t, first[0].BytesPerSec)

	second := sink.batches[1]
	assert.Equal(t, uint64(3000), second[0].Total)
	assert.Equal(t, uint64(200), second[0].Len)
	assert.InDelta(t, 1000.0, second[0].BytesPerSec, 0.001)
	assert.Zero(t, second[1].BytesPerSec)
	assert.Equal(t, now, second[0].At)
}

func TestTickSkipsBusyStore(t *testing.T) {
	src := &fakeSource{data: map[string]traffic.Snapshot{"tcp": {Total: 1}}, busy: true}
	sink := &recordingSink{}
	r := New(src, time.Second, sink)

	assert.False(t, r.Tick(context.Background()))
	assert.Zero(t, sink.count())
}

func TestTickEmptyStoreWritesNothing(t *testing.T) {
	sink := &recordingSink{}
	r := New(&fakeSource{data: map[string]traffic.Snapshot{}}, time.Second, sink)

	assert.True(t, r.Tick(context.Background()))
	assert.Zero(t, sink.count())
}

func TestTickContinuesAfterSinkError(t *testing.T) {
	src := &fakeSource{data: map[string]traffic.Snapshot{"udp": {Total: 5}}}
	failing := &recordingSink{err: errors.New("unavailable")}
	healthy := &recordingSink{}
	r := New(src, time.Second, failing, healthy)

	assert.True(t, r.Tick(context.Background()))
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())
}

func TestRunClosesSinks(t *testing.T) {
	src := &fakeSource{data: map[string]traffic.Snapshot{"udp": {Total: 5}}}
	sink := &recordingSink{}
	r := New(src, 5*time.Millisecond, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	sink.mu.Lock()
	assert.True(t, sink.closed)
	sink.mu.Unlock()
}

func TestConsoleSinkWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)

	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.Write(context.Background(), []Record{
		{Rule: "port 53", Total: 164, Len: 90, BytesPerSec: 82, At: at},
		{Rule: "tcp", Total: 1},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "port 53", rec.Rule)
	assert.Equal(t, uint64(164), rec.Total)
	assert.Equal(t, 82.0, rec.BytesPerSec)
	assert.True(t, at.Equal(rec.At))
	assert.NoError(t, s.Close())
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByRule(t *testing.T) {
	w := &fakeWriter{}
	s := newKafkaSink(w, "netraffic-snapshots")

	at := time.Unix(1700000000, 0)
	require.NoError(t, s.Write(context.Background(), []Record{
		{Rule: "port 443", Total: 3000, At: at},
		{Rule: "port 53", Total: 164, At: at},
	}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "port 443", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)

	var rec Record
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &rec))
	assert.Equal(t, "port 53", rec.Rule)
	assert.Equal(t, uint64(2), s.reportedCount.Load())

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	s := newKafkaSink(w, "t")

	err := s.Write(context.Background(), []Record{{Rule: "tcp"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka write failed")
	assert.Equal(t, uint64(1), s.errorCount.Load())
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink(config.KafkaReportConfig{Topic: "t"})
	assert.ErrorContains(t, err, "brokers is required")

	_, err = NewKafkaSink(config.KafkaReportConfig{Brokers: []string{"localhost:9092"}})
	assert.ErrorContains(t, err, "topic is required")

	_, err = NewKafkaSink(config.KafkaReportConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "brotli"})
	assert.ErrorContains(t, err, "invalid compression type")

	s, err := NewKafkaSink(config.KafkaReportConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "zstd"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", s.Name())
	assert.NoError(t, s.Close())
}
