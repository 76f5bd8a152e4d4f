package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
netraffic:
  capture:
    backend: afpacket
    snap_len: 256
    read_timeout: 250ms
    publish_every: 4
    duplicate_policy: Replace
  listeners:
    - device: eth0
      rule: "port 443"
    - device: lo
      rule: "src host 127.0.0.1"
      direction: in
      immediate_mode: false
  control:
    socket: /tmp/netraffic-test.sock
  log:
    level: debug
    format: text
  report:
    enabled: true
    interval: 2s
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "afpacket", cfg.Capture.Backend)
	assert.Equal(t, 256, cfg.Capture.SnapLen)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.ReadTimeout)
	assert.Equal(t, uint64(4), cfg.Capture.PublishEvery)
	assert.Equal(t, "replace", cfg.Capture.DuplicatePolicy)
	assert.Equal(t, 16, cfg.Capture.ControlBuffer)

	require.Len(t, cfg.Listeners, 2)
	assert.Equal(t, "port 443", cfg.Listeners[0].Rule)
	assert.True(t, cfg.Listeners[0].Immediate())
	assert.Equal(t, "in", cfg.Listeners[1].Direction)
	assert.False(t, cfg.Listeners[1].Immediate())

	assert.Equal(t, "/tmp/netraffic-test.sock", cfg.Control.Socket)
	assert.Equal(t, "/var/run/netraffic.pid", cfg.Control.PIDFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	assert.True(t, cfg.Report.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Report.Interval)
	assert.Equal(t, "netraffic-snapshots", cfg.Report.Kafka.Topic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Report.Kafka.Brokers)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "pcap", cfg.Capture.Backend)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.ReadTimeout)
	assert.Equal(t, uint64(2), cfg.Capture.PublishEvery)
	assert.Equal(t, "reject", cfg.Capture.DuplicatePolicy)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9091", cfg.Metrics.Listen)
	assert.False(t, cfg.Report.Enabled)
	assert.Empty(t, cfg.Listeners)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NETRAFFIC_LOG_LEVEL", "warn")
	path := writeConfig(t, "netraffic:\n  log:\n    level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidateZeroReadTimeout(t *testing.T) {
	path := writeConfig(t, "netraffic:\n  capture:\n    read_timeout: 0s\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.ReadTimeout)

	cfg.Capture.ReadTimeout = 0
	require.NoError(t, cfg.ValidateAndApplyDefaults())
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.ReadTimeout)

	cfg.Capture.ReadTimeout = -time.Second
	assert.ErrorContains(t, cfg.ValidateAndApplyDefaults(), "read_timeout must not be negative")
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "log level",
			content: "netraffic:\n  log:\n    level: verbose\n",
			want:    "invalid log level",
		},
		{
			name:    "backend",
			content: "netraffic:\n  capture:\n    backend: netmap\n",
			want:    "invalid capture.backend",
		},
		{
			name:    "duplicate policy",
			content: "netraffic:\n  capture:\n    duplicate_policy: ignore\n",
			want:    "invalid capture.duplicate_policy",
		},
		{
			name:    "listener without rule",
			content: "netraffic:\n  listeners:\n    - device: eth0\n",
			want:    "listeners[0].rule is required",
		},
		{
			name:    "listener direction",
			content: "netraffic:\n  listeners:\n    - device: eth0\n      rule: tcp\n      direction: sideways\n",
			want:    "listeners[0].direction",
		},
		{
			name:    "duplicate listener rule",
			content: "netraffic:\n  listeners:\n    - {device: eth0, rule: tcp}\n    - {device: lo, rule: tcp}\n",
			want:    "duplicate rule",
		},
		{
			name:    "kafka without brokers",
			content: "netraffic:\n  report:\n    enabled: true\n    kafka:\n      enabled: true\n",
			want:    "report.kafka.brokers is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
