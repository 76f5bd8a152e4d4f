// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `netraffic:` root key in YAML.
type GlobalConfig struct {
	Capture   CaptureConfig    `mapstructure:"capture"`
	Listeners []ListenerConfig `mapstructure:"listeners"`
	Control   ControlConfig    `mapstructure:"control"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Log       LogConfig        `mapstructure:"log"`
	Report    ReportConfig     `mapstructure:"report"`
}

// ─── Capture ───

// CaptureConfig contains settings shared by every listener.
type CaptureConfig struct {
	Backend         string        `mapstructure:"backend"` // pcap | afpacket
	SnapLen         int           `mapstructure:"snap_len"`
	Promiscuous     bool          `mapstructure:"promiscuous"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	BufferSizeMB    int           `mapstructure:"buffer_size_mb"` // afpacket ring budget
	PublishEvery    uint64        `mapstructure:"publish_every"`
	ControlBuffer   int           `mapstructure:"control_buffer"`
	DuplicatePolicy string        `mapstructure:"duplicate_policy"` // reject | replace
}

// ListenerConfig declares a listener started with the daemon.
type ListenerConfig struct {
	Device        string `mapstructure:"device"`
	Rule          string `mapstructure:"rule"`
	Direction     string `mapstructure:"direction"`      // inout | in | out
	ImmediateMode *bool  `mapstructure:"immediate_mode"` // nil = true
}

// Immediate returns the effective immediate mode.
func (l ListenerConfig) Immediate() bool {
	return l.ImmediateMode == nil || *l.ImmediateMode
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Report ───

// ReportConfig configures the periodic snapshot reporter.
type ReportConfig struct {
	Enabled  bool                `mapstructure:"enabled"`
	Interval time.Duration       `mapstructure:"interval"`
	Console  ConsoleReportConfig `mapstructure:"console"`
	Kafka    KafkaReportConfig   `mapstructure:"kafka"`
}

// ConsoleReportConfig writes reports as JSON lines to stdout.
type ConsoleReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// KafkaReportConfig publishes reports to a Kafka topic, keyed by rule.
type KafkaReportConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netraffic: ...`.
type configRoot struct {
	Netraffic GlobalConfig `mapstructure:"netraffic"`
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `netraffic:` as root key; env vars map through the key
// replacer (e.g., key "netraffic.log.level" → env "NETRAFFIC_LOG_LEVEL").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netraffic

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "netraffic." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("netraffic.capture.backend", "pcap")
	v.SetDefault("netraffic.capture.snap_len", 65535)
	v.SetDefault("netraffic.capture.promiscuous", false)
	v.SetDefault("netraffic.capture.read_timeout", "500ms")
	v.SetDefault("netraffic.capture.buffer_size_mb", 8)
	v.SetDefault("netraffic.capture.publish_every", 2)
	v.SetDefault("netraffic.capture.control_buffer", 16)
	v.SetDefault("netraffic.capture.duplicate_policy", "reject")

	// Control defaults
	v.SetDefault("netraffic.control.pid_file", "/var/run/netraffic.pid")
	v.SetDefault("netraffic.control.socket", "/var/run/netraffic.sock")

	// Log defaults
	v.SetDefault("netraffic.log.level", "info")
	v.SetDefault("netraffic.log.format", "json")
	v.SetDefault("netraffic.log.outputs.file.enabled", false)
	v.SetDefault("netraffic.log.outputs.file.path", "/var/log/netraffic/netraffic.log")
	v.SetDefault("netraffic.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netraffic.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netraffic.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netraffic.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("netraffic.metrics.enabled", true)
	v.SetDefault("netraffic.metrics.listen", ":9091")
	v.SetDefault("netraffic.metrics.path", "/metrics")

	// Report defaults
	v.SetDefault("netraffic.report.enabled", false)
	v.SetDefault("netraffic.report.interval", "1s")
	v.SetDefault("netraffic.report.console.enabled", true)
	v.SetDefault("netraffic.report.kafka.enabled", false)
	v.SetDefault("netraffic.report.kafka.topic", "netraffic-snapshots")
	v.SetDefault("netraffic.report.kafka.compression", "snappy")
	v.SetDefault("netraffic.report.kafka.batch_timeout", "1s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Capture validation ──
	c := &cfg.Capture
	if c.Backend != "pcap" && c.Backend != "afpacket" {
		return fmt.Errorf("invalid capture.backend: %s (must be pcap/afpacket)", c.Backend)
	}
	if c.SnapLen <= 0 {
		return fmt.Errorf("capture.snap_len must be positive, got %d", c.SnapLen)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("capture.read_timeout must not be negative")
	}
	if c.ReadTimeout == 0 {
		// Workers only see control signals between reads.
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.PublishEvery == 0 {
		c.PublishEvery = 2
	}
	if c.ControlBuffer <= 0 {
		c.ControlBuffer = 16
	}
	switch strings.ToLower(c.DuplicatePolicy) {
	case "":
		c.DuplicatePolicy = "reject"
	case "reject", "replace":
		c.DuplicatePolicy = strings.ToLower(c.DuplicatePolicy)
	default:
		return fmt.Errorf("invalid capture.duplicate_policy: %s (must be reject/replace)", c.DuplicatePolicy)
	}

	// ── Listener validation ──
	seen := make(map[string]bool, len(cfg.Listeners))
	for i, l := range cfg.Listeners {
		if l.Device == "" {
			return fmt.Errorf("listeners[%d].device is required", i)
		}
		if l.Rule == "" {
			return fmt.Errorf("listeners[%d].rule is required", i)
		}
		switch strings.ToLower(l.Direction) {
		case "", "inout", "in", "out":
		default:
			return fmt.Errorf("listeners[%d].direction: invalid value %s (must be inout/in/out)", i, l.Direction)
		}
		if seen[l.Rule] {
			return fmt.Errorf("listeners[%d]: duplicate rule %q", i, l.Rule)
		}
		seen[l.Rule] = true
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}

	// ── Report validation ──
	if cfg.Report.Enabled {
		if cfg.Report.Interval <= 0 {
			return fmt.Errorf("report.interval must be positive when report.enabled=true")
		}
		if cfg.Report.Kafka.Enabled {
			if len(cfg.Report.Kafka.Brokers) == 0 {
				return fmt.Errorf("report.kafka.brokers is required when report.kafka.enabled=true")
			}
			if cfg.Report.Kafka.Topic == "" {
				return fmt.Errorf("report.kafka.topic is required when report.kafka.enabled=true")
			}
		}
	}

	return nil
}
