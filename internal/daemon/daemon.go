// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/netraffic/internal/capture"
	"firestige.xyz/netraffic/internal/capture/afpacket"
	"firestige.xyz/netraffic/internal/capture/pcap"
	"firestige.xyz/netraffic/internal/command"
	"firestige.xyz/netraffic/internal/config"
	logpkg "firestige.xyz/netraffic/internal/log"
	"firestige.xyz/netraffic/internal/metrics"
	"firestige.xyz/netraffic/internal/report"
	"firestige.xyz/netraffic/internal/traffic"
)

// Daemon manages the netraffic daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Injected collaborators
	opener capture.Opener // nil = chosen from capture.backend
	stdout io.Writer      // console report sink

	// Core components
	registry      *traffic.Registry
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server  // nil if metrics disabled
	reporter      *report.Reporter // nil if reporting disabled

	// Lifecycle management
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	reloadMu     sync.Mutex
}

// Option customises a Daemon.
type Option func(*Daemon)

// WithOpener overrides the capture backend selected by configuration.
func WithOpener(o capture.Opener) Option {
	return func(d *Daemon) {
		d.opener = o
	}
}

// WithStdout redirects the console report sink.
func WithStdout(w io.Writer) Option {
	return func(d *Daemon) {
		d.stdout = w
	}
}

// New creates a new Daemon instance. Empty socketPath or pidFile fall back to
// the control section of the configuration.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		stdout:       os.Stdout,
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start initializes all daemon components. Serving begins in Run.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting netraffic daemon",
		"config", d.configPath,
		"socket", d.socketPath,
		"backend", d.config.Capture.Backend,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Create traffic registry and the configured listeners
	registry, err := d.newRegistry()
	if err != nil {
		d.removePIDFile()
		return err
	}
	d.registry = registry
	d.startListeners(context.Background(), nil)

	// 4. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.registry.Close()
		d.removePIDFile()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. Reporter
	if err := d.initReporter(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to create reporter: %w", err)
	}

	// 6. Command handler and UDS server
	d.cmdHandler = command.NewCommandHandler(d.registry, d)
	d.cmdHandler.SetShutdownFunc(d.TriggerShutdown)
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)

	slog.Info("daemon started successfully", "listeners", len(d.registry.Listeners()))
	return nil
}

// Run serves the control socket and reporter until shutdown is triggered:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
//  3. ctx cancellation
//
// SIGHUP triggers a config reload, SIGUSR1 reopens the log file.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.udsServer.Start(gctx)
	})

	if d.reporter != nil {
		g.Go(func() error {
			return d.reporter.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		slog.Info("daemon running, waiting for signals or commands")
		for {
			select {
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					slog.Info("received shutdown signal", "signal", sig)
					return nil
				case syscall.SIGHUP:
					slog.Info("received reload signal")
					if err := d.Reload(); err != nil {
						slog.Error("failed to reload config", "error", err)
					}
				case syscall.SIGUSR1:
					if err := logpkg.Rotate(); err != nil {
						slog.Error("failed to rotate log file", "error", err)
					}
				}
			case <-d.shutdownChan:
				slog.Info("shutdown triggered by command")
				return nil
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	d.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop performs graceful shutdown of all daemon components. Safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		slog.Info("initiating graceful shutdown")

		// 1. No new CLI commands
		if d.udsServer != nil {
			d.udsServer.Stop()
		}

		// 2. Stop every capture worker
		if d.registry != nil {
			slog.Info("stopping all listeners")
			if err := d.registry.Close(); err != nil {
				slog.Error("error stopping listeners", "error", err)
			}
		}

		// 3. Metrics server
		if d.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.metricsServer.Stop(shutdownCtx); err != nil {
				slog.Error("error stopping metrics server", "error", err)
			}
		}

		// 4. PID file
		if err := d.removePIDFile(); err != nil {
			slog.Error("error removing PID file", "error", err)
		}

		slog.Info("daemon stopped gracefully")
		logpkg.Close()
	})
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format/file, listeners whose rule is new to the file.
// Rules already in the previous file are not restarted.
// Cold (requires restart): capture settings, listen addresses, report sinks.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	requiresRestart := []string{}

	oldConfig := d.config
	d.config = newConfig

	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log != oldConfig.Log {
		hotReloaded = append(hotReloaded, "log")
	}

	// Only rules added to the file since the last load start here, so a
	// listener removed over the control socket stays removed.
	if started := d.startListeners(context.Background(), oldConfig.Listeners); started > 0 {
		hotReloaded = append(hotReloaded, "listeners")
	}

	if newConfig.Capture != oldConfig.Capture {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Metrics != oldConfig.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if newConfig.Report.Enabled != oldConfig.Report.Enabled || newConfig.Report.Interval != oldConfig.Report.Interval {
		requiresRestart = append(requiresRestart, "report")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown triggers graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
	})
}

// Registry exposes the traffic registry, nil before Start.
func (d *Daemon) Registry() *traffic.Registry {
	return d.registry
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

func (d *Daemon) newRegistry() (*traffic.Registry, error) {
	opts, err := RegistryOptions(d.config.Capture)
	if err != nil {
		return nil, err
	}

	opener := d.opener
	if opener == nil {
		opener = NewOpener(d.config.Capture.Backend)
	}
	return traffic.NewRegistry(opener, opts...), nil
}

// RegistryOptions maps the capture section onto registry options.
func RegistryOptions(c config.CaptureConfig) ([]traffic.Option, error) {
	policy, err := traffic.ParseDuplicatePolicy(c.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	return []traffic.Option{
		traffic.WithCaptureOptions(CaptureOptions(c)),
		traffic.WithPublishEvery(c.PublishEvery),
		traffic.WithControlBuffer(c.ControlBuffer),
		traffic.WithDuplicatePolicy(policy),
	}, nil
}

// NewOpener returns the capture backend named by backend.
func NewOpener(backend string) capture.Opener {
	if backend == "afpacket" {
		return afpacket.NewOpener()
	}
	return pcap.NewOpener()
}

// CaptureOptions maps the capture section onto handle options.
func CaptureOptions(c config.CaptureConfig) capture.Options {
	return capture.Options{
		ImmediateMode: true,
		SnapLen:       c.SnapLen,
		Promiscuous:   c.Promiscuous,
		ReadTimeout:   c.ReadTimeout,
		BufferSizeMB:  c.BufferSizeMB,
	}
}

// FilterFrom converts a configured listener into a traffic filter.
func FilterFrom(l config.ListenerConfig) (traffic.Filter, error) {
	f := traffic.NewFilter(l.Device, l.Rule)
	dir, err := capture.ParseDirection(l.Direction)
	if err != nil {
		return f, err
	}
	f.Direction = dir
	f.ImmediateMode = l.Immediate()
	return f, f.Validate()
}

// startListeners registers every configured listener whose rule is neither in
// known nor already running. Failures are logged and do not stop the daemon.
func (d *Daemon) startListeners(ctx context.Context, known []config.ListenerConfig) int {
	skip := make(map[string]bool, len(known))
	for _, l := range known {
		skip[l.Rule] = true
	}

	started := 0
	for _, l := range d.config.Listeners {
		if skip[l.Rule] {
			continue
		}
		if state, ok := d.registry.State(l.Rule); ok && state != traffic.StateStopped {
			continue
		}

		f, err := FilterFrom(l)
		if err != nil {
			slog.Error("invalid listener in config", "rule", l.Rule, "error", err)
			continue
		}
		if err := d.registry.AddListener(ctx, f); err != nil {
			slog.Error("failed to start listener", "rule", l.Rule, "device", l.Device, "error", err)
			continue
		}
		started++
	}
	return started
}

// ruleStats joins listener state with the published snapshots for scraping.
func (d *Daemon) ruleStats() []metrics.RuleStats {
	data := d.registry.GetData()
	infos := d.registry.Listeners()

	out := make([]metrics.RuleStats, 0, len(infos))
	for _, info := range infos {
		snap, ok := data[info.Filter.Rule]
		out = append(out, metrics.RuleStats{
			Rule:      info.Filter.Rule,
			Device:    info.Filter.Device,
			Total:     snap.Total,
			LastLen:   snap.Len,
			State:     info.State.String(),
			Published: ok,
		})
	}
	return out
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewTrafficCollector(metrics.StatsSourceFunc(d.ruleStats)))
	gatherer := prometheus.Gatherers{prometheus.DefaultGatherer, reg}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, gatherer)
	if err := d.metricsServer.Start(context.Background()); err != nil {
		d.metricsServer = nil
		return err
	}

	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

// MetricsAddr returns the bound metrics address, empty when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

// initReporter builds the reporter and its sinks if reporting is enabled.
func (d *Daemon) initReporter() error {
	rc := d.config.Report
	if !rc.Enabled {
		return nil
	}

	var sinks []report.Sink
	if rc.Console.Enabled {
		sinks = append(sinks, report.NewConsoleSink(d.stdout))
	}
	if rc.Kafka.Enabled {
		sink, err := report.NewKafkaSink(rc.Kafka)
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		slog.Warn("report enabled without any sink, reporter disabled")
		return nil
	}

	d.reporter = report.New(d.registry, rc.Interval, sinks...)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
