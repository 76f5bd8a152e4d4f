package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netraffic/internal/capture"
	"firestige.xyz/netraffic/internal/capture/pcap"
	"firestige.xyz/netraffic/internal/config"
	"firestige.xyz/netraffic/internal/daemon"
	"firestige.xyz/netraffic/internal/rate"
	"firestige.xyz/netraffic/internal/traffic"
)

type watchOptions struct {
	device    string
	rules     []string
	direction string
	interval  time.Duration
	backend   string
}

var watchOpts watchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Count rules in the foreground and print throughput",
	Long: `Register one listener per --rule on a device and print each rule's total
bytes and throughput every --interval until interrupted. No daemon is needed.

The capture section of --config (backend, snap_len, read_timeout,
publish_every, ...) applies when the file exists; built-in defaults are
used otherwise. --backend overrides capture.backend.

Example:
  netraffic watch -d eth0 -r "tcp port 443" -r "udp port 53"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadWatchConfig(configFile, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		regOpts, err := daemon.RegistryOptions(cfg.Capture)
		if err != nil {
			return err
		}

		opts := watchOpts
		if opts.backend == "" {
			opts.backend = cfg.Capture.Backend
		}
		if opts.device == "" {
			dev, err := pcap.NewEnumerator().Default()
			if err != nil {
				return fmt.Errorf("no --device given and no default device: %w", err)
			}
			opts.device = dev.Name
		}
		return runWatch(ctx, daemon.NewOpener(opts.backend), cmd.OutOrStdout(), opts, regOpts...)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchOpts.device, "device", "d", "", "capture device (default: first non-loopback device)")
	watchCmd.Flags().StringArrayVarP(&watchOpts.rules, "rule", "r", nil, "BPF rule to count (repeatable)")
	watchCmd.Flags().StringVar(&watchOpts.direction, "direction", "inout", "traffic direction (inout/in/out)")
	watchCmd.Flags().DurationVarP(&watchOpts.interval, "interval", "i", time.Second, "print interval")
	watchCmd.Flags().StringVar(&watchOpts.backend, "backend", "", "capture backend (pcap/afpacket, default: capture.backend)")
	_ = watchCmd.MarkFlagRequired("rule")
}

// loadWatchConfig loads path. A missing default config file is not an error.
func loadWatchConfig(path string, explicit bool) (*config.GlobalConfig, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runWatch(ctx context.Context, opener capture.Opener, out io.Writer, opts watchOptions, regOpts ...traffic.Option) error {
	if len(opts.rules) == 0 {
		return errors.New("at least one --rule is required")
	}
	if opts.interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %s", opts.interval)
	}
	dir, err := capture.ParseDirection(opts.direction)
	if err != nil {
		return err
	}

	registry := traffic.NewRegistry(opener, regOpts...)
	defer registry.Close()

	for _, rule := range opts.rules {
		f := traffic.NewFilter(opts.device, rule)
		f.Direction = dir
		if err := registry.AddListener(ctx, f); err != nil {
			return fmt.Errorf("failed to add rule %q: %w", rule, err)
		}
	}
	fmt.Fprintf(out, "watching %d rule(s) on %s, press Ctrl+C to stop\n", len(opts.rules), opts.device)

	meter := rate.NewMeter(10 * opts.interval)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			printWatchLine(out, registry.GetData(), opts.rules, meter, now)
		}
	}
}

func printWatchLine(out io.Writer, data map[string]traffic.Snapshot, rules []string, meter *rate.Meter, now time.Time) {
	for _, rule := range rules {
		snap := data[rule]
		speed := "-"
		if bps, ok := meter.Observe(rule, snap.Total, now); ok {
			speed = rate.FormatRate(bps)
		}
		fmt.Fprintf(out, "%s  %-30q total=%s speed=%s\n",
			now.Format("15:04:05"), rule, rate.FormatBytes(float64(snap.Total)), speed)
	}
}
