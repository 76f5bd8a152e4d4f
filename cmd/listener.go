package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/netraffic/internal/command"
)

var listenerCmd = &cobra.Command{
	Use:     "listener",
	Aliases: []string{"listeners", "l"},
	Short:   "Manage listeners of a running daemon",
}

var (
	addDevice    string
	addDirection string
	addBuffered  bool
	removeWait   bool
	listOutput   string
)

var listenerAddCmd = &cobra.Command{
	Use:   "add RULE",
	Short: "Start counting RULE on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := command.ListenerAddParams{
			Device:    addDevice,
			Rule:      args[0],
			Direction: addDirection,
		}
		if addBuffered {
			immediate := false
			params.ImmediateMode = &immediate
		}
		return runListenerAdd(cmd.Context(), GetClient(), cmd.OutOrStdout(), params)
	},
}

var listenerRemoveCmd = &cobra.Command{
	Use:     "remove RULE",
	Aliases: []string{"rm", "stop"},
	Short:   "Stop the listener for RULE",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListenerRemove(cmd.Context(), GetClient(), cmd.OutOrStdout(), args[0], removeWait)
	},
}

var listenerSuspendCmd = &cobra.Command{
	Use:   "suspend RULE",
	Short: "Pause counting for RULE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListenerSignal(cmd.Context(), GetClient().SuspendListener, cmd.OutOrStdout(), args[0])
	},
}

var listenerResumeCmd = &cobra.Command{
	Use:   "resume RULE",
	Short: "Resume a suspended listener",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListenerSignal(cmd.Context(), GetClient().ResumeListener, cmd.OutOrStdout(), args[0])
	},
}

var listenerListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List listeners and their state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListenerList(cmd.Context(), GetClient(), cmd.OutOrStdout(), listOutput)
	},
}

func init() {
	listenerAddCmd.Flags().StringVarP(&addDevice, "device", "d", "", "capture device (required)")
	listenerAddCmd.Flags().StringVar(&addDirection, "direction", "inout", "traffic direction (inout/in/out)")
	listenerAddCmd.Flags().BoolVar(&addBuffered, "buffered", false, "disable immediate mode")
	_ = listenerAddCmd.MarkFlagRequired("device")

	listenerRemoveCmd.Flags().BoolVarP(&removeWait, "wait", "w", false, "wait until the worker has exited")

	listenerListCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "output format (table/json/yaml)")

	listenerCmd.AddCommand(listenerAddCmd, listenerRemoveCmd, listenerSuspendCmd, listenerResumeCmd, listenerListCmd)
}

func runListenerAdd(ctx context.Context, client ClientInterface, out io.Writer, params command.ListenerAddParams) error {
	result, err := client.AddListener(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to add listener: %w", err)
	}
	fmt.Fprintf(out, "✓ Listener %q on %s %s\n", result.Rule, result.Device, result.Status)
	return nil
}

func runListenerRemove(ctx context.Context, client ClientInterface, out io.Writer, rule string, wait bool) error {
	result, err := client.RemoveListener(ctx, rule, wait)
	if err != nil {
		return fmt.Errorf("failed to remove listener: %w", err)
	}
	return printSignalResult(out, result)
}

// signalFunc is one of the client's suspend/resume calls.
type signalFunc func(ctx context.Context, rule string) (*command.SignalResult, error)

func runListenerSignal(ctx context.Context, send signalFunc, out io.Writer, rule string) error {
	result, err := send(ctx, rule)
	if err != nil {
		return fmt.Errorf("failed to signal listener: %w", err)
	}
	return printSignalResult(out, result)
}

func printSignalResult(out io.Writer, r *command.SignalResult) error {
	if !r.Delivered {
		return fmt.Errorf("%s not delivered to %q: listener unknown, stopped or busy", r.Signal, r.Rule)
	}
	fmt.Fprintf(out, "✓ %s sent to %q\n", r.Signal, r.Rule)
	return nil
}

func runListenerList(ctx context.Context, client ClientInterface, out io.Writer, format string) error {
	infos, err := client.Listeners(ctx)
	if err != nil {
		return fmt.Errorf("failed to list listeners: %w", err)
	}
	if format != "table" {
		return printResult(out, format, infos)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tDEVICE\tDIRECTION\tSTATE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Filter.Rule, info.Filter.Device, info.Filter.Direction, info.State)
	}
	return tw.Flush()
}
