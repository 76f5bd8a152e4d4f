package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShutdown(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

func runShutdown(ctx context.Context, client ClientInterface, out io.Writer) error {
	if err := client.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon shutdown initiated")
	return nil
}
