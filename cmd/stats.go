package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netraffic/internal/command"
)

var (
	statsRule   string
	statsTry    bool
	statsOutput string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-rule traffic snapshots",
	Long: `Query the netraffic daemon for the latest published snapshot of each rule.

Shows: cumulative bytes, last packet length and the timestamp accumulator.
With --try the query fails instead of waiting when a worker is publishing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := command.StatsParams{Rule: statsRule, NonBlocking: statsTry}
		return runStats(cmd.Context(), GetClient(), cmd.OutOrStdout(), params, statsOutput)
	},
}

func init() {
	statsCmd.Flags().StringVarP(&statsRule, "rule", "r", "", "only show this rule")
	statsCmd.Flags().BoolVar(&statsTry, "try", false, "do not wait for an in-flight publish")
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", "json", "output format (json/yaml)")
}

func runStats(ctx context.Context, client ClientInterface, out io.Writer, params command.StatsParams, format string) error {
	stats, err := client.Stats(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	return printResult(out, format, stats)
}
