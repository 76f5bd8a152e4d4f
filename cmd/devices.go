package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/netraffic/internal/capture"
	"firestige.xyz/netraffic/internal/capture/pcap"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List every network device libpcap can open. The default device, used by
watch when --device is omitted, is marked with '*'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevices(pcap.NewEnumerator(), cmd.OutOrStdout())
	},
}

func runDevices(e capture.Enumerator, out io.Writer) error {
	devices, err := e.Devices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := capture.PickDefault(devices)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tADDRESSES\tDESCRIPTION")
	for _, d := range devices {
		mark := ""
		if d.Name == def.Name {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, d.Name, strings.Join(d.Addresses, ","), d.Description)
	}
	return tw.Flush()
}
