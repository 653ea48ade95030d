package main

import (
	"fmt"
	"net"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/irctrakz/mcastrec/pkg/pcap"
	"github.com/spf13/cobra"
)

var importOpts struct {
	address string
	port    int
}

var importCmd = &cobra.Command{
	Use:   "import PCAP LOG",
	Short: "Append UDP datagrams from a pcap or pcapng capture to a log file",
	Long: `
Read a capture and append the payload of every unfragmented UDP datagram
to a log file, stamped with its capture time. Datagrams can be filtered
by destination port and address.

Examples:
  mcastrec import traffic.pcapng session.bin
  mcastrec import -p 62040 -a 224.0.0.1 traffic.pcap session.bin
`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVarP(&importOpts.address, "address", "a", "", "Keep only datagrams sent to this address")
	f.IntVarP(&importOpts.port, "port", "p", 0, "Keep only datagrams sent to this port (0 keeps all)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var opts pcap.ImportOptions
	if importOpts.port != 0 {
		if err := core.ValidatePort(importOpts.port); err != nil {
			return err
		}
		opts.Port = importOpts.port
	}
	if importOpts.address != "" {
		if opts.Dst = net.ParseIP(importOpts.address); opts.Dst == nil {
			return fmt.Errorf("%w: %q", core.ErrInvalidAddress, importOpts.address)
		}
	}

	stats, err := pcap.Import(args[0], args[1], opts)
	if err != nil {
		return err
	}
	logging.WithComponent("import").Infof("read %d packets, imported %d, skipped %d",
		stats.Packets, stats.Imported, stats.Skipped)
	fmt.Fprintf(cmd.OutOrStdout(), "%d frames imported\n", stats.Imported)
	return nil
}
