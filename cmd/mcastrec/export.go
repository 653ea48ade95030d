package main

import (
	"fmt"
	"net"

	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/irctrakz/mcastrec/pkg/pcap"
	"github.com/spf13/cobra"
)

var exportOpts struct {
	address string
	port    int
	src     string
	ttl     int
}

var exportCmd = &cobra.Command{
	Use:   "export LOG PCAP",
	Short: "Convert a log file to a pcap capture",
	Long: `
Write every frame of a log as an IPv4 or IPv6 UDP datagram to a pcap file
with raw IP link type, stamped with the recorded time. The destination
defaults to the configured replay destination.

Examples:
  mcastrec export session.bin session.pcap
  mcastrec export -a 239.1.2.3 -p 5000 session.bin session.pcap
`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportOpts.address, "address", "a", "", "Destination address written into each datagram")
	f.IntVarP(&exportOpts.port, "port", "p", 0, "Destination UDP port written into each datagram")
	f.StringVar(&exportOpts.src, "src", "", "Source address (default 192.0.2.1 or 2001:db8::1)")
	f.IntVar(&exportOpts.ttl, "ttl", 0, "IP TTL or hop limit (default 1)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	address, port := cfg.Replay.DestAddress, cfg.Replay.DestPort
	if cmd.Flags().Changed("address") {
		address = exportOpts.address
	}
	if cmd.Flags().Changed("port") {
		port = exportOpts.port
	}

	dst, err := core.ParseIP(address)
	if err != nil {
		return err
	}
	if err := core.ValidatePort(port); err != nil {
		return err
	}
	opts := pcap.ExportOptions{Dst: dst, DstPort: port, TTL: exportOpts.ttl}
	if exportOpts.src != "" {
		if opts.Src = net.ParseIP(exportOpts.src); opts.Src == nil {
			return fmt.Errorf("%w: %q", core.ErrInvalidAddress, exportOpts.src)
		}
	}

	stats, err := pcap.Export(args[0], args[1], opts)
	if err != nil {
		return err
	}
	logging.WithComponent("export").Infof("wrote %d datagrams to %s (%d oversized frames skipped)",
		stats.Frames, args[1], stats.Skipped)
	fmt.Fprintf(cmd.OutOrStdout(), "%d frames exported\n", stats.Frames)
	return nil
}
