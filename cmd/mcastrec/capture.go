package main

import (
	"github.com/spf13/cobra"
)

var captureOpts struct {
	address string
	port    int
	file    string
	iface   string
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record multicast datagrams to a log file",
	Long: `
Join a multicast group and append every datagram received on the port to
a log file until interrupted.

Examples:
  mcastrec capture -f session.bin                        # 224.0.0.1:62040
  mcastrec capture -a 239.1.2.3 -p 5000 -f session.bin
  mcastrec capture -a ff15::1 -p 5000 -i eth0 -f v6.bin
`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

func init() {
	f := captureCmd.Flags()
	f.StringVarP(&captureOpts.address, "address", "a", "", "Multicast group to join")
	f.IntVarP(&captureOpts.port, "port", "p", 0, "UDP port to listen on")
	f.StringVarP(&captureOpts.file, "file", "f", "", "Log file to append to")
	f.StringVarP(&captureOpts.iface, "interface", "i", "", "Interface for the group join")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	cc := cfg.Capture
	flags := cmd.Flags()
	if flags.Changed("address") {
		cc.BindAddress = captureOpts.address
	}
	if flags.Changed("port") {
		cc.Port = captureOpts.port
	}
	if flags.Changed("file") {
		cc.Path = captureOpts.file
	}
	if flags.Changed("interface") {
		cfg.Socket.Interface = captureOpts.iface
	}

	rec := newRecorder(cfg)
	defer rec.Close()

	if err := rec.StartCapture(cc); err != nil {
		return err
	}
	// Capture has no natural end; only a signal or a failed helper stops it.
	return serve(cmd.Context(), cfg, rec, nil)
}
