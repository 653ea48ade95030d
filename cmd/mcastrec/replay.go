package main

import (
	"github.com/spf13/cobra"
)

var replayOpts struct {
	address string
	port    int
	file    string
	iface   string
	loop    bool
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send a log file to a multicast group with its original timing",
	Long: `
Replay every frame of a log file to a destination, spacing sends by the
recorded timestamp gaps. Exits when the log is exhausted unless --loop
is given.

Examples:
  mcastrec replay -f session.bin                         # 224.0.0.1:62040
  mcastrec replay -a 239.1.2.3 -p 5000 -f session.bin --loop
`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayOpts.address, "address", "a", "", "Destination address")
	f.IntVarP(&replayOpts.port, "port", "p", 0, "Destination UDP port")
	f.StringVarP(&replayOpts.file, "file", "f", "", "Log file to replay")
	f.StringVarP(&replayOpts.iface, "interface", "i", "", "Interface for multicast egress")
	f.BoolVarP(&replayOpts.loop, "loop", "l", false, "Restart from the first frame at end of log")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	rc := cfg.Replay
	flags := cmd.Flags()
	if flags.Changed("address") {
		rc.DestAddress = replayOpts.address
	}
	if flags.Changed("port") {
		rc.DestPort = replayOpts.port
	}
	if flags.Changed("file") {
		rc.Path = replayOpts.file
	}
	if flags.Changed("loop") {
		rc.Loop = replayOpts.loop
	}
	if flags.Changed("interface") {
		cfg.Socket.Interface = replayOpts.iface
	}

	rec := newRecorder(cfg)
	defer rec.Close()

	if err := rec.StartReplay(rc); err != nil {
		return err
	}
	return serve(cmd.Context(), cfg, rec, rec.Replay.Done())
}
