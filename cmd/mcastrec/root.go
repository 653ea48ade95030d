package main

import (
	"fmt"

	"github.com/irctrakz/mcastrec/pkg/capture"
	"github.com/irctrakz/mcastrec/pkg/config"
	"github.com/irctrakz/mcastrec/pkg/core"
	"github.com/irctrakz/mcastrec/pkg/recorder"
	"github.com/irctrakz/mcastrec/pkg/replay"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	logLevel      string
	logFile       string
	statsInterval string
	statsFormat   string
	healthAddr    string

	// cfg is populated by loadConfig before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mcastrec",
	Short: "Record and replay UDP multicast traffic",
	Long: `mcastrec captures the datagrams sent to a multicast group into a
timestamped log file and replays a log to a group with the original
inter-packet timing.

Settings come from built-in defaults, then the --config file, then
MCASTREC_* environment variables, then command-line flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON configuration file")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFile, "log-file", "", "Also write logs to this file, with rotation")
	pf.StringVar(&statsInterval, "stats-interval", "", "Interval between stats lines, 0 disables")
	pf.StringVar(&statsFormat, "stats-format", "", "Stats line format (text, json)")
	pf.StringVar(&healthAddr, "health-addr", "", "Serve /health and /stats on this address")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c := config.DefaultConfig()
	if configPath != "" {
		if err := config.LoadFromFile(configPath, c); err != nil {
			return err
		}
	}
	config.LoadFromEnv(c)

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if flags.Changed("log-file") {
		c.Logging.File = logFile
	}
	if flags.Changed("stats-interval") {
		c.Stats.Interval = statsInterval
	}
	if flags.Changed("stats-format") {
		c.Stats.Format = statsFormat
	}
	if flags.Changed("health-addr") {
		c.Stats.HealthAddr = healthAddr
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.ApplyLogging(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg = c
	return nil
}

// newRecorder builds both sessions with status lines routed to the logger.
func newRecorder(c *config.Config) *recorder.Recorder {
	sc := c.SocketOptions()
	cs := capture.NewSession(
		capture.WithSink(core.LogSink{Component: "capture"}),
		capture.WithSocketConfig(sc),
	)
	rs := replay.NewSession(
		replay.WithSink(core.LogSink{Component: "replay"}),
		replay.WithSocketConfig(sc),
	)
	return recorder.New(cs, rs)
}
