package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/irctrakz/mcastrec/pkg/frame"
	"github.com/spf13/cobra"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect LOG",
	Short: "Summarize a log file",
	Long: `
Scan a log file and print its frame count, payload sizes, time span and
whether it ends on a frame boundary.

Examples:
  mcastrec inspect session.bin
  mcastrec inspect --json session.bin
`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(inspectCmd)
}

type inspectReport struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Frames     uint64 `json:"frames"`
	Bytes      uint64 `json:"bytes"`
	FirstTS    int64  `json:"first_ts"`
	LastTS     int64  `json:"last_ts"`
	DurationMS int64  `json:"duration_ms"`
	MinPayload int    `json:"min_payload"`
	MaxPayload int    `json:"max_payload"`
	Clean      bool   `json:"clean"`
	ValidBytes int64  `json:"valid_bytes"`
	TailError  string `json:"tail_error,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	s, err := frame.Summarize(path)
	if err != nil {
		return err
	}

	rep := inspectReport{
		Path:       path,
		Size:       st.Size(),
		Frames:     s.Frames,
		Bytes:      s.Bytes,
		FirstTS:    s.FirstTS,
		LastTS:     s.LastTS,
		DurationMS: s.Duration().Milliseconds(),
		MinPayload: s.MinPayload,
		MaxPayload: s.MaxPayload,
		Clean:      s.Clean(),
		ValidBytes: s.ValidBytes,
	}
	if s.TailErr != nil {
		rep.TailError = s.TailErr.Error()
	}

	out := cmd.OutOrStdout()
	if inspectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printInspect(out, rep)
	return nil
}

func printInspect(w io.Writer, r inspectReport) {
	fmt.Fprintf(w, "file:     %s (%d bytes)\n", r.Path, r.Size)
	fmt.Fprintf(w, "frames:   %d\n", r.Frames)
	if r.Frames > 0 {
		fmt.Fprintf(w, "payload:  %d bytes, min %d, max %d\n", r.Bytes, r.MinPayload, r.MaxPayload)
		fmt.Fprintf(w, "first:    %s\n", formatTS(r.FirstTS))
		fmt.Fprintf(w, "last:     %s\n", formatTS(r.LastTS))
		fmt.Fprintf(w, "duration: %s\n", time.Duration(r.DurationMS)*time.Millisecond)
	}
	if r.Clean {
		fmt.Fprintln(w, "tail:     clean")
		return
	}
	fmt.Fprintf(w, "tail:     %s at offset %d (%d trailing bytes ignored)\n",
		r.TailError, r.ValidBytes, r.Size-r.ValidBytes)
}

func formatTS(ms int64) string {
	return fmt.Sprintf("%s (%d)", time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z"), ms)
}
