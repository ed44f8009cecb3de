package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/postrun/internal/quality"
)

func newScoreCmd() *cobra.Command {
	var (
		format string
		topic  string
	)

	cmd := &cobra.Command{
		Use:   "score [file]",
		Short: "Score text against the quality gate",
		Long:  "Reads a post from the file (or stdin) and prints per-axis scores. Threads separate parts with blank lines.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "single" && format != "thread" {
				return fmt.Errorf("format must be single or thread, got %q", format)
			}

			var (
				raw []byte
				err error
			)
			if len(args) == 1 && args[0] != "-" {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read candidate: %w", err)
			}
			text := strings.TrimSpace(string(raw))
			if text == "" {
				return errors.New("nothing to score")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gate := quality.NewGate(cfg.Quality)
			scores := gate.Score(quality.Candidate{Text: text, Format: format, Topic: topic})

			if !stdoutIsTerminal() {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(scores)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, axis := range quality.Axes {
				fmt.Fprintf(w, "%s\t%.3f\n", axis, scores.Axis(axis))
			}
			fmt.Fprintf(w, "overall\t%.3f\n", scores.Overall)
			fmt.Fprintf(w, "passed\t%t\n", scores.Passed)
			for _, r := range scores.Reasons {
				fmt.Fprintf(w, "reason\t%s\n", r)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", "single", "Candidate format (single|thread)")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic cluster, for reporting")
	return cmd
}
