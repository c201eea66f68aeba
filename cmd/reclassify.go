package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/stopprobe/internal/classify"
	"github.com/signalnine/stopprobe/internal/report"
	"github.com/signalnine/stopprobe/internal/result"
	"github.com/signalnine/stopprobe/internal/trial"
)

func newReclassifyCmd() *cobra.Command {
	var (
		marker string
		format string
		write  bool
	)
	cmd := &cobra.Command{
		Use:   "reclassify <run-dir>",
		Short: "Classify the stored trial records of a run again",
		Long: "Read trials.jsonl from a run directory and fold every record through the classifier again, " +
			"optionally with a different marker. Failed trials stay failed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir := args[0]
			records, err := result.ReadTrialRecords(runDir)
			if errors.Is(err, result.ErrTruncatedRecords) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; classifying the %d complete records\n", err, len(records))
			} else if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no trial records found in %s", runDir)
			}

			tmpl := &trial.RequestTemplate{StopSequences: []string{marker}}
			configured := len(records)
			if prev, err := result.ReadSummary(runDir); err == nil {
				tmpl.Model = prev.Model
				if marker == "" {
					tmpl.StopSequences = []string{prev.Marker}
				}
				configured = prev.Configured
			}
			if tmpl.Marker() == "" {
				return errors.New("no marker: pass --marker or keep summary.json in the run directory")
			}

			s := reclassify(tmpl, configured, records)
			if write {
				if err := result.WriteSummary(runDir, s); err != nil {
					return err
				}
			}
			return report.Generate(s, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&marker, "marker", "", "classify against this stop sequence instead of the recorded one")
	cmd.Flags().StringVar(&format, "format", "table", "output format (table, markdown, json)")
	cmd.Flags().BoolVar(&write, "write", false, "replace summary.json with the new summary")
	return cmd
}

// reclassify folds stored records through a fresh tally.
func reclassify(tmpl *trial.RequestTemplate, configured int, records []result.TrialRecord) *result.Summary {
	tally := classify.NewTally(tmpl, configured)
	for _, rec := range records {
		if rec.Failed() {
			tally.Fail(&trial.Failure{Index: rec.Trial, StatusCode: rec.StatusCode, Err: errors.New(rec.Error)})
			continue
		}
		tally.Fold(&trial.Result{
			Index:        rec.Trial,
			Text:         rec.Text,
			StopReason:   rec.StopReason,
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			Latency:      time.Duration(rec.LatencyMS) * time.Millisecond,
			Raw:          rec.Response,
		})
	}
	return tally.Finalize(len(records) < configured)
}
