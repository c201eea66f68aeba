package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/stopprobe/internal/result"
)

// Row is one line of the outcome breakdown.
type Row struct {
	Label string
	Count int
}

// Rows returns the four buckets every report shows. Their counts sum to the
// attempted trial count.
func Rows(s *result.Summary) []Row {
	return []Row{
		{"Bug reproduced", s.Counts.MarkerMismatch},
		{"Working correctly", s.Counts.MarkerHonored},
		{"No stop sequence output", s.Counts.NoMarkerProduced},
		{"Failed", s.Failures},
	}
}

// ValidFormat reports whether Generate can render format.
func ValidFormat(format string) error {
	switch format {
	case "table", "", "markdown", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q (want table, markdown or json)", format)
}

// Generate renders the summary as table, markdown or json.
func Generate(s *result.Summary, format string, w io.Writer) error {
	if err := ValidFormat(format); err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

func writeTable(s *result.Summary, w io.Writer) error {
	fmt.Fprintln(w, "=== Summary ===")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tTRIALS\tRATE")
	fmt.Fprintln(tw, strings.Repeat("-", 44))
	for _, r := range Rows(s) {
		fmt.Fprintf(tw, "%s\t%d/%d\t%.0f%%\n", r.Label, r.Count, s.Attempted, rate(r.Count, s.Attempted))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nModel: %s  Marker: %s  Run: %s\n", s.Model, strconv.Quote(s.Marker), s.RunID)
	fmt.Fprintf(w, "Tokens: %d in / %d out  Median latency: %dms", s.Usage.InputTokens, s.Usage.OutputTokens, s.MedianLatencyMS)
	if s.EstimatedCostUSD > 0 {
		fmt.Fprintf(w, "  Est. cost: $%.4f", s.EstimatedCostUSD)
	}
	fmt.Fprintln(w)
	if s.Interrupted {
		fmt.Fprintf(w, "Interrupted after %d of %d trials\n", s.Attempted, s.Configured)
	}

	if len(s.Anomalies) > 0 {
		fmt.Fprintln(w, "\nAnomalies:")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TRIAL\tSTOP REASON\tTEXT AFTER STOP SEQUENCE")
		for _, a := range s.Anomalies {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", a.Trial, a.StopReason, strconv.Quote(a.Trailing))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(s.FailedTrials) > 0 {
		fmt.Fprintln(w, "\nFailed trials:")
		for _, f := range s.FailedTrials {
			fmt.Fprintf(w, "  %d: %s\n", f.Trial, f.Message)
		}
	}

	fmt.Fprintf(w, "\nBug reproduced: %s\n", yesNo(s.BugReproduced()))
	return nil
}

func writeMarkdown(s *result.Summary, w io.Writer) error {
	fmt.Fprintf(w, "## Stop sequence probe: %s\n\n", s.Model)
	fmt.Fprintf(w, "Marker: %s | Run: `%s`\n\n", codeSpan(s.Marker), s.RunID)
	fmt.Fprintln(w, "| Outcome | Trials |")
	fmt.Fprintln(w, "|---|---|")
	for _, r := range Rows(s) {
		fmt.Fprintf(w, "| %s | %d/%d |\n", r.Label, r.Count, s.Attempted)
	}
	if len(s.Anomalies) > 0 {
		fmt.Fprintln(w, "\n### Anomalies")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Trial | stop_reason | Text after stop sequence |")
		fmt.Fprintln(w, "|---|---|---|")
		for _, a := range s.Anomalies {
			fmt.Fprintf(w, "| %d | %s | %s |\n", a.Trial, a.StopReason, escapeCell(codeSpan(strconv.Quote(a.Trailing))))
		}
	}
	fmt.Fprintf(w, "\n**Bug reproduced:** %s\n", yesNo(s.BugReproduced()))
	return nil
}

func writeJSON(s *result.Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// codeSpan wraps s in a backtick run longer than any run inside it.
func codeSpan(s string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	if longest == 0 {
		return "`" + s + "`"
	}
	fence := strings.Repeat("`", longest+1)
	return fence + " " + s + " " + fence
}
