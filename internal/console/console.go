// Package console narrates a run for a human watching the terminal.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/signalnine/stopprobe/internal/result"
	"github.com/signalnine/stopprobe/internal/trial"
)

type styles struct {
	title, bug, ok, dim, err lipgloss.Style
}

// newStyles binds styles to w so color is dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true),
		bug:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		ok:    r.NewStyle().Foreground(lipgloss.Color("10")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("8")),
		err:   r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

type Narrator struct {
	w  io.Writer
	st styles
	// ShowResponse prints the full response body of bug trials.
	ShowResponse bool
}

func NewNarrator(w io.Writer) *Narrator {
	return &Narrator{w: w, st: newStyles(w), ShowResponse: true}
}

func (n *Narrator) Header(t *trial.RequestTemplate, trials int) {
	fmt.Fprintln(n.w, n.st.title.Render("=== Stop Sequence Bug Reproduction ==="))
	fmt.Fprintln(n.w)
	fmt.Fprintf(n.w, "Model: %s\n", t.Model)
	fmt.Fprintf(n.w, "Stop sequence: %s\n", strconv.Quote(t.Marker()))
	fmt.Fprintf(n.w, "Running %d iterations to catch intermittent bug...\n\n", trials)
}

func (n *Narrator) ObserveTrial(rec *result.TrialRecord) {
	if rec.Failed() {
		fmt.Fprintf(n.w, "Run %d: %s\n", rec.Trial, n.st.err.Render("ERROR - "+rec.Error))
		return
	}
	switch rec.Outcome {
	case result.OutcomeMarkerMismatch:
		fmt.Fprintf(n.w, "Run %d: %s\n", rec.Trial,
			n.st.bug.Render(fmt.Sprintf("BUG - stop sequence in output but stop_reason=%q", rec.StopReason)))
		fmt.Fprintf(n.w, "  Text after stop sequence: %s\n", strconv.Quote(rec.Trailing))
		if n.ShowResponse && len(rec.Response) > 0 {
			fmt.Fprintf(n.w, "  Full response: %s\n", indentJSON(rec.Response))
		}
	case result.OutcomeMarkerHonored:
		fmt.Fprintf(n.w, "Run %d: %s\n", rec.Trial, n.st.ok.Render("OK - stop sequence triggered correctly"))
	default:
		fmt.Fprintf(n.w, "Run %d: %s\n", rec.Trial, n.st.dim.Render("Model did not output stop sequence"))
	}
}

// Conclusion prints the closing verdict line, if any.
func (n *Narrator) Conclusion(s *result.Summary) {
	if s.Interrupted {
		fmt.Fprintf(n.w, "\n%s\n", n.st.err.Render(fmt.Sprintf("Run interrupted after %d of %d trials.", s.Attempted, s.Configured)))
	}
	if s.BugReproduced() {
		fmt.Fprintf(n.w, "\n%s\n", n.st.bug.Render("BUG CONFIRMED: Stop sequence intermittently fails to trigger."))
	}
}

func indentJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
