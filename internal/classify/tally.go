package classify

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/stopprobe/internal/result"
	"github.com/signalnine/stopprobe/internal/trial"
)

// Tally is the running aggregate of one run. It is not safe for concurrent
// use; the runner owns it and folds between trials.
type Tally struct {
	c         Classifier
	s         result.Summary
	latencies []int64
	now       func() time.Time
}

func NewTally(tmpl *trial.RequestTemplate, configured int) *Tally {
	return newTally(tmpl, configured, time.Now)
}

func newTally(tmpl *trial.RequestTemplate, configured int, now func() time.Time) *Tally {
	return &Tally{
		c: New(tmpl.Marker()),
		s: result.Summary{
			RunID:      uuid.Must(uuid.NewV7()).String(),
			Model:      tmpl.Model,
			Marker:     tmpl.Marker(),
			Configured: configured,
			StartedAt:  now().UTC(),
		},
		now: now,
	}
}

// Fold classifies r and adds it to the aggregate.
func (t *Tally) Fold(r *trial.Result) result.TrialRecord {
	outcome := t.c.Classify(r.Text, r.StopReason)
	rec := result.TrialRecord{
		Trial:        r.Index,
		Outcome:      outcome,
		StopReason:   r.StopReason,
		Text:         r.Text,
		TextLen:      len(r.Text),
		LatencyMS:    r.Latency.Milliseconds(),
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
	}

	t.s.Attempted++
	t.s.Usage.InputTokens += r.InputTokens
	t.s.Usage.OutputTokens += r.OutputTokens
	t.latencies = append(t.latencies, rec.LatencyMS)

	switch outcome {
	case result.OutcomeMarkerMismatch:
		t.s.Counts.MarkerMismatch++
		rec.Trailing = t.c.TrailingText(r.Text)
		rec.Response = r.Raw
		t.s.Anomalies = append(t.s.Anomalies, result.Anomaly{
			Trial:      r.Index,
			StopReason: r.StopReason,
			Text:       r.Text,
			Trailing:   rec.Trailing,
			Response:   r.Raw,
		})
	case result.OutcomeMarkerHonored:
		t.s.Counts.MarkerHonored++
	default:
		t.s.Counts.NoMarkerProduced++
	}
	return rec
}

// Fail records a trial that produced no classifiable response.
func (t *Tally) Fail(f *trial.Failure) result.TrialRecord {
	msg := "unknown failure"
	if f.Err != nil {
		msg = f.Err.Error()
	}
	t.s.Attempted++
	t.s.Failures++
	t.s.FailedTrials = append(t.s.FailedTrials, result.FailedTrial{
		Trial:      f.Index,
		StatusCode: f.StatusCode,
		Message:    msg,
	})
	return result.TrialRecord{
		Trial:      f.Index,
		Error:      msg,
		StatusCode: f.StatusCode,
	}
}

// Finalize returns a snapshot of the aggregate. Later folds do not affect it.
func (t *Tally) Finalize(interrupted bool) *result.Summary {
	s := t.s
	s.Anomalies = append([]result.Anomaly{}, t.s.Anomalies...)
	s.FailedTrials = append([]result.FailedTrial{}, t.s.FailedTrials...)
	s.MedianLatencyMS = median(t.latencies)
	s.Interrupted = interrupted
	s.FinishedAt = t.now().UTC()
	s.Reproduced = s.BugReproduced()
	return &s
}

func median(vals []int64) int64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]int64, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
