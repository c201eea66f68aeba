// Package runner drives a run: trials execute strictly one after another and
// each response is classified and folded before the next request is sent.
package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/signalnine/stopprobe/internal/classify"
	"github.com/signalnine/stopprobe/internal/result"
	"github.com/signalnine/stopprobe/internal/trial"
)

// ErrBugReproduced is returned by CheckSummary when at least one trial was a
// marker mismatch.
var ErrBugReproduced = errors.New("stop sequence bug reproduced")

// Executor performs one round-trip per call.
type Executor interface {
	Execute(ctx context.Context, t *trial.RequestTemplate, index int) (*trial.Result, error)
}

// Observer receives every trial record in trial order.
type Observer interface {
	ObserveTrial(rec *result.TrialRecord)
}

type ObserverFunc func(rec *result.TrialRecord)

func (f ObserverFunc) ObserveTrial(rec *result.TrialRecord) { f(rec) }

type RunOpts struct {
	Template  *trial.RequestTemplate
	Trials    int
	Executor  Executor
	Observers []Observer
	Logger    *zap.Logger
}

func (o *RunOpts) validate() error {
	if o.Template == nil {
		return errors.New("template is required")
	}
	if err := o.Template.Validate(); err != nil {
		return fmt.Errorf("template: %w", err)
	}
	if o.Trials < 1 {
		return fmt.Errorf("trials must be at least 1, got %d", o.Trials)
	}
	if o.Executor == nil {
		return errors.New("executor is required")
	}
	return nil
}

// Run executes the configured trials and returns the final summary. Failed
// trials are recorded and the run continues. When ctx is cancelled the run
// stops and the summary covers the trials completed so far.
func Run(ctx context.Context, opts *RunOpts) (*result.Summary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tally := classify.NewTally(opts.Template, opts.Trials)
	interrupted := false

	for i := 1; i <= opts.Trials; i++ {
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		r, err := opts.Executor.Execute(ctx, opts.Template, i)
		var rec result.TrialRecord
		if err != nil {
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			f := trial.AsFailure(i, err)
			rec = tally.Fail(f)
			logger.Warn("trial failed",
				zap.Int("trial", i),
				zap.Int("status", f.StatusCode),
				zap.String("body", f.Body),
				zap.Error(f))
		} else {
			rec = tally.Fold(r)
			logger.Info("trial",
				zap.Int("trial", rec.Trial),
				zap.String("outcome", string(rec.Outcome)),
				zap.String("stop_reason", rec.StopReason),
				zap.Int("text_len", rec.TextLen),
				zap.Int64("latency_ms", rec.LatencyMS),
				zap.Int("input_tokens", rec.InputTokens),
				zap.Int("output_tokens", rec.OutputTokens))
			if rec.Outcome == result.OutcomeMarkerMismatch {
				logger.Warn("marker mismatch",
					zap.Int("trial", rec.Trial),
					zap.String("stop_reason", rec.StopReason),
					zap.String("trailing", rec.Trailing))
			}
		}

		for _, o := range opts.Observers {
			o.ObserveTrial(&rec)
		}
	}

	s := tally.Finalize(interrupted)
	logger.Info("run finished",
		zap.String("run_id", s.RunID),
		zap.Int("attempted", s.Attempted),
		zap.Int("marker_mismatch", s.Counts.MarkerMismatch),
		zap.Int("marker_honored", s.Counts.MarkerHonored),
		zap.Int("no_marker_produced", s.Counts.NoMarkerProduced),
		zap.Int("failures", s.Failures),
		zap.Bool("interrupted", s.Interrupted))
	return s, nil
}

// CheckSummary returns ErrBugReproduced, wrapped with the counts, when the
// summary contains a marker mismatch.
func CheckSummary(s *result.Summary) error {
	if !s.BugReproduced() {
		return nil
	}
	return fmt.Errorf("%w in %d/%d trials", ErrBugReproduced, s.Counts.MarkerMismatch, s.Attempted)
}
