package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/signalnine/stopprobe/internal/result"
	"github.com/signalnine/stopprobe/internal/runner"
	"github.com/signalnine/stopprobe/internal/trial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var tmpl = &trial.RequestTemplate{
	Model:         "claude-haiku-4-5-20251001",
	MaxTokens:     500,
	StopSequences: []string{"</stop>"},
	Turns:         []trial.Turn{{Role: "user", Content: "Please add 5 and 3."}},
}

// scriptedExecutor answers trial i with step(i).
type scriptedExecutor struct {
	calls []int
	step  func(i int) (*trial.Result, error)
}

func (e *scriptedExecutor) Execute(_ context.Context, _ *trial.RequestTemplate, i int) (*trial.Result, error) {
	e.calls = append(e.calls, i)
	return e.step(i)
}

func scenarioA(i int) *trial.Result {
	return &trial.Result{Index: i, Text: "5+3=8</stop>", StopReason: "stop_sequence"}
}

func scenarioB(i int) *trial.Result {
	return &trial.Result{Index: i, Text: "5+3=8</stop> extra", StopReason: "max_tokens"}
}

func scenarioC(i int) *trial.Result {
	return &trial.Result{Index: i, Text: "The answer is 8.", StopReason: "end_turn"}
}

func collect(recs *[]result.TrialRecord) runner.Observer {
	return runner.ObserverFunc(func(rec *result.TrialRecord) {
		*recs = append(*recs, *rec)
	})
}

func TestRunScenarioD(t *testing.T) {
	exec := &scriptedExecutor{step: func(i int) (*trial.Result, error) {
		if i == 2 || i == 9 {
			return scenarioB(i), nil
		}
		return scenarioA(i), nil
	}}
	var recs []result.TrialRecord

	s, err := runner.Run(context.Background(), &runner.RunOpts{
		Template:  tmpl,
		Trials:    10,
		Executor:  exec,
		Observers: []runner.Observer{collect(&recs)},
	})
	require.NoError(t, err)

	assert.Equal(t, result.Counts{MarkerMismatch: 2, MarkerHonored: 8}, s.Counts)
	assert.True(t, s.BugReproduced())
	assert.False(t, s.Interrupted)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, exec.calls)
	require.Len(t, recs, 10)
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.Trial, "records arrive in trial order")
	}
	assert.Equal(t, " extra", recs[1].Trailing)

	err = runner.CheckSummary(s)
	assert.ErrorIs(t, err, runner.ErrBugReproduced)
	assert.Contains(t, err.Error(), "2/10")
}

func TestRunFailureIsolation(t *testing.T) {
	exec := &scriptedExecutor{step: func(i int) (*trial.Result, error) {
		switch {
		case i == 4:
			return nil, &trial.Failure{Index: i, StatusCode: 529, Err: errors.New("overloaded")}
		case i%3 == 0:
			return scenarioC(i), nil
		default:
			return scenarioA(i), nil
		}
	}}

	s, err := runner.Run(context.Background(), &runner.RunOpts{Template: tmpl, Trials: 10, Executor: exec})
	require.NoError(t, err)

	assert.Len(t, exec.calls, 10, "trials after the failure still run")
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 9, s.Classified())
	assert.Equal(t, 10, s.Classified()+s.Failures)
	assert.Equal(t, 3, s.Counts.NoMarkerProduced)
	assert.Equal(t, 6, s.Counts.MarkerHonored)
	assert.NoError(t, runner.CheckSummary(s))
}

func TestRunPlainErrorCountsAsFailure(t *testing.T) {
	exec := &scriptedExecutor{step: func(i int) (*trial.Result, error) {
		if i == 1 {
			return nil, errors.New("boom")
		}
		return scenarioA(i), nil
	}}
	var recs []result.TrialRecord
	s, err := runner.Run(context.Background(), &runner.RunOpts{
		Template: tmpl, Trials: 2, Executor: exec, Observers: []runner.Observer{collect(&recs)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Failures)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Failed())
	assert.Equal(t, "boom", recs[0].Error)
}

func TestRunCancelledYieldsPartialSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &scriptedExecutor{step: func(i int) (*trial.Result, error) {
		if i == 3 {
			cancel()
			return nil, context.Canceled
		}
		return scenarioA(i), nil
	}}

	s, err := runner.Run(ctx, &runner.RunOpts{Template: tmpl, Trials: 10, Executor: exec})
	require.NoError(t, err)
	assert.True(t, s.Interrupted)
	assert.Equal(t, 2, s.Attempted)
	assert.Equal(t, 2, s.Counts.MarkerHonored)
	assert.Equal(t, 0, s.Failures)
	assert.Equal(t, 10, s.Configured)
}

func TestRunEmitsStructuredRecords(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	exec := &scriptedExecutor{step: func(i int) (*trial.Result, error) {
		if i == 2 {
			return scenarioB(i), nil
		}
		return scenarioA(i), nil
	}}

	_, err := runner.Run(context.Background(), &runner.RunOpts{
		Template: tmpl, Trials: 2, Executor: exec, Logger: zap.New(core),
	})
	require.NoError(t, err)

	trials := logs.FilterMessage("trial").All()
	require.Len(t, trials, 2)
	assert.Equal(t, "marker_honored", trials[0].ContextMap()["outcome"])
	assert.Equal(t, "marker_mismatch", trials[1].ContextMap()["outcome"])
	assert.Equal(t, 1, logs.FilterMessage("marker mismatch").Len())
	assert.Equal(t, 1, logs.FilterMessage("run finished").Len())
}

func TestRunValidatesOptions(t *testing.T) {
	exec := &scriptedExecutor{step: func(i int) (*trial.Result, error) { return scenarioA(i), nil }}
	bad := *tmpl
	bad.StopSequences = nil

	tests := []struct {
		name string
		opts *runner.RunOpts
	}{
		{"no template", &runner.RunOpts{Trials: 1, Executor: exec}},
		{"invalid template", &runner.RunOpts{Template: &bad, Trials: 1, Executor: exec}},
		{"zero trials", &runner.RunOpts{Template: tmpl, Trials: 0, Executor: exec}},
		{"no executor", &runner.RunOpts{Template: tmpl, Trials: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), tt.opts)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, exec.calls)
}
