package report_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/stopprobe/internal/report"
	"github.com/signalnine/stopprobe/internal/result"
)

func bugSummary() *result.Summary {
	return &result.Summary{
		RunID:      "0199a1b2-0000-7000-8000-000000000001",
		Model:      "claude-haiku-4-5-20251001",
		Marker:     "</function_calls>",
		Configured: 10,
		Attempted:  10,
		Counts:     result.Counts{MarkerMismatch: 2, MarkerHonored: 7, NoMarkerProduced: 0},
		Failures:   1,
		Anomalies: []result.Anomaly{
			{Trial: 3, StopReason: "end_turn", Trailing: "\n\nThe result is 8."},
			{Trial: 8, StopReason: "max_tokens", Trailing: " | tail"},
		},
		FailedTrials:    []result.FailedTrial{{Trial: 5, StatusCode: 529, Message: "API returned 529 (overloaded_error): Overloaded"}},
		Usage:           result.Usage{InputTokens: 1200, OutputTokens: 450},
		MedianLatencyMS: 812,
		Reproduced:      true,
	}
}

func cleanSummary() *result.Summary {
	return &result.Summary{
		RunID:      "0199a1b2-0000-7000-8000-000000000002",
		Model:      "claude-haiku-4-5-20251001",
		Marker:     "</function_calls>",
		Configured: 10,
		Attempted:  10,
		Counts:     result.Counts{MarkerHonored: 6, NoMarkerProduced: 4},
	}
}

func TestMarkdownGolden(t *testing.T) {
	g := goldie.New(t)

	var buf bytes.Buffer
	require.NoError(t, report.Generate(bugSummary(), "markdown", &buf))
	g.Assert(t, "summary_markdown", buf.Bytes())

	buf.Reset()
	require.NoError(t, report.Generate(cleanSummary(), "markdown", &buf))
	g.Assert(t, "clean_markdown", buf.Bytes())
}

func TestGenerateTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Generate(bugSummary(), "table", &buf))
	out := buf.String()

	assert.Contains(t, out, "=== Summary ===")
	for _, want := range []string{"Bug reproduced", "Working correctly", "No stop sequence output", "Failed"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "2/10")
	assert.Contains(t, out, "7/10")
	assert.Contains(t, out, "1/10")
	assert.Contains(t, out, "Tokens: 1200 in / 450 out")
	assert.Contains(t, out, "Median latency: 812ms")
	assert.Contains(t, out, `"\n\nThe result is 8."`)
	assert.Contains(t, out, "5: API returned 529")
	assert.True(t, strings.HasSuffix(out, "Bug reproduced: yes\n"))
	assert.NotContains(t, out, "Est. cost")
}

func TestGenerateTableCostAndInterrupt(t *testing.T) {
	s := cleanSummary()
	s.EstimatedCostUSD = 0.0123
	s.Interrupted = true
	s.Attempted = 4
	s.Counts = result.Counts{MarkerHonored: 4}

	var buf bytes.Buffer
	require.NoError(t, report.Generate(s, "", &buf))
	assert.Contains(t, buf.String(), "Est. cost: $0.0123")
	assert.Contains(t, buf.String(), "Interrupted after 4 of 10 trials")
	assert.Contains(t, buf.String(), "Bug reproduced: no")
}

func TestGenerateJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Generate(bugSummary(), "json", &buf))

	var got result.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 2, got.Counts.MarkerMismatch)
	assert.True(t, got.Reproduced)
	assert.Len(t, got.Anomalies, 2)
}

func TestGenerateUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, report.Generate(cleanSummary(), "csv", &buf))
}

func TestRowsSumToAttempted(t *testing.T) {
	for _, s := range []*result.Summary{bugSummary(), cleanSummary()} {
		total := 0
		for _, r := range report.Rows(s) {
			total += r.Count
		}
		assert.Equal(t, s.Attempted, total)
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"", "table", "markdown", "json"} {
		assert.NoError(t, report.ValidFormat(f), f)
	}
	assert.Error(t, report.ValidFormat("yaml"))
}

func TestMarkdownMarkerWithBackticks(t *testing.T) {
	s := bugSummary()
	s.Marker = "``end`"
	s.Anomalies = []result.Anomaly{{Trial: 1, StopReason: "end_turn", Trailing: "see `x`"}}

	var buf bytes.Buffer
	require.NoError(t, report.Generate(s, "markdown", &buf))
	out := buf.String()
	assert.Contains(t, out, "Marker: ``` ``end` ``` |")
	assert.Contains(t, out, "| 1 | end_turn | `` \"see `x`\" `` |")
}
