package result

import (
	"encoding/json"
	"time"
)

type Outcome string

const (
	// OutcomeMarkerMismatch means the marker is in the text but the service
	// did not report a stop-sequence termination. This is the bug.
	OutcomeMarkerMismatch Outcome = "marker_mismatch"
	OutcomeMarkerHonored  Outcome = "marker_honored"
	OutcomeNoMarker       Outcome = "no_marker_produced"
)

func (o Outcome) Label() string {
	switch o {
	case OutcomeMarkerMismatch:
		return "bug reproduced"
	case OutcomeMarkerHonored:
		return "working correctly"
	case OutcomeNoMarker:
		return "no stop sequence output"
	default:
		return string(o)
	}
}

// TrialRecord is the structured record emitted once per trial. Exactly one
// of Outcome and Error is set.
type TrialRecord struct {
	Trial        int             `json:"trial"`
	Outcome      Outcome         `json:"outcome,omitempty"`
	Error        string          `json:"error,omitempty"`
	StatusCode   int             `json:"status_code,omitempty"`
	StopReason   string          `json:"stop_reason,omitempty"`
	Text         string          `json:"text,omitempty"`
	TextLen      int             `json:"text_len"`
	Trailing     string          `json:"trailing,omitempty"`
	LatencyMS    int64           `json:"latency_ms"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
}

func (r *TrialRecord) Failed() bool {
	return r.Error != ""
}

type Counts struct {
	MarkerMismatch   int `json:"marker_mismatch"`
	MarkerHonored    int `json:"marker_honored"`
	NoMarkerProduced int `json:"no_marker_produced"`
}

func (c Counts) Total() int {
	return c.MarkerMismatch + c.MarkerHonored + c.NoMarkerProduced
}

// Anomaly is a marker-mismatch trial kept for inspection.
type Anomaly struct {
	Trial      int             `json:"trial"`
	StopReason string          `json:"stop_reason"`
	Text       string          `json:"text"`
	Trailing   string          `json:"trailing"`
	Response   json.RawMessage `json:"response,omitempty"`
}

type FailedTrial struct {
	Trial      int    `json:"trial"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Summary struct {
	RunID            string        `json:"run_id"`
	Model            string        `json:"model"`
	Marker           string        `json:"marker"`
	Configured       int           `json:"configured_trials"`
	Attempted        int           `json:"attempted_trials"`
	Counts           Counts        `json:"counts"`
	Failures         int           `json:"failures"`
	Anomalies        []Anomaly     `json:"anomalies"`
	FailedTrials     []FailedTrial `json:"failed_trials"`
	Usage            Usage         `json:"usage"`
	MedianLatencyMS  int64         `json:"median_latency_ms"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd,omitempty"`
	Interrupted      bool          `json:"interrupted"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Reproduced       bool          `json:"bug_reproduced"`
}

// BugReproduced reports whether any trial was a marker mismatch.
func (s *Summary) BugReproduced() bool {
	return s.Counts.MarkerMismatch > 0
}

// Classified is the number of trials that completed and received an outcome.
func (s *Summary) Classified() int {
	return s.Counts.Total()
}
