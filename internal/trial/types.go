// Package trial defines the request template sent on every trial and the
// values a single round-trip produces.
package trial

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Turn is one conversation message in the request.
type Turn struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// RequestTemplate is the fixed request reused identically across all trials.
type RequestTemplate struct {
	Model         string   `json:"model"`
	MaxTokens     int      `json:"max_tokens"`
	StopSequences []string `json:"stop_sequences"`
	System        string   `json:"system,omitempty"`
	Turns         []Turn   `json:"messages"`
}

// Marker returns the stop sequence whose presence is checked in output.
func (t *RequestTemplate) Marker() string {
	if len(t.StopSequences) == 0 {
		return ""
	}
	return t.StopSequences[0]
}

func (t *RequestTemplate) Validate() error {
	if t.Model == "" {
		return errors.New("model is required")
	}
	if t.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", t.MaxTokens)
	}
	if len(t.StopSequences) == 0 {
		return errors.New("at least one stop sequence is required")
	}
	for i, s := range t.StopSequences {
		if s == "" {
			return fmt.Errorf("stop sequence %d is empty", i)
		}
	}
	if len(t.Turns) == 0 {
		return errors.New("at least one message is required")
	}
	for i, m := range t.Turns {
		if m.Role == "" {
			return fmt.Errorf("message %d: role is required", i)
		}
		if m.Content == "" {
			return fmt.Errorf("message %d: content is required", i)
		}
	}
	return nil
}

// Result is one successful round-trip.
type Result struct {
	Index        int
	ResponseID   string
	Model        string
	Text         string
	StopReason   string
	StopSequence string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Raw          json.RawMessage
}

// Failure is returned by an executor when a trial could not produce a
// decodable response. StatusCode is zero when no HTTP response arrived.
type Failure struct {
	Index      int
	StatusCode int
	Body       string
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("trial %d: status %d: %v", f.Index, f.StatusCode, f.Err)
	}
	return fmt.Sprintf("trial %d: %v", f.Index, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure converts any executor error into a *Failure for the given trial.
func AsFailure(index int, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Index: index, Err: err}
}
