// Package anthropic executes trials against the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/signalnine/stopprobe/internal/trial"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultVersion = "2023-06-01"

	// maxResponseSize bounds the body read from the service.
	maxResponseSize = 10 * 1024 * 1024

	// maxFailureBody bounds the body kept on a Failure.
	maxFailureBody = 4096
)

// ErrMissingAPIKey is returned by NewClient when no credential is supplied.
var ErrMissingAPIKey = errors.New("anthropic API key is required")

// Client sends one Messages request per Execute call. It never retries.
type Client struct {
	baseURL    string
	apiKey     string
	version    string
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

func WithVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.version = v
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout bounds each request. The timeout is set on a copy, so a shared
// http.Client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		version:    DefaultVersion,
		httpClient: &http.Client{Timeout: 180 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// URL returns the messages endpoint.
func (c *Client) URL() string {
	return strings.TrimSuffix(c.baseURL, "/") + "/v1/messages"
}

type messagesRequest struct {
	Model         string       `json:"model"`
	MaxTokens     int          `json:"max_tokens"`
	StopSequences []string     `json:"stop_sequences"`
	System        string       `json:"system,omitempty"`
	Messages      []trial.Turn `json:"messages"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// BuildRequestBody serializes the template into the Messages request shape.
func BuildRequestBody(t *trial.RequestTemplate) ([]byte, error) {
	return json.Marshal(messagesRequest{
		Model:         t.Model,
		MaxTokens:     t.MaxTokens,
		StopSequences: t.StopSequences,
		System:        t.System,
		Messages:      t.Turns,
	})
}

// Execute performs exactly one round-trip for trial index. Every failure is
// returned as a *trial.Failure.
func (c *Client) Execute(ctx context.Context, t *trial.RequestTemplate, index int) (*trial.Result, error) {
	if err := t.Validate(); err != nil {
		return nil, &trial.Failure{Index: index, Err: fmt.Errorf("invalid template: %w", err)}
	}
	body, err := BuildRequestBody(t)
	if err != nil {
		return nil, &trial.Failure{Index: index, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, &trial.Failure{Index: index, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &trial.Failure{Index: index, Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	latency := c.now().Sub(start)
	if err != nil {
		return nil, &trial.Failure{Index: index, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &trial.Failure{
			Index:      index,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxFailureBody),
			Err:        apiError(resp.StatusCode, raw),
		}
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return nil, &trial.Failure{
			Index:      index,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxFailureBody),
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	r := &trial.Result{
		Index:        index,
		ResponseID:   mr.ID,
		Model:        mr.Model,
		StopReason:   mr.StopReason,
		InputTokens:  mr.Usage.InputTokens,
		OutputTokens: mr.Usage.OutputTokens,
		Latency:      latency,
		Raw:          json.RawMessage(raw),
	}
	if len(mr.Content) > 0 {
		r.Text = mr.Content[0].Text
	}
	if mr.StopSequence != nil {
		r.StopSequence = *mr.StopSequence
	}
	return r, nil
}

func apiError(status int, raw []byte) error {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error.Message != "" {
		return fmt.Errorf("API returned %d (%s): %s", status, er.Error.Type, er.Error.Message)
	}
	return fmt.Errorf("API returned %d", status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
