package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/stopprobe/internal/trial"
)

const (
	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultMarker    = "</function_calls>"
	DefaultMaxTokens = 500
	DefaultTrials    = 10
	DefaultKeyEnv    = "ANTHROPIC_API_KEY"

	DefaultSystem = `You have access to a tool called "add". When asked to add numbers, you MUST output:
<function_calls>
<invoke name="add">
<parameter name="a">first_number</parameter>
<parameter name="b">second_number</parameter>
</invoke>
</function_calls>

After outputting the function call, wait for the result.`

	DefaultPrompt = "Please add 5 and 3."
)

type Config struct {
	Trials   int      `yaml:"trials"`
	Template Template `yaml:"template"`
	API      API      `yaml:"api"`
	Secrets  Secrets  `yaml:"secrets"`
	Results  Results  `yaml:"results"`
	Pricing  Pricing  `yaml:"pricing"`
	Metrics  Metrics  `yaml:"metrics"`
	Publish  Publish  `yaml:"publish"`
}

type Template struct {
	Model         string       `yaml:"model"`
	MaxTokens     int          `yaml:"max_tokens"`
	StopSequences []string     `yaml:"stop_sequences"`
	System        string       `yaml:"system"`
	Messages      []trial.Turn `yaml:"messages"`
}

type API struct {
	BaseURL        string `yaml:"base_url"`
	Version        string `yaml:"version"`
	KeyEnv         string `yaml:"key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Pricing struct {
	File     string `yaml:"file"`
	Provider string `yaml:"provider"`
}

type Metrics struct {
	File string `yaml:"file"`
}

type Publish struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Error marks a fatal problem found before any trial runs.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var ErrMissingCredential = errors.New("API credential not set")

// Default returns the configuration of the stop sequence reproduction.
func Default() *Config {
	return &Config{
		Trials: DefaultTrials,
		Template: Template{
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			StopSequences: []string{DefaultMarker},
			System:        DefaultSystem,
			Messages:      []trial.Turn{{Role: "user", Content: DefaultPrompt}},
		},
		API: API{
			KeyEnv:         DefaultKeyEnv,
			TimeoutSeconds: 180,
		},
		Results: Results{Dir: "results"},
		Pricing: Pricing{Provider: "anthropic"},
		Publish: Publish{Subject: "stopprobe.summary"},
	}
}

// Load overlays the YAML file at path on Default and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("reading: %w", err)}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("parsing: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Trials < 1 {
		return fmt.Errorf("trials must be at least 1")
	}
	if err := c.RequestTemplate().Validate(); err != nil {
		return fmt.Errorf("template: %w", err)
	}
	if c.API.TimeoutSeconds < 0 {
		return fmt.Errorf("api.timeout_seconds must not be negative")
	}
	if c.API.KeyEnv == "" {
		c.API.KeyEnv = DefaultKeyEnv
	}
	if c.Pricing.Provider == "" {
		c.Pricing.Provider = "anthropic"
	}
	return nil
}

// RequestTemplate returns a fresh template that shares no memory with c.
func (c *Config) RequestTemplate() *trial.RequestTemplate {
	return &trial.RequestTemplate{
		Model:         c.Template.Model,
		MaxTokens:     c.Template.MaxTokens,
		StopSequences: append([]string(nil), c.Template.StopSequences...),
		System:        c.Template.System,
		Turns:         append([]trial.Turn(nil), c.Template.Messages...),
	}
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// ResolveAPIKey reads the credential from the environment, then from the
// secrets env file. A missing credential is a fatal *Error.
func (c *Config) ResolveAPIKey(getenv func(string) string) (string, error) {
	if v := getenv(c.API.KeyEnv); v != "" {
		return v, nil
	}
	if c.Secrets.EnvFile != "" {
		secrets, err := ParseEnvFile(c.Secrets.EnvFile)
		if err != nil {
			return "", &Error{Path: c.Secrets.EnvFile, Err: fmt.Errorf("reading secrets: %w", err)}
		}
		if v := secrets[c.API.KeyEnv]; v != "" {
			return v, nil
		}
	}
	return "", &Error{Err: fmt.Errorf("%w: set %s", ErrMissingCredential, c.API.KeyEnv)}
}
