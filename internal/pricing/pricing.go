// Package pricing estimates what a run cost from a per-model price table.
package pricing

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/stopprobe/internal/result"
)

// ModelPricing holds USD prices per 1K tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type Table struct {
	Providers map[string]map[string]ModelPricing
}

// dateSuffix matches snapshot suffixes such as "-20251001".
var dateSuffix = regexp.MustCompile(`-\d{8}$`)

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Providers: providers}, nil
}

// Lookup finds the price for model, falling back to the model id without its
// snapshot date.
func (t *Table) Lookup(provider, model string) (ModelPricing, bool) {
	models, ok := t.Providers[provider]
	if !ok {
		return ModelPricing{}, false
	}
	if p, ok := models[model]; ok {
		return p, true
	}
	p, ok := models[dateSuffix.ReplaceAllString(model, "")]
	return p, ok
}

func (t *Table) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	p, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000.0)*p.Input + (float64(outputTokens)/1000.0)*p.Output
}

// EstimateRun prices the token usage of a run summary.
func (t *Table) EstimateRun(provider string, s *result.Summary) float64 {
	return t.Cost(provider, s.Model, s.Usage.InputTokens, s.Usage.OutputTokens)
}
