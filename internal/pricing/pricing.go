// Package pricing estimates the dollar cost of llm-service token usage
// from the pricing section of config/models.yaml.
package pricing

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
)

// fallbackPer1K applies when neither the model nor the file defaults
// carry a price.
const fallbackPer1K = 0.002

type modelPrice struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

type file struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		// provider -> model -> price
		Models map[string]map[string]modelPrice `yaml:"models"`
	} `yaml:"pricing"`
}

// Table is an immutable price list.
type Table struct {
	defaultPer1K float64
	models       map[string]modelPrice
}

// Default returns a table with no model entries.
func Default() *Table {
	return &Table{defaultPer1K: fallbackPer1K, models: map[string]modelPrice{}}
}

// Load reads a models.yaml file. A missing file yields Default().
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from models.yaml content.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing config: %w", err)
	}
	if f.Pricing.Defaults.CombinedPer1K < 0 {
		return nil, errors.New("pricing.defaults.combined_per_1k must be >= 0")
	}

	t := Default()
	if f.Pricing.Defaults.CombinedPer1K > 0 {
		t.defaultPer1K = f.Pricing.Defaults.CombinedPer1K
	}
	for provider, models := range f.Pricing.Models {
		for name, p := range models {
			if p.InputPer1K < 0 || p.OutputPer1K < 0 || p.CombinedPer1K < 0 {
				return nil, fmt.Errorf("negative price for %s:%s", provider, name)
			}
			t.models[name] = p
		}
	}
	return t, nil
}

// DefaultPerToken returns the combined default price per token.
func (t *Table) DefaultPerToken() float64 {
	return t.defaultPer1K / 1000.0
}

// PricePerTokenForModel returns the combined price per token for model.
// When only input/output prices exist, their average is used.
func (t *Table) PricePerTokenForModel(model string) (float64, bool) {
	m, ok := t.models[model]
	if !ok || model == "" {
		return 0, false
	}
	if m.CombinedPer1K > 0 {
		return m.CombinedPer1K / 1000.0, true
	}
	if m.InputPer1K > 0 && m.OutputPer1K > 0 {
		return ((m.InputPer1K + m.OutputPer1K) / 2.0) / 1000.0, true
	}
	return 0, false
}

// CostForTokens returns the USD cost of tokens billed to model, falling
// back to the default price for unknown or missing models.
func (t *Table) CostForTokens(model string, tokens int) float64 {
	if tokens < 0 {
		tokens = 0
	}
	if price, ok := t.PricePerTokenForModel(model); ok {
		return float64(tokens) * price
	}
	recordFallback(model)
	return float64(tokens) * t.DefaultPerToken()
}

func recordFallback(model string) {
	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
}
