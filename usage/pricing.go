package usage

import (
	"sort"
	"strings"
)

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// DefaultPricing covers the models the providers default to.
var DefaultPricing = map[string]ModelPricing{
	"claude-3-5-haiku":   {Input: 0.80, Output: 4},
	"claude-haiku-4-5":   {Input: 1, Output: 5},
	"claude-sonnet-4":    {Input: 3, Output: 15},
	"claude-opus-4":      {Input: 15, Output: 75},
	"gpt-4o-mini":        {Input: 0.15, Output: 0.60},
	"gpt-4o":             {Input: 2.50, Output: 10},
	"gpt-4.1-mini":       {Input: 0.40, Output: 1.60},
	"gpt-4.1":            {Input: 2, Output: 8},
	"gemini-1.5-flash":   {Input: 0.075, Output: 0.30},
	"gemini-1.5-pro":     {Input: 1.25, Output: 5},
	"gemini-2.0-flash":   {Input: 0.10, Output: 0.40},
	"anthropic.claude-3": {Input: 3, Output: 15},
}

// Pricing resolves a model name to its prices by longest matching prefix.
type Pricing struct {
	prices   map[string]ModelPricing
	prefixes []string
}

// NewPricing merges overrides on top of DefaultPricing.
func NewPricing(overrides map[string]ModelPricing) *Pricing {
	prices := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		prices[k] = v
	}
	for k, v := range overrides {
		prices[k] = v
	}
	prefixes := make([]string, 0, len(prices))
	for k := range prices {
		prefixes = append(prefixes, k)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return &Pricing{prices: prices, prefixes: prefixes}
}

// Lookup returns the pricing for model and whether one was found.
func (p *Pricing) Lookup(model string) (ModelPricing, bool) {
	if price, ok := p.prices[model]; ok {
		return price, true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(model, prefix) {
			return p.prices[prefix], true
		}
	}
	return ModelPricing{}, false
}

// Cost returns the USD cost of the given token counts. Unknown models cost 0.
func (p *Pricing) Cost(model string, input, output int64) float64 {
	price, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return (float64(input)*price.Input + float64(output)*price.Output) / 1_000_000
}
