// Package cost estimates the spend of model calls from reported token usage.
package cost

import "strings"

// Rates holds per-model pricing configuration.
type Rates struct {
	Gemini map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. A nil or empty
// rate table falls back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	if len(rates.Gemini) == 0 {
		rates = DefaultRates()
	}
	return &Calculator{rates: rates}
}

// Rate returns the pricing for model. Keys match as prefixes of the model ID
// and the longest match wins, so "gemini-1.5-flash" also prices
// "gemini-1.5-flash-002". Dots and dashes are interchangeable, so a config
// key written as "gemini-1-5-flash" prices "gemini-1.5-flash".
func (c *Calculator) Rate(model string) (ModelRate, bool) {
	model = canonical(strings.TrimPrefix(model, "models/"))
	var best string
	for key := range c.rates.Gemini {
		if strings.HasPrefix(model, canonical(key)) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Gemini[best], true
}

// Gemini computes the cost of one generateContent call. Unknown models cost 0.
func (c *Calculator) Gemini(model string, input, output int) float64 {
	rate, ok := c.Rate(model)
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	return inCost + outCost
}

func canonical(id string) string {
	return strings.ReplaceAll(id, ".", "-")
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Gemini: map[string]ModelRate{
			"gemini-1.5-flash": {Input: 0.075, Output: 0.30},
			"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},
			"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		},
	}
}
