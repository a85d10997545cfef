package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Gemini: map[string]ModelRate{
			"gemini-1.5-flash":    {Input: 0.075, Output: 0.30},
			"gemini-1.5-flash-8b": {Input: 0.0375, Output: 0.15},
			"gemini-1.5-pro":      {Input: 1.25, Output: 5.00},
		},
	}
}

func TestGemini(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{
			name: "flash simple", model: "gemini-1.5-flash",
			input: 1000000, output: 100000,
			want: 0.075 + 0.03,
		},
		{
			name: "pro simple", model: "gemini-1.5-pro",
			input: 2000000, output: 1000000,
			want: 2.50 + 5.00,
		},
		{
			name: "versioned suffix matches prefix", model: "gemini-1.5-flash-002",
			input: 1000000, output: 0,
			want: 0.075,
		},
		{
			name: "longest prefix wins", model: "gemini-1.5-flash-8b-001",
			input: 1000000, output: 1000000,
			want: 0.0375 + 0.15,
		},
		{
			name: "models prefix ignored", model: "models/gemini-1.5-pro",
			input: 1000000, output: 0,
			want: 1.25,
		},
		{
			name: "unknown model", model: "gemma-3-27b-it",
			input: 1000000, output: 1000000,
			want: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Gemini(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestNewCalculator_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{})

	rate, ok := calc.Rate("gemini-2.0-flash-001")
	assert.True(t, ok)
	assert.InDelta(t, 0.10, rate.Input, 1e-9)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	for _, model := range []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro"} {
		r, ok := rates.Gemini[model]
		assert.True(t, ok, "missing rate for %s", model)
		assert.Greater(t, r.Output, r.Input, model)
	}
}

func TestRate_DashedConfigKey(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{Gemini: map[string]ModelRate{
		"gemini-1-5-flash": {Input: 1, Output: 2},
	}})

	rate, ok := calc.Rate("models/gemini-1.5-flash-002")
	assert.True(t, ok)
	assert.InDelta(t, 2.0, rate.Output, 1e-9)

	_, ok = calc.Rate("gemini-1.5-pro")
	assert.False(t, ok)
}
