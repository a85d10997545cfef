package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/topic-cli/internal/resolver"
)

func TestFormatModels(t *testing.T) {
	models := capableModels()
	ranked, err := resolver.Select(models)
	require.NoError(t, err)

	var buf bytes.Buffer
	formatModels(&buf, models, ranked, "")
	out := buf.String()

	assert.Contains(t, out, "MODEL")
	assert.Regexp(t, `\*\s+gemini-1\.5-flash\s+Gemini 1\.5 Flash\s+1`, out)
	assert.Regexp(t, `gemini-1\.5-pro\s+Gemini 1\.5 Pro\s+2`, out)
	assert.Regexp(t, `embedding-001\s+Embedding 001\s+-`, out)
	assert.Contains(t, out, "Working model: gemini-1.5-flash (2 eligible of 3)")
}

func TestFormatModels_Pinned(t *testing.T) {
	models := capableModels()
	ranked, _ := resolver.Select(models)

	var buf bytes.Buffer
	formatModels(&buf, models, ranked, "models/gemini-1.5-pro")
	out := buf.String()

	assert.Regexp(t, `\*\s+gemini-1\.5-pro`, out)
	assert.NotRegexp(t, `\*\s+gemini-1\.5-flash`, out)
	assert.Contains(t, out, "pinned by config: models/gemini-1.5-pro")
}

func TestFormatModels_NoneEligible(t *testing.T) {
	models := capableModels()[1:2]
	ranked, err := resolver.Select(models)
	assert.ErrorIs(t, err, resolver.ErrNoCapableModel)

	var buf bytes.Buffer
	formatModels(&buf, models, ranked, "")
	assert.Contains(t, buf.String(), "No model supports generateContent")
}
