package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/topic-cli/internal/config"
	"github.com/sells-group/topic-cli/internal/pipeline"
	"github.com/sells-group/topic-cli/pkg/gemini"
	geminimocks "github.com/sells-group/topic-cli/pkg/gemini/mocks"
)

const testKey = "test-key"

// testConfig mirrors the loaded defaults with retries and waits turned down.
func testConfig() *config.Config {
	c := &config.Config{}
	c.Gemini.Key = testKey
	c.Gemini.BaseURL = "http://127.0.0.1:0"
	c.Gemini.TextTimeoutSecs = 30
	c.Gemini.ImageTimeoutSecs = 60
	c.Gemini.MaxModelFallbacks = 1
	c.Gemini.Retry = config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 2}
	c.Pipeline.MinBlockRunes = 5
	c.Server.Port = 8080
	c.Server.MaxBodyMB = 1
	c.Log = config.LogConfig{Level: "error", Format: "json"}
	return c
}

func capableModels() []gemini.Model {
	return []gemini.Model{
		{Name: "models/gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", SupportedGenerationMethods: []string{gemini.MethodGenerateContent}},
		{Name: "models/embedding-001", DisplayName: "Embedding 001", SupportedGenerationMethods: []string{"embedContent"}},
		{Name: "models/gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro", SupportedGenerationMethods: []string{gemini.MethodGenerateContent}},
	}
}

func isDecompose(req gemini.GenerateRequest) bool {
	return strings.Contains(req.Prompt, pipeline.Delimiter)
}

func reply(text string) *gemini.GenerateResponse {
	return &gemini.GenerateResponse{
		Model: "gemini-1.5-flash",
		Text:  text,
		Usage: gemini.Usage{PromptTokens: 10, CandidateTokens: 5, TotalTokens: 15},
	}
}

// happyClient answers every decompose and generate call successfully.
func happyClient(t *testing.T) *geminimocks.MockClient {
	client := geminimocks.NewMockClient(t)
	client.On("ListModels", mock.Anything, mock.Anything).Return(capableModels(), nil).Maybe()
	client.On("GenerateContent", mock.Anything, mock.Anything, mock.MatchedBy(isDecompose)).
		Return(reply("标题A|||人设B|||选题C|||公式D"), nil).Maybe()
	client.On("GenerateContent", mock.Anything, mock.Anything, mock.MatchedBy(func(req gemini.GenerateRequest) bool {
		return !isDecompose(req)
	})).Return(reply("1. 标题一\n2. 标题二"), nil).Maybe()
	return client
}

func newTestSession(t *testing.T, client gemini.Client) *pipeline.Session {
	t.Helper()
	p, err := buildPipeline(testConfig(), client)
	require.NoError(t, err)
	return pipeline.NewSession(p)
}
