package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/topic-cli/internal/cost"
	"github.com/sells-group/topic-cli/internal/model"
	"github.com/sells-group/topic-cli/internal/normalize"
	"github.com/sells-group/topic-cli/internal/resilience"
	"github.com/sells-group/topic-cli/internal/resolver"
	"github.com/sells-group/topic-cli/pkg/gemini"
	geminimocks "github.com/sells-group/topic-cli/pkg/gemini/mocks"
)

const testKey = "test-key"

func capable(name string) gemini.Model {
	return gemini.Model{Name: name, SupportedGenerationMethods: []string{gemini.MethodGenerateContent}}
}

func defaultModels() []gemini.Model {
	return []gemini.Model{
		capable("models/gemini-1.5-flash"),
		{Name: "models/embedding-001", SupportedGenerationMethods: []string{"embedContent"}},
		capable("models/gemini-1.5-pro"),
	}
}

func newTestPipeline(t *testing.T, client gemini.Client, opts Options) *Pipeline {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.RetryConfig{MaxAttempts: 1}
	}
	opts.Retry.InitialBackoff = time.Millisecond
	opts.Retry.MaxBackoff = 2 * time.Millisecond
	return New(client, resolver.New(client), normalize.Default(), DefaultPrompts(), cost.NewCalculator(cost.DefaultRates()), opts)
}

func isDecompose(req gemini.GenerateRequest) bool {
	return strings.Contains(req.Prompt, Delimiter)
}

func decomposeFor(text string) interface{} {
	return mock.MatchedBy(func(req gemini.GenerateRequest) bool {
		return isDecompose(req) && strings.Contains(req.Prompt, text)
	})
}

func anyDecompose() interface{} {
	return mock.MatchedBy(isDecompose)
}

func anyGenerate() interface{} {
	return mock.MatchedBy(func(req gemini.GenerateRequest) bool { return !isDecompose(req) })
}

func reply(text string) *gemini.GenerateResponse {
	return &gemini.GenerateResponse{
		Model:        "gemini-1.5-flash",
		Text:         text,
		FinishReason: "STOP",
		Usage:        gemini.Usage{PromptTokens: 100, CandidateTokens: 20, TotalTokens: 120},
	}
}

func newMockClient(t *testing.T) *geminimocks.MockClient {
	client := geminimocks.NewMockClient(t)
	client.On("ListModels", mock.Anything, testKey).Return(defaultModels(), nil).Maybe()
	return client
}

func textTasks(texts ...string) []model.Task {
	out := make([]model.Task, 0, len(texts))
	for _, s := range texts {
		out = append(out, model.NewTextTask(s))
	}
	return out
}

func newMockClientNoModels(t *testing.T) *geminimocks.MockClient {
	return geminimocks.NewMockClient(t)
}
