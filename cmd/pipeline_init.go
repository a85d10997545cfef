package main

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/topic-cli/internal/config"
	"github.com/sells-group/topic-cli/internal/cost"
	"github.com/sells-group/topic-cli/internal/normalize"
	"github.com/sells-group/topic-cli/internal/pipeline"
	"github.com/sells-group/topic-cli/internal/resilience"
	"github.com/sells-group/topic-cli/internal/resolver"
	"github.com/sells-group/topic-cli/pkg/gemini"
)

// pipelineEnv holds the API client, the pipeline and the session used by the
// analyze, models and serve commands.
type pipelineEnv struct {
	Client   gemini.Client
	Pipeline *pipeline.Pipeline
	Session  *pipeline.Session
}

// initPipeline validates the config for mode and builds the pipeline
// environment from the global config.
func initPipeline(mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	client := newGeminiClient(cfg)
	p, err := buildPipeline(cfg, client)
	if err != nil {
		return nil, err
	}

	sess := pipeline.NewSession(p)
	zap.L().Debug("pipeline initialized",
		zap.String("session", sess.ID),
		zap.String("pinned_model", cfg.Gemini.Model),
		zap.Int("max_model_fallbacks", cfg.Gemini.MaxModelFallbacks),
	)
	return &pipelineEnv{Client: client, Pipeline: p, Session: sess}, nil
}

func newGeminiClient(c *config.Config) gemini.Client {
	opts := []gemini.Option{
		gemini.WithBaseURL(c.Gemini.BaseURL),
		gemini.WithTimeouts(
			time.Duration(c.Gemini.TextTimeoutSecs)*time.Second,
			time.Duration(c.Gemini.ImageTimeoutSecs)*time.Second,
		),
		gemini.WithRateLimit(c.Gemini.RequestsPerSecond),
	}
	// Validate has already checked the proxy URL.
	if proxy, err := url.Parse(c.Gemini.ProxyURL); err == nil && c.Gemini.ProxyURL != "" {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxy)
		opts = append(opts, gemini.WithHTTPClient(&http.Client{Transport: transport}))
		zap.L().Info("gemini: using proxy", zap.String("host", proxy.Host))
	}
	return gemini.NewClient(opts...)
}

// buildPipeline wires the resolver, normalizer, prompts, cost calculator and
// call policy around client.
func buildPipeline(c *config.Config, client gemini.Client) (*pipeline.Pipeline, error) {
	prompts := pipeline.DefaultPrompts()
	if c.Pipeline.PromptsFile != "" {
		loaded, err := pipeline.LoadPrompts(c.Pipeline.PromptsFile)
		if err != nil {
			return nil, err
		}
		prompts = loaded
		zap.L().Info("loaded prompt overrides", zap.String("file", c.Pipeline.PromptsFile))
	}

	labels := make([]string, 0, len(normalize.DefaultLabels)+len(c.Pipeline.Labels)+len(prompts.Labels))
	labels = append(labels, normalize.DefaultLabels...)
	labels = append(labels, c.Pipeline.Labels...)
	labels = append(labels, prompts.Labels...)

	var resOpts []resolver.Option
	if c.Gemini.Model != "" {
		resOpts = append(resOpts, resolver.WithPinnedModel(c.Gemini.Model))
	}

	norm := normalize.New(labels...)
	zap.L().Debug("normalizer labels", zap.Strings("labels", norm.Labels()))

	return pipeline.New(
		client,
		resolver.New(client, resOpts...),
		norm,
		prompts,
		cost.NewCalculator(pricingRates(c.Pricing)),
		pipeline.Options{
			SkipGeneration:    c.Pipeline.SkipGeneration,
			MaxModelFallbacks: c.Gemini.MaxModelFallbacks,
			Retry: resilience.FromConfig(
				c.Gemini.Retry.MaxAttempts,
				c.Gemini.Retry.InitialBackoffMs,
				c.Gemini.Retry.MaxBackoffMs,
			),
		},
	), nil
}

func pricingRates(p config.PricingConfig) cost.Rates {
	if len(p.Gemini) == 0 {
		return cost.DefaultRates()
	}
	rates := cost.Rates{Gemini: make(map[string]cost.ModelRate, len(p.Gemini))}
	for model, r := range p.Gemini {
		rates.Gemini[model] = cost.ModelRate{Input: r.Input, Output: r.Output}
	}
	return rates
}
