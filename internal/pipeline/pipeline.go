// Package pipeline runs the two-stage analysis: a decompose call that splits
// copy into delimited attributes, then a generate call that writes headline
// candidates from them.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/topic-cli/internal/cost"
	"github.com/sells-group/topic-cli/internal/model"
	"github.com/sells-group/topic-cli/internal/normalize"
	"github.com/sells-group/topic-cli/internal/resilience"
	"github.com/sells-group/topic-cli/internal/resolver"
	"github.com/sells-group/topic-cli/pkg/gemini"
)

// Options tunes call policy and stage behavior.
type Options struct {
	// SkipGeneration stops after stage 1 (analysis-only runs).
	SkipGeneration bool

	// MaxModelFallbacks is how many times a 404 may move a call to the next
	// ranked model. Zero disables fallback.
	MaxModelFallbacks int

	// Retry applies to transient failures (429, 5xx, timeouts).
	Retry resilience.RetryConfig
}

// RunOption overrides Options for a single Run.
type RunOption func(*Options)

// WithSkipGeneration sets SkipGeneration for one run.
func WithSkipGeneration(skip bool) RunOption {
	return func(o *Options) { o.SkipGeneration = skip }
}

// ProgressFunc is called after each task with the number of finished tasks.
type ProgressFunc func(done, total int)

// RunResult is the outcome of one Run.
type RunResult struct {
	// Rows holds one row per task, in submission order.
	Rows  []model.ResultRow
	Usage model.TokenUsage
}

// Pipeline orchestrates the decompose and generate calls for a task list.
type Pipeline struct {
	client   gemini.Client
	resolver *resolver.Resolver
	norm     *normalize.Normalizer
	prompts  PromptSet
	costCalc *cost.Calculator
	opts     Options
}

// New creates a Pipeline.
func New(
	client gemini.Client,
	res *resolver.Resolver,
	norm *normalize.Normalizer,
	prompts PromptSet,
	calc *cost.Calculator,
	opts Options,
) *Pipeline {
	if norm == nil {
		norm = normalize.Default()
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	if opts.MaxModelFallbacks < 0 {
		opts.MaxModelFallbacks = 0
	}
	return &Pipeline{
		client:   client,
		resolver: res,
		norm:     norm,
		prompts:  prompts.withDefaults(),
		costCalc: calc,
		opts:     opts,
	}
}

// Resolver exposes the model resolver so callers can inspect candidates.
func (p *Pipeline) Resolver() *resolver.Resolver {
	return p.resolver
}

// Run processes tasks strictly in order and returns exactly one row per task.
// Per-task failures are recorded in the row. A credential-level failure
// (discovery failure, no capable model, 400/403) or a cancelled context
// halts the batch: the remaining tasks get halted rows and the error is
// returned alongside the result.
func (p *Pipeline) Run(ctx context.Context, credential string, tasks []model.Task, progress ProgressFunc, runOpts ...RunOption) (*RunResult, error) {
	opts := p.opts
	for _, o := range runOpts {
		o(&opts)
	}
	result := &RunResult{Rows: make([]model.ResultRow, 0, len(tasks))}
	start := time.Now()

	var haltErr error
	if len(tasks) > 0 {
		if _, err := p.resolver.Resolve(ctx, credential); err != nil {
			haltErr = err
			zap.L().Error("pipeline: model resolution failed", zap.Error(err))
		}
	}

	for i, task := range tasks {
		var row model.ResultRow
		if haltErr != nil {
			row = haltedRow(task, haltErr)
		} else {
			var fatal error
			row, fatal = p.runTask(ctx, credential, i, task, opts, &result.Usage)
			if fatal != nil {
				haltErr = fatal
				zap.L().Error("pipeline: halting batch",
					zap.Int("task", i+1),
					zap.Int("remaining", len(tasks)-i-1),
					zap.Error(fatal),
				)
			}
		}

		result.Rows = append(result.Rows, row)
		if progress != nil {
			progress(i+1, len(tasks))
		}
	}

	zap.L().Info("pipeline: run complete",
		zap.Int("tasks", len(tasks)),
		zap.Int("complete", countState(result.Rows, model.TaskStateComplete)),
		zap.Int("halted", countState(result.Rows, model.TaskStateHalted)),
		zap.Int("input_tokens", result.Usage.InputTokens),
		zap.Int("output_tokens", result.Usage.OutputTokens),
		zap.Float64("cost_usd", result.Usage.Cost),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, haltErr
}

// runTask drives one task through the state machine. The returned error is
// non-nil only when the whole batch must stop.
func (p *Pipeline) runTask(ctx context.Context, credential string, idx int, task model.Task, opts Options, usage *model.TokenUsage) (model.ResultRow, error) {
	log := zap.L().With(zap.Int("task", idx+1), zap.String("source", task.Label), zap.String("kind", string(task.Kind)))
	row := model.NewResultRow(task)

	// Stage 1: decompose. Only this call carries the image.
	row.State = model.TaskStateAnalyzing
	req := gemini.GenerateRequest{Prompt: p.prompts.Decompose(task)}
	if task.HasImage() {
		req.Image = &gemini.InlineImage{MIMEType: task.Image.MIMEType, Data: task.Image.Data}
	}

	resp, err := p.call(ctx, credential, "decompose", req, opts, usage)
	if err != nil {
		row.State = model.TaskStateAnalysisFailed
		row.Diagnostic = err.Error()
		log.Warn("pipeline: decompose call failed", zap.Error(err))
		return row, fatalOrNil(ctx, err)
	}
	row.Model = resp.Model

	fields, err := ParseFields(resp.Text, p.norm)
	if err != nil {
		row.State = model.TaskStateAnalysisFailed
		row.Diagnostic = resp.Text
		log.Warn("pipeline: malformed decompose output", zap.Error(err))
		return row, nil
	}
	row.AnalysisFields = fields
	row.State = model.TaskStateDecomposed

	if opts.SkipGeneration {
		row.State = model.TaskStateGenerationSkipped
		row.Diagnostic = "generation skipped"
		return row, nil
	}

	// Stage 2: generate headlines from the decomposed fields.
	row.State = model.TaskStateGenerating
	resp, err = p.call(ctx, credential, "generate", gemini.GenerateRequest{Prompt: p.prompts.Generate(fields)}, opts, usage)
	if err != nil {
		row.State = model.TaskStateGenerationFailed
		row.Headlines = GenerationFailedSentinel
		row.Diagnostic = err.Error()
		log.Warn("pipeline: generate call failed", zap.Error(err))
		return row, fatalOrNil(ctx, err)
	}
	row.Model = resp.Model

	headlines := p.norm.Normalize(resp.Text)
	if headlines == "" {
		row.State = model.TaskStateGenerationFailed
		row.Headlines = GenerationFailedSentinel
		row.Diagnostic = "generate: no headlines left after normalization"
		return row, nil
	}

	row.Headlines = headlines
	row.State = model.TaskStateComplete
	log.Debug("pipeline: task complete", zap.String("model", row.Model))
	return row, nil
}

// call sends one request on the working model. Transient failures are
// retried; a 404 moves to the next ranked model up to MaxModelFallbacks times.
func (p *Pipeline) call(ctx context.Context, credential, op string, req gemini.GenerateRequest, opts Options, usage *model.TokenUsage) (*gemini.GenerateResponse, error) {
	modelID, err := p.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}

	for fallbacks := 0; ; fallbacks++ {
		req.Model = modelID
		retry := opts.Retry
		if retry.OnRetry == nil {
			retry.OnRetry = resilience.RetryLogger(op, modelID)
		}

		resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*gemini.GenerateResponse, error) {
			return p.client.GenerateContent(ctx, credential, req)
		})
		if err == nil {
			usage.Add(model.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CandidateTokens,
				Calls:        1,
				Cost:         p.costCalc.Gemini(resp.Model, resp.Usage.PromptTokens, resp.Usage.CandidateTokens),
			})
			return resp, nil
		}

		if gemini.KindOf(err) != gemini.KindModelUnavailable || fallbacks >= opts.MaxModelFallbacks {
			return nil, err
		}
		next, rerr := p.resolver.MarkUnavailable(ctx, credential, modelID)
		if rerr != nil {
			return nil, err
		}
		modelID = next
	}
}

// fatalOrNil returns err when it should stop the batch.
func fatalOrNil(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case gemini.IsFatal(err),
		errors.Is(err, resolver.ErrDiscoveryFailed),
		errors.Is(err, resolver.ErrNoCapableModel):
		return err
	default:
		return nil
	}
}

func haltedRow(task model.Task, cause error) model.ResultRow {
	row := model.NewResultRow(task)
	row.State = model.TaskStateHalted
	row.Diagnostic = "batch halted: " + strings.TrimSpace(cause.Error())
	return row
}

func countState(rows []model.ResultRow, state model.TaskState) int {
	n := 0
	for _, r := range rows {
		if r.State == state {
			n++
		}
	}
	return n
}
