package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskState tracks a task through the two-stage pipeline.
type TaskState string

const (
	TaskStatePending           TaskState = "pending"
	TaskStateAnalyzing         TaskState = "analyzing"
	TaskStateAnalysisFailed    TaskState = "analysis_failed"
	TaskStateDecomposed        TaskState = "decomposed"
	TaskStateGenerationSkipped TaskState = "generation_skipped"
	TaskStateGenerating        TaskState = "generating"
	TaskStateGenerationFailed  TaskState = "generation_failed"
	TaskStateComplete          TaskState = "complete"
	// TaskStateHalted marks tasks that never ran because a credential-level
	// failure stopped the batch.
	TaskStateHalted TaskState = "halted"
)

// FieldCount is the number of delimited fields the decompose call must return.
const FieldCount = 4

// AnalysisFields holds the decomposed attributes, in delimiter order.
type AnalysisFields struct {
	OriginalTitle string `json:"original_title"`
	Persona       string `json:"persona"`
	Topic         string `json:"topic"`
	Formula       string `json:"formula"`
}

// FieldsFromParts maps the first FieldCount parts positionally. It returns
// false when fewer than FieldCount parts are present.
func FieldsFromParts(parts []string) (AnalysisFields, bool) {
	if len(parts) < FieldCount {
		return AnalysisFields{}, false
	}
	return AnalysisFields{
		OriginalTitle: parts[0],
		Persona:       parts[1],
		Topic:         parts[2],
		Formula:       parts[3],
	}, true
}

// Slice returns the fields in positional order.
func (f AnalysisFields) Slice() []string {
	return []string{f.OriginalTitle, f.Persona, f.Topic, f.Formula}
}

// ResultRow is the pipeline's output for one task.
type ResultRow struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	State  TaskState `json:"state"`
	AnalysisFields
	Headlines  string    `json:"generated_headlines"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewResultRow starts a pending row for the task.
func NewResultRow(task Task) ResultRow {
	return ResultRow{
		ID:        uuid.New().String(),
		Source:    task.Label,
		State:     TaskStatePending,
		CreatedAt: time.Now().UTC(),
	}
}

// TokenUsage tracks model token consumption and its estimated cost.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Calls        int     `json:"calls"`
	Cost         float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.Calls += other.Calls
	t.Cost += other.Cost
}
