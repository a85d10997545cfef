package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/topic-cli/internal/model"
)

// Session is the process-scoped state of one user session: the pipeline
// (with its cached working model) and the accumulated rows, newest first.
// Runs are serialized by runMu; mu only guards the accumulated state, so
// readers are not held up by a run in progress. Readers get copies.
type Session struct {
	ID        string
	CreatedAt time.Time

	pipeline *Pipeline

	runMu sync.Mutex

	mu    sync.Mutex
	rows  []model.ResultRow
	usage model.TokenUsage
	runs  int
}

// NewSession starts an empty session around p.
func NewSession(p *Pipeline) *Session {
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		pipeline:  p,
	}
}

// Pipeline returns the session's pipeline.
func (s *Session) Pipeline() *Pipeline {
	return s.pipeline
}

// Analyze runs tasks and prepends the new rows, most recent task first. The
// rows are recorded even when the run halts with an error.
func (s *Session) Analyze(ctx context.Context, credential string, tasks []model.Task, progress ProgressFunc, opts ...RunOption) (*RunResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result, err := s.pipeline.Run(ctx, credential, tasks, progress, opts...)
	if result == nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make([]model.ResultRow, 0, len(result.Rows)+len(s.rows))
	for i := len(result.Rows) - 1; i >= 0; i-- {
		merged = append(merged, result.Rows[i])
	}
	s.rows = append(merged, s.rows...)
	s.usage.Add(result.Usage)
	s.runs++

	return result, err
}

// Rows returns a copy of the accumulated rows, newest first.
func (s *Session) Rows() []model.ResultRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ResultRow(nil), s.rows...)
}

// Len returns the number of accumulated rows.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Usage returns the token usage across all runs and the run count.
func (s *Session) Usage() (model.TokenUsage, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.runs
}

// Clear drops all accumulated rows. Usage totals are kept.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
}
