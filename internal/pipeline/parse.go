package pipeline

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/topic-cli/internal/model"
	"github.com/sells-group/topic-cli/internal/normalize"
)

// ErrMalformedStageOne is matched by every MalformedOutputError.
var ErrMalformedStageOne = eris.New("pipeline: malformed stage-1 output")

// MalformedOutputError describes a decompose response that does not follow
// the delimited grammar.
type MalformedOutputError struct {
	Parts int
}

func (e *MalformedOutputError) Error() string {
	if e.Parts <= 1 {
		return fmt.Sprintf("%s: delimiter %q missing", ErrMalformedStageOne, Delimiter)
	}
	return fmt.Sprintf("%s: %d fields, want %d", ErrMalformedStageOne, e.Parts, model.FieldCount)
}

// Is lets errors.Is match ErrMalformedStageOne.
func (e *MalformedOutputError) Is(target error) bool {
	return target == ErrMalformedStageOne
}

// ParseFields splits a decompose response on Delimiter and normalizes the
// first model.FieldCount parts. Parts beyond that are ignored.
func ParseFields(raw string, norm *normalize.Normalizer) (model.AnalysisFields, error) {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "```", ""))
	if !strings.Contains(text, Delimiter) {
		return model.AnalysisFields{}, &MalformedOutputError{Parts: 1}
	}

	parts := strings.Split(text, Delimiter)
	if len(parts) > model.FieldCount {
		parts = parts[:model.FieldCount]
	}

	cleaned := make([]string, len(parts))
	for i, part := range parts {
		cleaned[i] = norm.Normalize(part)
	}
	fields, ok := model.FieldsFromParts(cleaned)
	if !ok {
		return model.AnalysisFields{}, &MalformedOutputError{Parts: len(parts)}
	}
	return fields, nil
}
