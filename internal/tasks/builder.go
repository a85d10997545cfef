// Package tasks turns raw input (pasted text, spreadsheet rows, an image)
// into the ordered task queue consumed by the pipeline.
package tasks

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/topic-cli/internal/model"
)

// MinBlockRunes is the shortest fragment accepted as a task.
const MinBlockRunes = 5

// MaxImageBytes caps inline image payloads.
const MaxImageBytes = 20 << 20

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// SplitBlocks splits text on blank lines, trims each block and drops blocks
// shorter than minRunes. minRunes below MinBlockRunes is raised to it.
func SplitBlocks(text string, minRunes int) []string {
	if minRunes < MinBlockRunes {
		minRunes = MinBlockRunes
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var blocks []string
	for _, b := range blankLine.Split(text, -1) {
		b = strings.TrimSpace(b)
		if utf8.RuneCountInString(b) < minRunes {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// FromText builds one text task per block of text.
func FromText(text string, minRunes int) []model.Task {
	blocks := SplitBlocks(text, minRunes)
	out := make([]model.Task, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, model.NewTextTask(b))
	}
	return out
}

// FromRows builds one text task per non-empty cell in column. Cells shorter
// than minRunes are dropped the same way text blocks are.
func FromRows(rows [][]string, column int, skipHeader bool, minRunes int) []model.Task {
	if minRunes < MinBlockRunes {
		minRunes = MinBlockRunes
	}
	var out []model.Task
	for i, row := range rows {
		if i == 0 && skipHeader {
			continue
		}
		if column < 0 || column >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[column])
		if utf8.RuneCountInString(cell) < minRunes {
			continue
		}
		out = append(out, model.NewTextTask(cell))
	}
	return out
}

// NewImageTask validates raw image bytes and wraps them as a task.
func NewImageTask(data []byte, label string) (model.Task, error) {
	if len(data) == 0 {
		return model.Task{}, eris.New("tasks: empty image")
	}
	if len(data) > MaxImageBytes {
		return model.Task{}, eris.Errorf("tasks: image is %d bytes, limit is %d", len(data), MaxImageBytes)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return model.Task{}, eris.Errorf("tasks: unsupported image type %q", mime)
	}
	return model.NewImageTask(model.Image{
		MIMEType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, label), nil
}

// FromImageFile reads an image from disk.
func FromImageFile(path string) (model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Task{}, eris.Wrapf(err, "tasks: read image %s", path)
	}
	return NewImageTask(data, filepath.Base(path))
}

// DecodeImage validates an already base64-encoded payload, as received over
// HTTP. The sniffed content type is sent upstream; a declared type that
// disagrees with it is ignored.
func DecodeImage(mimeType, data, label string) (model.Task, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return model.Task{}, eris.Wrap(err, "tasks: decode image")
	}
	task, err := NewImageTask(raw, label)
	if err != nil {
		return model.Task{}, err
	}
	declared := strings.ToLower(strings.TrimSpace(mimeType))
	if declared != "" && declared != task.Image.MIMEType {
		zap.L().Warn("tasks: declared image type differs from content, using content type",
			zap.String("declared", mimeType),
			zap.String("detected", task.Image.MIMEType),
		)
	}
	return task, nil
}
