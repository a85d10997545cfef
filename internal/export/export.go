// Package export serializes result rows for the result sink: an XLSX
// workbook for people and JSON for programs.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/topic-cli/internal/model"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Sheet1"

// Headers are the workbook column titles, in column order.
var Headers = []string{"原文", "原标题", "人设", "选题", "公式", "生成标题", "状态", "诊断", "模型"}

var stateLabels = map[model.TaskState]string{
	model.TaskStatePending:           "待处理",
	model.TaskStateAnalyzing:         "分析中",
	model.TaskStateAnalysisFailed:    "分析失败",
	model.TaskStateDecomposed:        "已拆解",
	model.TaskStateGenerationSkipped: "未生成",
	model.TaskStateGenerating:        "生成中",
	model.TaskStateGenerationFailed:  "生成失败",
	model.TaskStateComplete:          "完成",
	model.TaskStateHalted:            "已中止",
}

// StateLabel returns the display label of a task state.
func StateLabel(s model.TaskState) string {
	if l, ok := stateLabels[s]; ok {
		return l
	}
	return string(s)
}

// Record flattens a row into the workbook's column order.
func Record(r model.ResultRow) []string {
	return []string{
		r.Source,
		r.OriginalTitle,
		r.Persona,
		r.Topic,
		r.Formula,
		r.Headlines,
		StateLabel(r.State),
		r.Diagnostic,
		r.Model,
	}
}

// WriteXLSX writes rows as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, rows []model.ResultRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range Headers {
		header.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range Record(r) {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

// WriteJSON writes rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []model.ResultRow) error {
	if rows == nil {
		rows = []model.ResultRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return eris.Wrap(err, "export: write json")
	}
	return nil
}

// DefaultFileName is the workbook name used when no output path is given.
func DefaultFileName(now time.Time) string {
	return fmt.Sprintf("小红书选题_%d.xlsx", now.Unix())
}
