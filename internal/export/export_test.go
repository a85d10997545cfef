package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/topic-cli/internal/model"
)

func sampleRows() []model.ResultRow {
	complete := model.NewResultRow(model.NewTextTask("周末带娃去哪儿玩"))
	complete.State = model.TaskStateComplete
	complete.AnalysisFields = model.AnalysisFields{OriginalTitle: "标题A", Persona: "人设B", Topic: "选题C", Formula: "公式D"}
	complete.Headlines = "标题一\n标题二"
	complete.Model = "gemini-1.5-flash"

	failed := model.NewResultRow(model.NewTextTask("另一篇文案"))
	failed.State = model.TaskStateAnalysisFailed
	failed.Diagnostic = "没有分隔符"

	return []model.ResultRow{complete, failed}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleRows()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, SheetName, sheet.Name)
	require.Len(t, sheet.Rows, 3)

	cells := func(i int) []string {
		var out []string
		for _, c := range sheet.Rows[i].Cells {
			out = append(out, c.String())
		}
		return out
	}

	assert.Equal(t, Headers, cells(0))
	assert.Equal(t, []string{
		"周末带娃去哪儿玩...", "标题A", "人设B", "选题C", "公式D", "标题一\n标题二", "完成", "", "gemini-1.5-flash",
	}, cells(1))
	row2 := cells(2)
	assert.Equal(t, "分析失败", row2[6])
	assert.Equal(t, "没有分隔符", row2[7])
}

func TestWriteXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheets[0].Rows, 1)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRows()))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "complete", got[0]["state"])
	assert.Equal(t, "人设B", got[0]["persona"])
	assert.Equal(t, "标题一\n标题二", got[0]["generated_headlines"])
	assert.Equal(t, "analysis_failed", got[1]["state"])
	assert.Equal(t, "没有分隔符", got[1]["diagnostic"])
}

func TestWriteJSON_NilIsEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.JSONEq(t, "[]", buf.String())
}

func TestStateLabel(t *testing.T) {
	assert.Equal(t, "生成失败", StateLabel(model.TaskStateGenerationFailed))
	assert.Equal(t, "已中止", StateLabel(model.TaskStateHalted))
	assert.Equal(t, "weird", StateLabel(model.TaskState("weird")))
}

func TestDefaultFileName(t *testing.T) {
	assert.Equal(t, "小红书选题_1700000000.xlsx", DefaultFileName(time.Unix(1700000000, 0)))
}
