package pipeline

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/topic-cli/internal/model"
)

// Delimiter separates the fields of the decompose response.
const Delimiter = "|||"

// GenerationFailedSentinel replaces the headline block when stage 2 fails.
const GenerationFailedSentinel = "标题生成失败"

// DefaultStyle is the style-constraint block appended to the generate prompt.
const DefaultStyle = `要求：
- 每个标题不超过20字
- 共5行，每行一个标题，不加序号
- 口语化，有网感，像真人分享
- 可以适当使用emoji，每个标题最多一个
- 尽量每个标题用不同的标题公式`

// PromptSet holds the tunable parts of both prompts.
type PromptSet struct {
	PersonaHint   string   `yaml:"persona_hint"`
	Style         string   `yaml:"style"`
	HeadlineCount int      `yaml:"headline_count"`
	PayloadRunes  int      `yaml:"payload_runes"`
	Labels        []string `yaml:"labels"`
}

// DefaultPrompts returns the built-in prompt settings.
func DefaultPrompts() PromptSet {
	return PromptSet{
		PersonaHint:   "销售-老徐/总助-Fiona",
		Style:         DefaultStyle,
		HeadlineCount: 5,
		PayloadRunes:  500,
	}
}

// LoadPrompts reads prompt overrides from a YAML file with a top-level
// "prompts" key. Unset values keep their defaults.
func LoadPrompts(path string) (PromptSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PromptSet{}, eris.Wrapf(err, "pipeline: read prompts %s", path)
	}

	var wrapper struct {
		Prompts PromptSet `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return PromptSet{}, eris.Wrap(err, "pipeline: parse prompts")
	}
	return wrapper.Prompts.withDefaults(), nil
}

func (p PromptSet) withDefaults() PromptSet {
	def := DefaultPrompts()
	if strings.TrimSpace(p.PersonaHint) == "" {
		p.PersonaHint = def.PersonaHint
	}
	if strings.TrimSpace(p.Style) == "" {
		p.Style = def.Style
	}
	if p.HeadlineCount <= 0 {
		p.HeadlineCount = def.HeadlineCount
	}
	if p.PayloadRunes <= 0 {
		p.PayloadRunes = def.PayloadRunes
	}
	return p
}

// Decompose builds the stage-1 prompt for task.
func (p PromptSet) Decompose(task model.Task) string {
	p = p.withDefaults()
	schema := fmt.Sprintf("原标题%[1]s人设(%[2]s)%[1]s细分选题%[1]s标题公式", Delimiter, p.PersonaHint)

	if task.HasImage() {
		return fmt.Sprintf("分析这张图片里的小红书笔记，提取%d项，用%s隔开，只输出一行，不要解释：%s",
			model.FieldCount, Delimiter, schema)
	}

	payload := model.Truncate(task.Text, p.PayloadRunes)
	if utf8.RuneCountInString(task.Text) > p.PayloadRunes {
		payload += "..."
	}
	return fmt.Sprintf("分析文案：\"%s\"。提取%d项，用%s隔开，只输出一行，不要解释：%s",
		payload, model.FieldCount, Delimiter, schema)
}

// Generate builds the stage-2 prompt from the decomposed fields. The style
// block is injected verbatim.
func (p PromptSet) Generate(fields model.AnalysisFields) string {
	p = p.withDefaults()
	return fmt.Sprintf("你叫%s，选题\"%s\"，公式\"%s\"。写%d个爆款标题，每行一个。\n%s",
		fields.Persona, fields.Topic, fields.Formula, p.HeadlineCount, p.Style)
}
