// Package normalize strips formatting noise from model output: markdown
// bold markers, list numbering, field-label prefixes and a trailing period.
package normalize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLabels is the label vocabulary stripped when no other is configured.
var DefaultLabels = []string{
	"原标题", "原文标题", "人设", "选题", "细分选题", "细分角度", "主题",
	"标题公式", "公式", "爆款元素", "元素", "理由",
	"original title", "persona", "topic", "sub-angle", "rationale", "formula", "element",
}

// Normalizer cleans raw model text line by line. Labels match case-sensitively.
type Normalizer struct {
	labels []string
}

// New returns a Normalizer for the given labels.
func New(labels ...string) *Normalizer {
	ls := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			ls = append(ls, l)
		}
	}
	// Longest first so 细分选题 wins over 选题.
	sort.SliceStable(ls, func(i, j int) bool { return len(ls[i]) > len(ls[j]) })
	return &Normalizer{labels: ls}
}

// Default returns a Normalizer using DefaultLabels.
func Default() *Normalizer {
	return New(DefaultLabels...)
}

// Labels returns the configured label vocabulary.
func (n *Normalizer) Labels() []string {
	return append([]string(nil), n.labels...)
}

// Normalize applies the line transformations and drops lines left empty.
// Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if cleaned := n.line(line); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return strings.Join(out, "\n")
}

func (n *Normalizer) line(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.TrimSpace(s)

	for {
		next := stripEnumerator(s)
		next = n.stripLabel(next)
		if next == s {
			break
		}
		s = next
	}

	for {
		next := strings.TrimRightFunc(trimPeriod(s), unicode.IsSpace)
		if next == s {
			return s
		}
		s = next
	}
}

// stripEnumerator removes a leading integer followed by '.', '、' or space.
func stripEnumerator(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return s
	}
	r, size := utf8.DecodeRuneInString(s[i:])
	switch {
	case r == '.' || r == '、':
		return strings.TrimSpace(s[i+size:])
	case unicode.IsSpace(r):
		return strings.TrimSpace(s[i:])
	default:
		return s
	}
}

// stripLabel removes a leading label followed by ':', '：' or space.
func (n *Normalizer) stripLabel(s string) string {
	for _, label := range n.labels {
		if !strings.HasPrefix(s, label) || len(s) == len(label) {
			continue
		}
		r, size := utf8.DecodeRuneInString(s[len(label):])
		switch {
		case r == ':' || r == '：':
			return strings.TrimSpace(s[len(label)+size:])
		case unicode.IsSpace(r):
			return strings.TrimSpace(s[len(label):])
		}
	}
	return s
}

// trimPeriod drops one trailing '.' or '。' unless it ends a run such as "...".
func trimPeriod(s string) string {
	last, size := utf8.DecodeLastRuneInString(s)
	if !isPeriod(last) {
		return s
	}
	rest := s[:len(s)-size]
	prev, _ := utf8.DecodeLastRuneInString(rest)
	if isPeriod(prev) {
		return s
	}
	return rest
}

func isPeriod(r rune) bool {
	return r == '.' || r == '。'
}
