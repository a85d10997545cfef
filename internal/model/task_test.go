package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTextTask_Label(t *testing.T) {
	task := NewTextTask("  " + strings.Repeat("好", 40) + "  ")

	assert.Equal(t, TaskKindText, task.Kind)
	assert.Equal(t, strings.Repeat("好", 40), task.Text)
	assert.Equal(t, strings.Repeat("好", 30)+"...", task.Label)
	assert.False(t, task.HasImage())
}

func TestNewImageTask(t *testing.T) {
	task := NewImageTask(Image{MIMEType: "image/png", Data: "aGk="}, "")

	assert.Equal(t, TaskKindImage, task.Kind)
	assert.Equal(t, "image", task.Label)
	assert.True(t, task.HasImage())
	assert.Equal(t, "image/png", task.Image.MIMEType)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "shorter", in: "abc", n: 5, want: "abc"},
		{name: "exact", in: "abc", n: 3, want: "abc"},
		{name: "multibyte", in: "小红书选题", n: 3, want: "小红书"},
		{name: "zero", in: "abc", n: 0, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}
