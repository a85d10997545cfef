package model

import (
	"strings"
	"unicode/utf8"
)

// TaskKind distinguishes text tasks from image tasks.
type TaskKind string

const (
	TaskKindText  TaskKind = "text"
	TaskKindImage TaskKind = "image"
)

// Image is a single inline image payload.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64, standard encoding
}

// Task is one unit of analysis. A task yields exactly one ResultRow.
type Task struct {
	Kind  TaskKind `json:"kind"`
	Text  string   `json:"text,omitempty"`
	Image *Image   `json:"image,omitempty"`
	Label string   `json:"label"`
}

// LabelRunes is how much of a text payload is kept as the row's source label.
const LabelRunes = 30

// NewTextTask builds a text task labelled with the start of its payload.
func NewTextTask(text string) Task {
	text = strings.TrimSpace(text)
	return Task{
		Kind:  TaskKindText,
		Text:  text,
		Label: Truncate(text, LabelRunes) + "...",
	}
}

// NewImageTask builds an image task. An empty label falls back to "image".
func NewImageTask(img Image, label string) Task {
	if label == "" {
		label = "image"
	}
	return Task{
		Kind:  TaskKindImage,
		Image: &img,
		Label: label,
	}
}

// HasImage reports whether the task carries an inline image.
func (t Task) HasImage() bool {
	return t.Kind == TaskKindImage && t.Image != nil
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
