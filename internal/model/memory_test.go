package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMetadataFlattens(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NormalizeMetadata(map[string]any{
		"speaker": "user",
		"count":   3,
		"emotion": map[string]any{"label": "joy", "intensity": 0.7},
		"at":      ts,
		"tags":    []any{"a", "b"},
	})

	assert.Equal(t, "user", m["speaker"])
	assert.Equal(t, 3.0, m["count"])
	assert.Equal(t, "joy", m["emotion.label"])
	assert.Equal(t, 0.7, m["emotion.intensity"])
	assert.Equal(t, "2024-03-01T12:00:00Z", m["at"])
	assert.Equal(t, []string{"a", "b"}, m["tags"])
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{
		"score":   "0.25",
		"n":       2.0,
		"flag":    true,
		"list":    []any{"x", "y"},
		"csv":     "one, two",
		"name":    "z",
		"numeric": 4.5,
	}

	f, ok := m.Float("score")
	assert.True(t, ok)
	assert.Equal(t, 0.25, f)
	_, ok = m.Float("missing")
	assert.False(t, ok)
	assert.True(t, m.Bool("flag"))
	assert.Equal(t, []string{"x", "y"}, m.Strings("list"))
	assert.Equal(t, []string{"one", "two"}, m.Strings("csv"))
	assert.Equal(t, "4.5", m.String("numeric"))
	assert.True(t, IsNumeric(m["n"]))
	assert.False(t, IsNumeric(m["score"]))
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "mem_000001", FormatID(1))
	assert.Equal(t, "mem_1234567", FormatID(1234567))
}

func TestIsDialogueType(t *testing.T) {
	assert.True(t, IsDialogueType("user_dialogue_text"))
	assert.True(t, IsDialogueType("dialogue_text"))
	assert.False(t, IsDialogueType("emotionalMemory"))
}
