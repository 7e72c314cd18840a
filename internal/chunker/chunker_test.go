package chunker

import (
	"strings"
	"testing"
)

func TestSplit_EmptyInput(t *testing.T) {
	if result := Split("   ", DefaultOptions()); result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestSplit_ShortContent(t *testing.T) {
	text := "This is a short memory."
	result := Split(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0].Text != text || result[0].Seq != 0 {
		t.Errorf("unexpected chunk %+v", result[0])
	}
}

func TestSplit_SentenceBoundaries(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog near the river bank. "
	text := strings.Repeat(sentence, 20)

	result := Split(text, DefaultOptions())
	if len(result) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(result))
	}
	for i, c := range result {
		if c.Seq != i {
			t.Errorf("chunk %d has seq %d", i, c.Seq)
		}
		if len(c.Text) > DefaultMaxSize {
			t.Errorf("chunk %d too large: %d", i, len(c.Text))
		}
		if !strings.HasSuffix(c.Text, ".") {
			t.Errorf("chunk %d does not end on a sentence: %q", i, c.Text)
		}
	}
}

func TestSplit_HardSplitsLongSentence(t *testing.T) {
	text := strings.Repeat("word ", 300)
	result := Split(text, DefaultOptions())
	if len(result) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(result))
	}
	var words int
	for _, c := range result {
		if len(c.Text) > DefaultMaxSize {
			t.Errorf("chunk too large: %d", len(c.Text))
		}
		words += len(strings.Fields(c.Text))
	}
	if words != 300 {
		t.Errorf("expected 300 words preserved, got %d", words)
	}
}
