package template

import (
	"strings"

	"github.com/rcliao/ham/internal/processor"
)

// Category groups templates by conversational intent.
type Category string

const (
	Greeting    Category = "greeting"
	Farewell    Category = "farewell"
	SmallTalk   Category = "small_talk"
	Question    Category = "question"
	Emotional   Category = "emotional"
	Affirmation Category = "affirmation"
	Negation    Category = "negation"
	Curiosity   Category = "curiosity"
	Intimacy    Category = "intimacy"
	Support     Category = "support"
	Help        Category = "help"
	Gratitude   Category = "gratitude"
	Apology     Category = "apology"
	Humor       Category = "humor"
	Unknown     Category = "unknown"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	Greeting, Farewell, SmallTalk, Question, Emotional, Affirmation, Negation,
	Curiosity, Intimacy, Support, Help, Gratitude, Apology, Humor, Unknown,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// ParseCategory maps a string to a category, Unknown if unrecognized.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return Unknown
}

// cue words checked in order; the first category with a hit wins
var cues = []struct {
	cat   Category
	words []string
}{
	{Greeting, []string{"hello", "hi", "hey", "morning", "evening", "greetings", "yo"}},
	{Farewell, []string{"bye", "goodbye", "night", "later", "farewell", "cya"}},
	{Gratitude, []string{"thanks", "thank", "appreciate", "grateful"}},
	{Apology, []string{"sorry", "apologize", "apologies", "oops"}},
	{Help, []string{"help", "assist", "support me", "how do i", "can you"}},
	{Support, []string{"sad", "lonely", "tired", "stressed", "anxious", "depressed", "rough", "down"}},
	{Emotional, []string{"feel", "feeling", "love", "miss", "angry", "upset", "happy", "scared"}},
	{Humor, []string{"joke", "funny", "lol", "haha", "laugh"}},
	{Intimacy, []string{"hug", "cuddle", "close", "together", "darling", "dear"}},
	{Affirmation, []string{"yes", "yeah", "sure", "ok", "okay", "great", "agreed", "exactly"}},
	{Negation, []string{"no", "nope", "not", "never", "don't", "dont"}},
	{Curiosity, []string{"wonder", "curious", "interesting", "tell me", "what if"}},
	{SmallTalk, []string{"weather", "weekend", "today", "lunch", "dinner", "doing", "up to"}},
}

// ClassifyCategory picks the category whose cue words appear in text.
// Questions without a stronger cue are Question; no cue at all is Unknown.
func ClassifyCategory(text string) Category {
	lower := strings.ToLower(text)
	toks := make(map[string]bool)
	for _, t := range processor.Tokenize(lower) {
		toks[t] = true
	}
	for _, c := range cues {
		for _, w := range c.words {
			if strings.Contains(w, " ") {
				if strings.Contains(lower, w) {
					return c.cat
				}
				continue
			}
			if toks[w] {
				return c.cat
			}
		}
	}
	if strings.Contains(text, "?") {
		return Question
	}
	return Unknown
}
