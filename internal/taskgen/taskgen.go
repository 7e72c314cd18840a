// Package taskgen derives candidate precompute queries from recent
// conversation history.
package taskgen

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rcliao/ham/internal/processor"
	"github.com/rcliao/ham/internal/template"
)

const (
	DefaultMaxTasks = 10
	// Window is how many recent user utterances are considered.
	Window = 20

	questionRatioThreshold = 0.3
	maxGram                = 3
	minGramCount           = 2
)

// Utterance is one turn of a conversation.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// IsUser reports whether the utterance came from the user. An empty
// speaker counts as the user.
func (u Utterance) IsUser() bool {
	s := strings.ToLower(strings.TrimSpace(u.Speaker))
	return s == "" || s == "user" || s == "human"
}

// Task is a unit of precompute work. It is consumed at most once.
type Task struct {
	ID         string                             `json:"id"`
	Query      string                             `json:"query"`
	Category   template.Category                  `json:"category"`
	Keywords   []string                           `json:"keywords,omitempty"`
	State      template.AgentStateFingerprint     `json:"state"`
	Impression template.UserImpressionFingerprint `json:"impression"`
	Context    map[string]any                     `json:"context,omitempty"`
	Priority   int                                `json:"priority"`
}

// Sentiment is a coarse polarity.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

var (
	positiveWords = map[string]bool{
		"happy": true, "glad": true, "great": true, "love": true, "awesome": true, "excited": true,
		"wonderful": true, "good": true, "amazing": true, "fun": true, "thanks": true, "yay": true,
	}
	negativeWords = map[string]bool{
		"sad": true, "tired": true, "angry": true, "upset": true, "bad": true, "lonely": true,
		"awful": true, "stressed": true, "worried": true, "hate": true, "rough": true, "anxious": true,
	}
)

type seed struct {
	query    string
	category template.Category
	priority int
}

var (
	followUps = []seed{
		{"Can you explain that a bit more?", template.Question, 3},
		{"What do you think about that?", template.Question, 3},
	}
	positiveSeeds = []seed{
		{"I'm so happy today!", template.Emotional, 4},
		{"Yes, that sounds great!", template.Affirmation, 4},
	}
	negativeSeeds = []seed{
		{"I had a really rough day.", template.Support, 5},
		{"I feel a bit lonely tonight.", template.Support, 5},
	}
	fallbacks = []seed{
		{"Hello!", template.Greeting, 1},
		{"How are you doing today?", template.SmallTalk, 1},
		{"Thank you so much!", template.Gratitude, 1},
		{"Good night!", template.Farewell, 1},
		{"Tell me a joke.", template.Humor, 1},
	}
)

// Generator produces tasks. The zero value is not usable; call New.
type Generator struct {
	maxTasks int
	newID    func() string
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxTasks caps the number of tasks per call.
func WithMaxTasks(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTasks = n
		}
	}
}

// WithIDFunc replaces the uuid task ids.
func WithIDFunc(f func() string) Option {
	return func(g *Generator) { g.newID = f }
}

func New(opts ...Option) *Generator {
	g := &Generator{maxTasks: DefaultMaxTasks, newID: uuid.NewString}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate turns history into tasks: repeated n-grams first, then
// follow-up questions, sentiment queries and the fallback pool. Queries
// are unique ignoring case and the result holds at most MaxTasks.
func (g *Generator) Generate(history []Utterance, state template.AgentStateFingerprint, impression template.UserImpressionFingerprint) []Task {
	recent := RecentUserTexts(history, Window)
	ratio := QuestionRatio(recent)
	mood := DetectSentiment(recent)

	out := make([]Task, 0, g.maxTasks)
	seen := make(map[string]bool)
	add := func(q string, cat template.Category, kw []string, prio int, source string) bool {
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" || seen[key] {
			return len(out) < g.maxTasks
		}
		seen[key] = true
		out = append(out, Task{
			ID:         g.newID(),
			Query:      q,
			Category:   cat,
			Keywords:   kw,
			State:      state,
			Impression: impression,
			Context: map[string]any{
				"source":         source,
				"sentiment":      string(mood),
				"question_ratio": ratio,
			},
			Priority: prio,
		})
		return len(out) < g.maxTasks
	}

	for _, ng := range FrequentNGrams(recent) {
		cat := template.ClassifyCategory(ng.Text)
		if cat == template.Unknown {
			cat = template.SmallTalk
		}
		if !add(ng.Text, cat, strings.Fields(ng.Text), 1+ng.Count, "ngram") {
			return out
		}
	}
	if ratio >= questionRatioThreshold {
		for _, s := range followUps {
			if !add(s.query, s.category, nil, s.priority, "question_ratio") {
				return out
			}
		}
	}
	var moodSeeds []seed
	switch mood {
	case Positive:
		moodSeeds = positiveSeeds
	case Negative:
		moodSeeds = negativeSeeds
	}
	for _, s := range moodSeeds {
		if !add(s.query, s.category, nil, s.priority, "sentiment") {
			return out
		}
	}
	for _, s := range fallbacks {
		if !add(s.query, s.category, nil, s.priority, "fallback") {
			return out
		}
	}
	return out
}

// RecentUserTexts returns the texts of the last n user utterances, oldest
// first.
func RecentUserTexts(history []Utterance, n int) []string {
	var out []string
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].IsUser() && strings.TrimSpace(history[i].Text) != "" {
			out = append(out, history[i].Text)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// QuestionRatio is the share of texts that ask something.
func QuestionRatio(texts []string) float64 {
	if len(texts) == 0 {
		return 0
	}
	q := 0
	for _, t := range texts {
		if strings.Contains(t, "?") || template.ClassifyCategory(t) == template.Question {
			q++
		}
	}
	return float64(q) / float64(len(texts))
}

// DetectSentiment counts fixed positive and negative words.
func DetectSentiment(texts []string) Sentiment {
	pos, neg := 0, 0
	for _, t := range texts {
		for _, tok := range processor.Tokenize(t) {
			switch {
			case positiveWords[tok]:
				pos++
			case negativeWords[tok]:
				neg++
			}
		}
	}
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	}
	return Neutral
}

// NGram is a phrase of one to three content tokens and how often it
// occurred.
type NGram struct {
	Text  string
	Count int
}

// FrequentNGrams returns the n-grams seen at least twice, longest first,
// then most frequent, then first seen.
func FrequentNGrams(texts []string) []NGram {
	counts := make(map[string]int)
	size := make(map[string]int)
	first := make(map[string]int)
	pos := 0
	for _, t := range texts {
		toks := processor.ContentTokens(t)
		for i := range toks {
			for n := 1; n <= maxGram && i+n <= len(toks); n++ {
				g := strings.Join(toks[i:i+n], " ")
				if _, ok := first[g]; !ok {
					first[g] = pos
					size[g] = n
				}
				counts[g]++
				pos++
			}
		}
	}

	var out []NGram
	for g, c := range counts {
		if c >= minGramCount {
			out = append(out, NGram{Text: g, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if size[a.Text] != size[b.Text] {
			return size[a.Text] > size[b.Text]
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return first[a.Text] < first[b.Text]
	})
	return out
}
