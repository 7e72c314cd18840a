package taskgen

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ham/internal/template"
)

func gardenHistory() []Utterance {
	return []Utterance{
		{Speaker: "user", Text: "I worked in my garden today."},
		{Speaker: "assistant", Text: "That sounds lovely! garden garden"},
		{Speaker: "user", Text: "The garden tomatoes are finally red!"},
		{Speaker: "user", Text: "Do you like garden tomatoes?"},
	}
}

func queries(ts []Task) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.Query)
	}
	return out
}

func TestGenerateFromHistory(t *testing.T) {
	state := template.AgentStateFingerprint{Mood: map[string]float64{"valence": 0.6}}
	imp := template.UserImpressionFingerprint{RelationshipLevel: 0.4}
	tasks := New().Generate(gardenHistory(), state, imp)

	assert.Equal(t, []string{
		"garden tomatoes", "garden", "tomatoes",
		"Can you explain that a bit more?", "What do you think about that?",
		"Hello!", "How are you doing today?", "Thank you so much!", "Good night!", "Tell me a joke.",
	}, queries(tasks))

	first := tasks[0]
	assert.Equal(t, template.SmallTalk, first.Category)
	assert.Equal(t, []string{"garden", "tomatoes"}, first.Keywords)
	assert.Equal(t, "ngram", first.Context["source"])
	assert.Equal(t, 3, first.Priority)
	assert.Equal(t, state, first.State)
	assert.Equal(t, imp, first.Impression)

	ids := map[string]bool{}
	for _, task := range tasks {
		require.NotEmpty(t, task.ID)
		ids[task.ID] = true
	}
	assert.Len(t, ids, len(tasks))
}

func TestGenerateCapsTasks(t *testing.T) {
	tasks := New(WithMaxTasks(2)).Generate(gardenHistory(), template.AgentStateFingerprint{}, template.UserImpressionFingerprint{})
	assert.Equal(t, []string{"garden tomatoes", "garden"}, queries(tasks))
}

func TestGenerateNegativeSentiment(t *testing.T) {
	n := 0
	g := New(WithIDFunc(func() string { n++; return fmt.Sprintf("task-%d", n) }))
	tasks := g.Generate([]Utterance{
		{Speaker: "user", Text: "I'm so tired and sad."},
		{Text: "It was a rough week."},
	}, template.AgentStateFingerprint{}, template.UserImpressionFingerprint{})

	require.Len(t, tasks, 7)
	assert.Equal(t, "I had a really rough day.", tasks[0].Query)
	assert.Equal(t, template.Support, tasks[0].Category)
	assert.Equal(t, 5, tasks[0].Priority)
	assert.Equal(t, "task-1", tasks[0].ID)
	assert.Equal(t, "negative", tasks[0].Context["sentiment"])
}

func TestGenerateEmptyHistoryUsesFallbacks(t *testing.T) {
	tasks := New().Generate(nil, template.AgentStateFingerprint{}, template.UserImpressionFingerprint{})
	assert.Len(t, tasks, len(fallbacks))
	for _, task := range tasks {
		assert.Equal(t, "fallback", task.Context["source"])
	}
}

func TestGenerateDeduplicatesIgnoringCase(t *testing.T) {
	hist := []Utterance{
		{Text: "thank you so much"},
		{Text: "thank you so much"},
	}
	tasks := New(WithMaxTasks(20)).Generate(hist, template.AgentStateFingerprint{}, template.UserImpressionFingerprint{})
	seen := map[string]int{}
	for _, task := range tasks {
		seen[strings.ToLower(task.Query)]++
	}
	for q, c := range seen {
		assert.Equal(t, 1, c, q)
	}
}

func TestRecentUserTexts(t *testing.T) {
	var hist []Utterance
	for i := 0; i < 25; i++ {
		hist = append(hist, Utterance{Speaker: "user", Text: fmt.Sprintf("u%d", i)})
		hist = append(hist, Utterance{Speaker: "assistant", Text: "ok"})
	}
	got := RecentUserTexts(hist, Window)
	require.Len(t, got, Window)
	assert.Equal(t, "u5", got[0])
	assert.Equal(t, "u24", got[Window-1])
}

func TestQuestionRatioAndSentiment(t *testing.T) {
	assert.Equal(t, 0.0, QuestionRatio(nil))
	assert.Equal(t, 0.5, QuestionRatio([]string{"where are you?", "fine"}))

	assert.Equal(t, Positive, DetectSentiment([]string{"I'm so happy, what a great day"}))
	assert.Equal(t, Negative, DetectSentiment([]string{"bad day"}))
	assert.Equal(t, Neutral, DetectSentiment([]string{"happy but tired"}))
}
