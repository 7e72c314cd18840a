package template

import (
	"sort"
	"sync"
	"time"
)

// Library is an in-memory catalog of templates. Construct one with
// NewLibrary and pass it to whoever needs it.
type Library struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

type builtin struct {
	id       string
	cat      Category
	content  string
	keywords []string
	mood     map[string]float64
	style    string
}

var builtins = []builtin{
	{"builtin_greeting_hello", Greeting, "Hello! It's really nice to hear from you.", []string{"hello", "hi"}, map[string]float64{"valence": 0.7}, ""},
	{"builtin_greeting_morning", Greeting, "Good morning! Did you sleep well?", []string{"morning"}, map[string]float64{"valence": 0.7}, ""},
	{"builtin_greeting_back", Greeting, "Welcome back! I was hoping you'd stop by.", []string{"back", "again"}, map[string]float64{"valence": 0.8}, "warm"},
	{"builtin_farewell_bye", Farewell, "Goodbye for now. Talk to you soon!", []string{"bye", "goodbye"}, nil, ""},
	{"builtin_farewell_night", Farewell, "Good night, sleep well and sweet dreams.", []string{"night", "sleep"}, map[string]float64{"valence": 0.6}, "warm"},
	{"builtin_smalltalk_day", SmallTalk, "How has your day been so far?", []string{"day", "today"}, nil, ""},
	{"builtin_smalltalk_weather", SmallTalk, "I hope the weather is treating you kindly today.", []string{"weather", "rain", "sunny"}, nil, ""},
	{"builtin_question_clarify", Question, "Could you tell me a bit more about what you mean?", []string{"what", "mean"}, nil, ""},
	{"builtin_question_think", Question, "That's a good question. Let me think about it for a moment.", []string{"why", "how"}, nil, "thoughtful"},
	{"builtin_emotional_happy", Emotional, "That makes me really happy to hear!", []string{"happy", "glad", "excited"}, map[string]float64{"valence": 0.9}, ""},
	{"builtin_emotional_miss", Emotional, "I missed you too. It's good to be talking again.", []string{"miss", "missed"}, map[string]float64{"valence": 0.7}, "warm"},
	{"builtin_affirmation_yes", Affirmation, "Yes, that sounds like a great idea.", []string{"yes", "sure", "idea"}, nil, ""},
	{"builtin_affirmation_agree", Affirmation, "I completely agree with you.", []string{"agree", "right"}, nil, ""},
	{"builtin_negation_no", Negation, "No worries, we don't have to do that.", []string{"no", "not"}, nil, ""},
	{"builtin_negation_disagree", Negation, "I see it a little differently, but I understand your point.", []string{"disagree", "wrong"}, nil, "thoughtful"},
	{"builtin_curiosity_tellmore", Curiosity, "Ooh, that sounds interesting. Tell me more!", []string{"interesting", "guess"}, map[string]float64{"valence": 0.7}, ""},
	{"builtin_curiosity_wonder", Curiosity, "I've been wondering about that too. What got you thinking about it?", []string{"wonder", "curious"}, nil, ""},
	{"builtin_intimacy_here", Intimacy, "I'm right here with you.", []string{"hug", "close", "together"}, map[string]float64{"valence": 0.8}, "warm"},
	{"builtin_support_rough", Support, "I'm sorry today was rough. Do you want to talk about it?", []string{"rough", "bad", "tired"}, map[string]float64{"valence": 0.4}, "warm"},
	{"builtin_support_lonely", Support, "You're not alone. I'm always happy to keep you company.", []string{"lonely", "alone", "sad"}, map[string]float64{"valence": 0.4}, "warm"},
	{"builtin_help_offer", Help, "Of course, I'd be glad to help. What do you need?", []string{"help", "can you"}, nil, ""},
	{"builtin_help_steps", Help, "Let's take it one step at a time. What's the first thing that's blocking you?", []string{"stuck", "how do i"}, nil, "thoughtful"},
	{"builtin_gratitude_welcome", Gratitude, "You're very welcome! I'm glad I could help.", []string{"thanks", "thank"}, map[string]float64{"valence": 0.8}, ""},
	{"builtin_apology_ok", Apology, "It's okay, no need to apologize.", []string{"sorry", "apologize"}, nil, "warm"},
	{"builtin_humor_laugh", Humor, "Haha, that's a good one!", []string{"joke", "funny", "lol"}, map[string]float64{"valence": 0.8}, "playful"},
	{"builtin_unknown_fallback", Unknown, "Hmm, I'm not sure I followed that. Could you say it another way?", nil, nil, ""},
}

// NewLibrary returns a catalog preloaded with the built-in templates.
func NewLibrary() *Library {
	l := &Library{templates: make(map[string]*Template, len(builtins))}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, b := range builtins {
		t := &Template{
			ID:          b.id,
			Category:    b.cat,
			Content:     b.content,
			Keywords:    b.keywords,
			AgentState:  AgentStateFingerprint{Mood: b.mood},
			Impression:  UserImpressionFingerprint{PreferredStyle: b.style},
			SuccessRate: neutral,
			CreatedAt:   created,
			UpdatedAt:   created,
			Metadata:    map[string]any{"source": "builtin"},
		}
		l.templates[t.ID] = t
	}
	return l
}

// NewEmptyLibrary returns a catalog with no templates.
func NewEmptyLibrary() *Library {
	return &Library{templates: make(map[string]*Template)}
}

// Add inserts or replaces t.
func (l *Library) Add(t *Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[t.ID] = t.Clone()
}

// Remove deletes the template with id and reports whether it existed.
func (l *Library) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.templates[id]
	delete(l.templates, id)
	return ok
}

// Get returns a copy of the template with id.
func (l *Library) Get(id string) (*Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Len is the number of templates.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.templates)
}

// All returns copies of every template ordered by id.
func (l *Library) All() []*Template {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Template, 0, len(l.templates))
	for _, t := range l.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByCategory returns the templates of one category ordered by id.
func (l *Library) ByCategory(c Category) []*Template {
	var out []*Template
	for _, t := range l.All() {
		if t.Category == c {
			out = append(out, t)
		}
	}
	return out
}

// RecordUsage updates the usage statistics of a catalog template.
func (l *Library) RecordUsage(id string, success bool, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.templates[id]
	if ok {
		t.RecordUsage(success, now)
	}
	return ok
}

// Best scores every template and returns the n best, highest first.
func (l *Library) Best(query string, state AgentStateFingerprint, impression UserImpressionFingerprint, n int) []Match {
	return Rank(l.All(), query, state, impression, n)
}

// Rank scores templates and returns the n best. Ties keep id order.
func Rank(ts []*Template, query string, state AgentStateFingerprint, impression UserImpressionFingerprint, n int) []Match {
	matches := make([]Match, 0, len(ts))
	for _, t := range ts {
		matches = append(matches, Match{Template: t, Score: t.CalculateMatchScore(query, state, impression)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Template.ID < matches[j].Template.ID
	})
	if n > 0 && len(matches) > n {
		matches = matches[:n]
	}
	return matches
}
