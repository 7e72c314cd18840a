// Package template models reusable responses and scores how well a stored
// response fits the current query, agent state and user impression.
package template

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/ham/internal/hamerr"
)

// Match score weights.
const (
	weightKeyword    = 0.30
	weightState      = 0.40
	weightImpression = 0.20
	weightSuccess    = 0.10

	neutral = 0.5
)

// AgentStateFingerprint captures the agent's internal state along four
// axis groups. Values are expected in [0,1].
type AgentStateFingerprint struct {
	Arousal       map[string]float64 `json:"arousal,omitempty"`
	Mood          map[string]float64 `json:"mood,omitempty"`
	CognitiveLoad map[string]float64 `json:"cognitive_load,omitempty"`
	Fatigue       map[string]float64 `json:"fatigue,omitempty"`
}

func (s AgentStateFingerprint) groups() []map[string]float64 {
	return []map[string]float64{s.Arousal, s.Mood, s.CognitiveLoad, s.Fatigue}
}

// UserImpressionFingerprint captures what the agent knows of the user.
type UserImpressionFingerprint struct {
	RelationshipLevel float64  `json:"relationship_level"`
	PreferredStyle    string   `json:"preferred_style,omitempty"`
	InteractionCount  int      `json:"interaction_count"`
	Tags              []string `json:"tags,omitempty"`
}

// Template is a cached response together with the context it fits.
type Template struct {
	ID          string                    `json:"id"`
	Category    Category                  `json:"category"`
	Content     string                    `json:"content"`
	Keywords    []string                  `json:"keywords"`
	AgentState  AgentStateFingerprint     `json:"agent_state"`
	Impression  UserImpressionFingerprint `json:"impression"`
	UsageCount  int                       `json:"usage_count"`
	SuccessRate float64                   `json:"success_rate"`
	LastUsed    *time.Time                `json:"last_used,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	Metadata    map[string]any            `json:"metadata,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh, time-ordered template id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "tpl_" + ulid.MustNew(ulid.Now(), entropy).String()
}

// New creates a template with a fresh id and a neutral success rate.
func New(category Category, content string, keywords ...string) *Template {
	now := time.Now().UTC()
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Template{
		ID:          NewID(),
		Category:    category,
		Content:     content,
		Keywords:    kw,
		SuccessRate: neutral,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    map[string]any{},
	}
}

// Clone returns a deep copy.
func (t *Template) Clone() *Template {
	c := *t
	c.Keywords = append([]string(nil), t.Keywords...)
	c.Impression.Tags = append([]string(nil), t.Impression.Tags...)
	c.AgentState = AgentStateFingerprint{
		Arousal:       cloneMap(t.AgentState.Arousal),
		Mood:          cloneMap(t.AgentState.Mood),
		CognitiveLoad: cloneMap(t.AgentState.CognitiveLoad),
		Fatigue:       cloneMap(t.AgentState.Fatigue),
	}
	if t.LastUsed != nil {
		lu := *t.LastUsed
		c.LastUsed = &lu
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CalculateMatchScore blends keyword overlap, state similarity, impression
// similarity and past success into a score in [0,1].
func (t *Template) CalculateMatchScore(query string, state AgentStateFingerprint, impression UserImpressionFingerprint) float64 {
	score := weightKeyword*t.KeywordMatch(query) +
		weightState*StateSimilarity(t.AgentState, state) +
		weightImpression*ImpressionSimilarity(t.Impression, impression) +
		weightSuccess*clamp01(t.SuccessRate)
	return clamp01(score)
}

// KeywordMatch is the fraction of keywords found in query, ignoring case.
// A template without keywords scores neutral.
func (t *Template) KeywordMatch(query string) float64 {
	if len(t.Keywords) == 0 {
		return neutral
	}
	q := strings.ToLower(query)
	hits := 0
	for _, k := range t.Keywords {
		if k != "" && strings.Contains(q, strings.ToLower(k)) {
			hits++
		}
	}
	return float64(hits) / float64(len(t.Keywords))
}

// RecordUsage counts a use and moves the success rate toward the outcome.
func (t *Template) RecordUsage(success bool, now time.Time) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	t.UsageCount++
	t.SuccessRate = clamp01(t.SuccessRate)*0.8 + outcome*0.2
	now = now.UTC()
	t.LastUsed = &now
	t.UpdatedAt = now
}

// StateSimilarity compares two state fingerprints over the groups both
// sides populate. With no shared group it is neutral.
func StateSimilarity(a, b AgentStateFingerprint) float64 {
	ga, gb := a.groups(), b.groups()
	var sum float64
	var n int
	for i := range ga {
		if len(ga[i]) == 0 || len(gb[i]) == 0 {
			continue
		}
		sum += groupSimilarity(ga[i], gb[i])
		n++
	}
	if n == 0 {
		return neutral
	}
	return sum / float64(n)
}

func groupSimilarity(a, b map[string]float64) float64 {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	var sum float64
	for k := range keys {
		sum += 1 - math.Min(1, math.Abs(clamp01(a[k])-clamp01(b[k])))
	}
	return sum / float64(len(keys))
}

// ImpressionSimilarity compares two user impressions.
func ImpressionSimilarity(a, b UserImpressionFingerprint) float64 {
	rel := 1 - math.Abs(clamp01(a.RelationshipLevel)-clamp01(b.RelationshipLevel))

	style := neutral
	if a.PreferredStyle != "" && b.PreferredStyle != "" {
		style = 0
		if strings.EqualFold(a.PreferredStyle, b.PreferredStyle) {
			style = 1
		}
	}

	count := 1.0
	if hi := max(a.InteractionCount, b.InteractionCount); hi > 0 {
		count = float64(min(a.InteractionCount, b.InteractionCount)) / float64(hi)
	}

	return clamp01(0.4*rel + 0.3*style + 0.1*count + 0.2*jaccard(a.Tags, b.Tags))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return neutral
	}
	sa := make(map[string]bool, len(a))
	for _, s := range a {
		sa[strings.ToLower(s)] = true
	}
	union := len(sa)
	inter := 0
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		s = strings.ToLower(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		if sa[s] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Marshal encodes a template for storage.
func (t *Template) Marshal() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, hamerr.Wrap(hamerr.KindSerialization, "template.marshal", err)
	}
	return b, nil
}

// Unmarshal decodes a stored template.
func Unmarshal(b []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, hamerr.Wrap(hamerr.KindSerialization, "template.unmarshal", err)
	}
	return &t, nil
}

// Repository is the single persistence boundary for templates. Update
// keeps the template id stable.
type Repository interface {
	StoreTemplate(ctx context.Context, t *Template) (string, error)
	GetTemplate(ctx context.Context, id string) (*Template, error)
	UpdateTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, id string) error
	GetAllTemplates(ctx context.Context) ([]*Template, error)
}

// Match pairs a template with its score.
type Match struct {
	Template *Template `json:"template"`
	Score    float64   `json:"score"`
}
