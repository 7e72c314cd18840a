// Package importance scores how much an experience is worth keeping.
package importance

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/ham/internal/model"
	"github.com/rcliao/ham/internal/processor"
)

const (
	maxHistory     = 100
	recentAccess   = 24 * time.Hour
	decayPerDay    = 0.95
	decayFloor     = 0.3
	defaultHistory = 30
)

// Weights blend the factors. TimeDecay receives whatever the others leave
// of 1.0.
type Weights struct {
	Keyword  float64
	Content  float64
	Metadata float64
	Access   float64
}

// DefaultWeights are the standard factor weights.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.40, Content: 0.25, Metadata: 0.20, Access: 0.15}
}

// TimeDecay is the remaining weight.
func (w Weights) TimeDecay() float64 {
	rem := 1 - (w.Keyword + w.Content + w.Metadata + w.Access)
	if rem < 1e-9 {
		return 0
	}
	return rem
}

// Factors is the per-factor breakdown of a score.
type Factors struct {
	Keyword   float64 `json:"keyword"`
	Content   float64 `json:"content"`
	Metadata  float64 `json:"metadata"`
	Access    float64 `json:"access"`
	TimeDecay float64 `json:"time_decay"`
	Score     float64 `json:"score"`
}

var (
	urgentWords   = set("urgent", "important", "critical", "asap", "emergency", "immediately", "priority", "deadline")
	errorWords    = set("error", "bug", "fail", "failed", "failure", "crash", "exception", "broken", "issue", "problem")
	positiveWords = set("great", "excellent", "thanks", "thank", "love", "awesome", "perfect", "happy", "success", "wonderful")
	questionWords = set("what", "why", "how", "when", "where", "who", "which")

	codeRe  = regexp.MustCompile("(?m)```|\\bfunc\\s+\\w+\\(|\\bdef\\s+\\w+\\(|\\bclass\\s+\\w+|=>|\\{\\s*$|;\\s*$")
	digitRe = regexp.MustCompile(`\d`)
	urlRe   = regexp.MustCompile(`https?://\S+`)
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Scorer computes importance scores and tracks per-record access history.
// Safe for concurrent use.
type Scorer struct {
	weights Weights
	now     func() time.Time

	mu      sync.Mutex
	history map[string][]time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides the default weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a scorer.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		weights: DefaultWeights(),
		now:     time.Now,
		history: make(map[string][]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Calculate returns the blended score in [0,1].
func (s *Scorer) Calculate(content string, meta model.Metadata) float64 {
	return s.Explain(content, meta).Score
}

// Explain returns every factor along with the blended score.
func (s *Scorer) Explain(content string, meta model.Metadata) Factors {
	f := Factors{
		Keyword:   keywordFactor(content),
		Content:   contentFactor(content),
		Metadata:  metadataFactor(meta),
		Access:    s.accessFactor(meta.String(model.MetaMemoryID)),
		TimeDecay: s.timeDecay(meta),
	}
	w := s.weights
	score := w.Keyword*f.Keyword + w.Content*f.Content + w.Metadata*f.Metadata +
		w.Access*f.Access + w.TimeDecay()*f.TimeDecay
	f.Score = clamp(score)
	return f
}

func keywordFactor(content string) float64 {
	var urgent, errs, positive, question float64
	for _, tok := range processor.Tokenize(content) {
		switch {
		case urgentWords[tok]:
			urgent++
		case errorWords[tok]:
			errs++
		case positiveWords[tok]:
			positive++
		case questionWords[tok]:
			question++
		}
	}
	question += float64(strings.Count(content, "?"))

	score := math.Min(urgent*0.3, 0.6) +
		math.Min(errs*0.2, 0.4) +
		math.Min(positive*0.1, 0.2) +
		math.Min(question*0.1, 0.2)
	return math.Min(score, 1.0)
}

func contentFactor(content string) float64 {
	score := 0.0
	switch n := len([]rune(content)); {
	case n > 500:
		score += 0.3
	case n > 200:
		score += 0.2
	case n > 50:
		score += 0.1
	}
	if codeRe.MatchString(content) {
		score += 0.2
	}
	if digitRe.MatchString(content) {
		score += 0.1
	}
	if urlRe.MatchString(content) {
		score += 0.1
	}
	return math.Min(score, 0.5)
}

func metadataFactor(meta model.Metadata) float64 {
	score := 0.0
	switch strings.ToLower(meta.String(model.MetaSpeaker)) {
	case "user":
		score += 0.1
	case "system":
		score += 0.15
	}
	if meta.Bool("protected") {
		score += 0.2
	}
	switch strings.ToLower(firstNonEmpty(meta.String("importance"), meta.String("priority"))) {
	case "high", "critical":
		score += 0.3
	case "medium":
		score += 0.15
	}
	score += math.Min(float64(len(meta.Strings(model.MetaTags)))*0.05, 0.15)
	if meta.String("emotion") != "" || meta.String("emotional_context") != "" {
		score += 0.1
	}
	return math.Min(score, 0.5)
}

func (s *Scorer) accessFactor(id string) float64 {
	if id == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[id]
	if len(h) == 0 {
		return 0
	}
	score := math.Min(float64(len(h))/10, 0.7)
	if s.now().Sub(h[len(h)-1]) < recentAccess {
		score += 0.3
	}
	return score
}

func (s *Scorer) timeDecay(meta model.Metadata) float64 {
	raw := meta.String(model.MetaTimestamp)
	if raw == "" {
		return 1.0
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 1.0
	}
	return Decay(s.now().Sub(ts))
}

// Decay is 1.0 for anything younger than a day, then 0.95 per day down
// to a floor of 0.3.
func Decay(age time.Duration) float64 {
	if age < 24*time.Hour {
		return 1.0
	}
	days := age.Hours() / 24
	return math.Max(math.Pow(decayPerDay, days), decayFloor)
}

// RecordAccess appends an access for id, keeping the newest 100.
func (s *Scorer) RecordAccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[id], s.now())
	if len(h) > maxHistory {
		h = append([]time.Time(nil), h[len(h)-maxHistory:]...)
	}
	s.history[id] = h
}

// AccessCount returns how many accesses are retained for id.
func (s *Scorer) AccessCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[id])
}

// Forget drops the history of id.
func (s *Scorer) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, id)
}

// CleanupOldHistory drops accesses older than days and returns how many
// ids were left with no history and removed.
func (s *Scorer) CleanupOldHistory(days int) int {
	if days <= 0 {
		days = defaultHistory
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, h := range s.history {
		kept := h[:0]
		for _, t := range h {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(s.history, id)
			removed++
			continue
		}
		s.history[id] = kept
	}
	return removed
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
