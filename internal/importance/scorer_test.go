package importance

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/ham/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestScoreAlwaysInRange(t *testing.T) {
	s := NewScorer()
	inputs := []struct {
		content string
		meta    model.Metadata
	}{
		{"", nil},
		{"hi", model.Metadata{}},
		{strings.Repeat("URGENT critical error crash asap! ", 50) + "```func main() {}``` https://x.io 42 ???",
			model.Metadata{"speaker": "system", "protected": true, "importance": "critical",
				"tags": []string{"a", "b", "c", "d", "e"}, "emotion": "fear"}},
		{"thanks, this is great and perfect", model.Metadata{"timestamp": "not a time"}},
	}
	for _, in := range inputs {
		got := s.Calculate(in.content, in.meta)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestExplainFactors(t *testing.T) {
	s := NewScorer()
	f := s.Explain("Urgent: the deploy failed with an error. What now?", model.Metadata{"speaker": "user"})

	// urgent 0.3 + error (failed, error) 0.4 + question (what, ?) 0.2
	assert.InDelta(t, 0.9, f.Keyword, 1e-9)
	assert.InDelta(t, 0.1, f.Metadata, 1e-9)
	assert.Equal(t, 0.0, f.Access)
	assert.Equal(t, 1.0, f.TimeDecay)

	want := 0.40*f.Keyword + 0.25*f.Content + 0.20*f.Metadata + 0.15*f.Access
	assert.InDelta(t, want, f.Score, 1e-9)
}

func TestContentFactorCapped(t *testing.T) {
	long := strings.Repeat("x", 600) + " 123 https://example.com ```code```"
	assert.Equal(t, 0.5, contentFactor(long))
	assert.Equal(t, 0.0, contentFactor("short"))
}

func TestAccessFactor(t *testing.T) {
	clock := newClock()
	s := NewScorer(WithClock(clock.Now))
	meta := model.Metadata{model.MetaMemoryID: "mem_000001"}

	assert.Equal(t, 0.0, s.Explain("x", meta).Access)

	for i := 0; i < 3; i++ {
		s.RecordAccess("mem_000001")
	}
	assert.InDelta(t, 0.3+0.3, s.Explain("x", meta).Access, 1e-9)

	clock.Advance(48 * time.Hour)
	assert.InDelta(t, 0.3, s.Explain("x", meta).Access, 1e-9)
}

func TestAccessHistoryBounded(t *testing.T) {
	s := NewScorer()
	for i := 0; i < 250; i++ {
		s.RecordAccess("mem_000007")
	}
	assert.Equal(t, 100, s.AccessCount("mem_000007"))
	assert.InDelta(t, 1.0, s.accessFactor("mem_000007"), 1e-9)
}

func TestCleanupOldHistory(t *testing.T) {
	clock := newClock()
	s := NewScorer(WithClock(clock.Now))

	s.RecordAccess("old")
	clock.Advance(40 * 24 * time.Hour)
	s.RecordAccess("fresh")

	assert.Equal(t, 1, s.CleanupOldHistory(30))
	assert.Equal(t, 0, s.AccessCount("old"))
	assert.Equal(t, 1, s.AccessCount("fresh"))
}

func TestDecay(t *testing.T) {
	assert.Equal(t, 1.0, Decay(0))
	assert.Equal(t, 1.0, Decay(23*time.Hour))
	assert.InDelta(t, math.Pow(0.95, 2), Decay(48*time.Hour), 1e-9)
	assert.Equal(t, 0.3, Decay(365*24*time.Hour))
}

func TestTimeDecayWeightUsesRemainder(t *testing.T) {
	clock := newClock()
	w := Weights{Keyword: 0.2, Content: 0.2, Metadata: 0.2, Access: 0.2}
	s := NewScorer(WithWeights(w), WithClock(clock.Now))
	assert.InDelta(t, 0.2, w.TimeDecay(), 1e-9)

	fresh := s.Explain("plain", model.Metadata{model.MetaTimestamp: clock.Now().Format(time.RFC3339)})
	old := s.Explain("plain", model.Metadata{model.MetaTimestamp: clock.Now().Add(-30 * 24 * time.Hour).Format(time.RFC3339)})
	assert.Greater(t, fresh.Score, old.Score)
	assert.Equal(t, 0.0, DefaultWeights().TimeDecay())
}
