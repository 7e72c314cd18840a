// Package query filters and ranks stored records.
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/logging"
	"github.com/rcliao/ham/internal/metrics"
	"github.com/rcliao/ham/internal/model"
	"github.com/rcliao/ham/internal/processor"
	"github.com/rcliao/ham/internal/vector"
)

// DefaultLimit applies when Params.Limit is not positive.
const DefaultLimit = 5

// Opener reverses the payload pipeline. *processor.Codec implements it.
type Opener interface {
	Open(b []byte) ([]byte, error)
}

// DateRange is inclusive on both ends. A zero bound is open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Params selects records. Every non-zero field narrows the result.
type Params struct {
	Keywords []string
	// DataType matches by prefix.
	DataType        string
	DateRange       *DateRange
	MinImportance   float64
	MetadataFilters map[string]string
	Limit           int
}

// Result is one record returned by Query.
type Result struct {
	ID         string         `json:"id"`
	DataType   string         `json:"data_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Relevance  float64        `json:"relevance"`
	Importance float64        `json:"importance"`
	Protected  bool           `json:"protected"`
	Metadata   model.Metadata `json:"metadata"`
	Content    string         `json:"content,omitempty"`
}

// Memory is one record returned by a semantic lookup.
type Memory struct {
	ID        string         `json:"id"`
	Score     float64        `json:"score"`
	DataType  string         `json:"data_type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  model.Metadata `json:"metadata"`
	Content   string         `json:"content"`
}

// Engine runs queries over record sets handed to it by the manager.
type Engine struct {
	codec   Opener
	vectors *vector.Manager
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewEngine creates an engine. vectors may be nil.
func NewEngine(codec Opener, vectors *vector.Manager, logger *zap.Logger, m *metrics.Collector) *Engine {
	return &Engine{codec: codec, vectors: vectors, logger: logging.OrNop(logger), metrics: m}
}

// Query returns matching records, most relevant first.
func (e *Engine) Query(records []model.MemoryRecord, p Params) []Result {
	start := time.Now()
	defer e.observe("filter", start)

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	keywords := lowerAll(p.Keywords)

	type candidate struct {
		rec     model.MemoryRecord
		content string
	}
	var matched []candidate
	for _, r := range records {
		if p.DataType != "" && !strings.HasPrefix(r.DataType, p.DataType) {
			continue
		}
		if p.DateRange != nil && !p.DateRange.Contains(r.Timestamp) {
			continue
		}
		if p.MinImportance > 0 {
			if imp, _ := r.Metadata.Float(model.MetaImportance); imp < p.MinImportance {
				continue
			}
		}
		if !metadataMatches(r.Metadata, p.MetadataFilters) {
			continue
		}
		c := candidate{rec: r}
		if len(keywords) > 0 {
			display, search, err := e.decode(r)
			if err != nil {
				e.logger.Warn("skipping undecodable record", zap.String("id", r.ID), zap.Error(err))
				continue
			}
			if !containsAny(strings.ToLower(search), keywords) {
				continue
			}
			c.content = display
		}
		matched = append(matched, c)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].rec, matched[j].rec
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Result, 0, len(matched))
	for _, c := range matched {
		content := c.content
		if content == "" {
			if display, _, err := e.decode(c.rec); err == nil {
				content = display
			} else {
				e.logger.Warn("record content unavailable", zap.String("id", c.rec.ID), zap.Error(err))
			}
		}
		imp, _ := c.rec.Metadata.Float(model.MetaImportance)
		out = append(out, Result{
			ID:         c.rec.ID,
			DataType:   c.rec.DataType,
			Timestamp:  c.rec.Timestamp,
			Relevance:  c.rec.Relevance,
			Importance: imp,
			Protected:  c.rec.Protected,
			Metadata:   c.rec.Metadata.Clone(),
			Content:    content,
		})
	}
	return out
}

// Relevant ranks records by semantic similarity to text. Without a
// semantic index the result is empty.
func (e *Engine) Relevant(ctx context.Context, records map[string]model.MemoryRecord, text string, limit int) []Memory {
	start := time.Now()
	defer e.observe("semantic", start)

	if limit <= 0 {
		limit = DefaultLimit
	}
	if !e.vectors.Available() {
		return nil
	}
	var out []Memory
	for _, h := range e.vectors.Query(ctx, text, limit) {
		r, ok := records[h.ID]
		if !ok {
			continue
		}
		content := h.Content
		if display, _, err := e.decode(r); err == nil {
			content = display
		}
		out = append(out, Memory{
			ID:        r.ID,
			Score:     h.Score,
			DataType:  r.DataType,
			Timestamp: r.Timestamp,
			Metadata:  r.Metadata.Clone(),
			Content:   content,
		})
	}
	return out
}

// decode returns display text and the text keyword filters search.
func (e *Engine) decode(r model.MemoryRecord) (display, search string, err error) {
	plain, err := e.codec.Open(r.EncryptedPackage)
	if err != nil {
		return "", "", err
	}
	if !r.IsDialogue() {
		s := string(plain)
		return s, s, nil
	}
	g, err := processor.DecodeGist(plain)
	if err != nil {
		return "", "", err
	}
	return processor.RehydrateTextGist(g), processor.GistText(g), nil
}

func (e *Engine) observe(kind string, start time.Time) {
	if e.metrics != nil {
		e.metrics.QueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func metadataMatches(meta model.Metadata, filters map[string]string) bool {
	for k, want := range filters {
		if _, ok := meta[k]; !ok || meta.String(k) != want {
			return false
		}
	}
	return true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts RFC3339 and zone-less ISO-8601 forms. Zone-less
// inputs are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, hamerr.New(hamerr.KindInvalid, "query.parse_date", "unrecognized date %q", s)
}
