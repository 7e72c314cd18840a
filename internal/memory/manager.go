// Package memory is the facade over the HAM store: it turns experiences
// into sealed records, recalls them, and keeps templates as records.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/importance"
	"github.com/rcliao/ham/internal/logging"
	"github.com/rcliao/ham/internal/metrics"
	"github.com/rcliao/ham/internal/model"
	"github.com/rcliao/ham/internal/processor"
	"github.com/rcliao/ham/internal/query"
	"github.com/rcliao/ham/internal/store"
	"github.com/rcliao/ham/internal/template"
	"github.com/rcliao/ham/internal/vector"
)

const (
	defaultRelevance = 0.5
	recallBoost      = 0.1
	defaultMaxUsage  = 10 << 30
)

// Options wires a Manager. Core and Codec are required.
type Options struct {
	Core    *store.Core
	Codec   *processor.Codec
	Scorer  *importance.Scorer
	Vectors *vector.Manager
	// Library is consulted by RetrieveResponseTemplates alongside stored
	// templates. May be nil.
	Library *template.Library
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// MaxUsageBytes refuses new experiences once the store is this big.
	MaxUsageBytes int64
	Now           func() time.Time
	// OnActivity is called after foreground use: stores, recalls and
	// queries. Template writes do not count.
	OnActivity func()
}

// Manager owns the in-memory record map. Every mutation runs
// allocate-id, mutate and persist under one lock.
type Manager struct {
	mu        sync.RWMutex
	snap      *store.Snapshot
	templates map[string]string // template id -> record id

	core     *store.Core
	codec    *processor.Codec
	scorer   *importance.Scorer
	vectors  *vector.Manager
	library  *template.Library
	engine   *query.Engine
	cache    *ristretto.Cache
	logger   *zap.Logger
	metrics  *metrics.Collector
	maxUsage int64
	now      func() time.Time

	onActivity func() // guarded by mu
}

// New loads the persisted state and returns a ready manager.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Core == nil || opts.Codec == nil {
		return nil, hamerr.New(hamerr.KindInvalid, "memory.new", "core and codec are required")
	}
	if opts.Scorer == nil {
		opts.Scorer = importance.NewScorer()
	}
	if opts.Vectors == nil {
		opts.Vectors = vector.NewManager(nil, vector.ManagerOptions{})
	}
	if opts.MaxUsageBytes <= 0 {
		opts.MaxUsageBytes = defaultMaxUsage
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Metrics = metrics.OrNew(opts.Metrics)
	logger := logging.OrNop(opts.Logger)

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("template cache: %w", err)
	}

	m := &Manager{
		snap:      opts.Core.Load(ctx),
		templates: make(map[string]string),
		core:      opts.Core,
		codec:     opts.Codec,
		scorer:    opts.Scorer,
		vectors:   opts.Vectors,
		library:   opts.Library,
		engine:    query.NewEngine(opts.Codec, opts.Vectors, logger, opts.Metrics),
		cache:     cache,
		logger:    logger,
		metrics:   opts.Metrics,
		maxUsage:  opts.MaxUsageBytes,
		now:       opts.Now,

		onActivity: opts.OnActivity,
	}
	for id, r := range m.snap.Memories {
		if tid := r.Metadata.String(model.MetaTemplateID); tid != "" && r.DataType == model.DataTypeTemplate {
			m.templates[tid] = id
		}
	}
	m.metrics.Records.Set(float64(len(m.snap.Memories)))
	logger.Info("memory loaded",
		zap.Int("records", len(m.snap.Memories)),
		zap.Int("templates", len(m.templates)),
		zap.Int64("next_id", m.snap.NextMemoryID))
	return m, nil
}

// StoreExperience abstracts, checksums, scores, seals and persists raw
// content, returning the new record id. On a failed save the record is
// dropped again; the id counter is not rolled back.
func (m *Manager) StoreExperience(ctx context.Context, raw any, dataType string, meta map[string]any) (string, error) {
	if usage, err := m.core.Usage(); err == nil && usage >= m.maxUsage {
		m.metrics.StoreFailures.WithLabelValues(string(hamerr.KindInsufficientSpace)).Inc()
		return "", hamerr.New(hamerr.KindInsufficientSpace, "memory.store", "store holds %d bytes, cap is %d", usage, m.maxUsage)
	}

	md := model.NormalizeMetadata(meta)
	payload, err := processor.EncodePayload(raw, dataType)
	if err != nil {
		m.metrics.StoreFailures.WithLabelValues(string(hamerr.KindOf(err))).Inc()
		return "", err
	}

	m.mu.Lock()
	id, err := m.insertLocked(ctx, payload, dataType, md)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.vectors.Forward(id, payload.Text, md)
	hook := m.onActivity
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return id, nil
}

// SetActivityHook replaces the OnActivity callback, e.g. with a precompute
// service's RecordActivity. nil removes it.
func (m *Manager) SetActivityHook(fn func()) {
	m.mu.Lock()
	m.onActivity = fn
	m.mu.Unlock()
}

func (m *Manager) activity() {
	m.mu.RLock()
	hook := m.onActivity
	m.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

// insertLocked allocates an id and persists a new record. Callers hold mu.
func (m *Manager) insertLocked(ctx context.Context, payload processor.Payload, dataType string, md model.Metadata) (string, error) {
	id := model.FormatID(m.snap.NextMemoryID)
	m.snap.NextMemoryID++
	now := m.now().UTC()

	md[model.MetaChecksum] = processor.Checksum(payload.Bytes)
	if _, ok := md[model.MetaImportance]; !ok {
		scoring := md.Clone()
		scoring[model.MetaMemoryID] = id
		scoring[model.MetaTimestamp] = now.Format(time.RFC3339Nano)
		md[model.MetaImportance] = m.scorer.Calculate(payload.Text, scoring)
	}

	sealed, err := m.codec.Seal(payload.Bytes)
	if err != nil {
		return "", fmt.Errorf("seal payload: %w", err)
	}

	m.snap.Memories[id] = model.MemoryRecord{
		ID:               id,
		Timestamp:        now,
		DataType:         dataType,
		EncryptedPackage: sealed,
		Metadata:         md,
		Relevance:        defaultRelevance,
		Protected:        md.Bool("protected"),
	}
	if err := m.core.Save(ctx, m.snap); err != nil {
		delete(m.snap.Memories, id)
		m.metrics.StoreFailures.WithLabelValues(kindLabel(err)).Inc()
		m.logger.Error("persist failed, record discarded", zap.String("id", id), zap.Error(err))
		return "", err
	}
	m.metrics.Stores.Inc()
	m.metrics.Records.Set(float64(len(m.snap.Memories)))
	return id, nil
}

// Recall is the readable form of a record.
type Recall struct {
	ID        string         `json:"id"`
	DataType  string         `json:"data_type"`
	Timestamp time.Time      `json:"timestamp"`
	Relevance float64        `json:"relevance"`
	Metadata  model.Metadata `json:"metadata"`
	Content   string         `json:"content"`
}

// RecallGist returns readable content and bumps the record's relevance.
// A checksum mismatch is logged and the content still returned.
func (m *Manager) RecallGist(ctx context.Context, id string) (*Recall, error) {
	r, err := m.recallGist(id)
	if err == nil {
		m.activity()
	}
	return r, err
}

func (m *Manager) recallGist(id string) (*Recall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.snap.Memories[id]
	if !ok {
		m.metrics.Recalls.WithLabelValues("gist", "not_found").Inc()
		return nil, hamerr.NotFound("memory.recall", id)
	}
	plain, err := m.codec.Open(rec.EncryptedPackage)
	if err != nil {
		m.metrics.IntegrityFailures.Inc()
		m.metrics.Recalls.WithLabelValues("gist", "error").Inc()
		return nil, err
	}
	if want := rec.Metadata.String(model.MetaChecksum); want != "" && want != processor.Checksum(plain) {
		m.metrics.IntegrityFailures.Inc()
		m.logger.Warn("checksum mismatch on recall", zap.String("id", id))
	}

	content := string(plain)
	if rec.IsDialogue() {
		g, err := processor.DecodeGist(plain)
		if err != nil {
			m.metrics.Recalls.WithLabelValues("gist", "error").Inc()
			return nil, err
		}
		content = processor.RehydrateTextGist(g)
	}

	rec.Relevance = min(1.0, rec.Relevance+recallBoost)
	m.snap.Memories[id] = rec
	m.scorer.RecordAccess(id)
	m.metrics.Recalls.WithLabelValues("gist", "ok").Inc()

	return &Recall{
		ID:        id,
		DataType:  rec.DataType,
		Timestamp: rec.Timestamp,
		Relevance: rec.Relevance,
		Metadata:  rec.Metadata.Clone(),
		Content:   content,
	}, nil
}

// RawGist is the structured payload of a record: the gist for dialogue
// text, the raw content otherwise.
type RawGist struct {
	ID         string      `json:"id"`
	DataType   string      `json:"data_type"`
	Gist       *model.Gist `json:"gist,omitempty"`
	RawContent string      `json:"raw_content,omitempty"`
}

// RecallRawGist returns the structured payload. Unlike RecallGist a
// checksum mismatch is an error.
func (m *Manager) RecallRawGist(ctx context.Context, id string) (*RawGist, error) {
	m.mu.RLock()
	rec, ok := m.snap.Memories[id]
	m.mu.RUnlock()
	if !ok {
		m.metrics.Recalls.WithLabelValues("raw", "not_found").Inc()
		return nil, hamerr.NotFound("memory.recall_raw", id)
	}

	plain, err := m.openVerified(rec)
	if err != nil {
		m.metrics.Recalls.WithLabelValues("raw", "error").Inc()
		return nil, err
	}
	m.metrics.Recalls.WithLabelValues("raw", "ok").Inc()
	m.activity()

	out := &RawGist{ID: id, DataType: rec.DataType}
	if !rec.IsDialogue() {
		out.RawContent = string(plain)
		return out, nil
	}
	g, err := processor.DecodeGist(plain)
	if err != nil {
		return nil, err
	}
	out.Gist = &g
	return out, nil
}

// openVerified decodes a payload and fails on checksum mismatch.
func (m *Manager) openVerified(rec model.MemoryRecord) ([]byte, error) {
	plain, err := m.codec.Open(rec.EncryptedPackage)
	if err != nil {
		m.metrics.IntegrityFailures.Inc()
		return nil, err
	}
	if want := rec.Metadata.String(model.MetaChecksum); want != "" && want != processor.Checksum(plain) {
		m.metrics.IntegrityFailures.Inc()
		return nil, hamerr.New(hamerr.KindIntegrity, "memory.recall", "checksum mismatch for %s", rec.ID)
	}
	return plain, nil
}

// IncrementMetadataField adds delta to a numeric metadata field, treating
// a missing field as zero, and persists. A failed save restores the old
// value.
func (m *Manager) IncrementMetadataField(ctx context.Context, id, field string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.snap.Memories[id]
	if !ok {
		return 0, hamerr.NotFound("memory.increment", id)
	}
	cur := 0.0
	if v, exists := rec.Metadata[field]; exists {
		if !model.IsNumeric(v) {
			return 0, hamerr.New(hamerr.KindInvalid, "memory.increment", "field %q of %s is not numeric", field, id)
		}
		cur, _ = rec.Metadata.Float(field)
	}

	updated := rec
	updated.Metadata = rec.Metadata.Clone()
	updated.Metadata[field] = cur + delta
	m.snap.Memories[id] = updated
	if err := m.core.Save(ctx, m.snap); err != nil {
		m.snap.Memories[id] = rec
		return 0, err
	}
	return cur + delta, nil
}

// QueryCoreMemory filters and ranks records.
func (m *Manager) QueryCoreMemory(ctx context.Context, p query.Params) []query.Result {
	defer m.activity()
	return m.engine.Query(m.recordList(), p)
}

// QueryByDateRange returns records stored between start and end, newest
// relevance first.
func (m *Manager) QueryByDateRange(ctx context.Context, start, end time.Time, limit int) []query.Result {
	return m.QueryCoreMemory(ctx, query.Params{DateRange: &query.DateRange{Start: start, End: end}, Limit: limit})
}

// RetrieveRelevantMemories ranks records by semantic similarity. Empty
// without a semantic index.
func (m *Manager) RetrieveRelevantMemories(ctx context.Context, text string, limit int) []query.Memory {
	m.mu.RLock()
	recs := make(map[string]model.MemoryRecord, len(m.snap.Memories))
	for id, r := range m.snap.Memories {
		recs[id] = r.Clone()
	}
	m.mu.RUnlock()
	defer m.activity()
	return m.engine.Relevant(ctx, recs, text, limit)
}

func (m *Manager) recordList() []model.MemoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.MemoryRecord, 0, len(m.snap.Memories))
	for _, r := range m.snap.Memories {
		out = append(out, r.Clone())
	}
	return out
}

// EnforceCapacity deletes unprotected, non-template records with the
// lowest relevance (oldest first on ties) until at most maxRecords remain.
// One call removes at most max(10, n/10) records. Returns the number
// removed.
func (m *Manager) EnforceCapacity(ctx context.Context, maxRecords int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.snap.Memories)
	if maxRecords <= 0 || n <= maxRecords {
		return 0, nil
	}
	var candidates []model.MemoryRecord
	for _, r := range m.snap.Memories {
		if !r.Protected && r.DataType != model.DataTypeTemplate {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Relevance != b.Relevance {
			return a.Relevance < b.Relevance
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	remove := min(n-maxRecords, max(10, n/10), len(candidates))
	if remove <= 0 {
		return 0, nil
	}
	removed := candidates[:remove]
	for _, r := range removed {
		delete(m.snap.Memories, r.ID)
	}
	if err := m.core.Save(ctx, m.snap); err != nil {
		for _, r := range removed {
			m.snap.Memories[r.ID] = r
		}
		return 0, err
	}
	for _, r := range removed {
		m.scorer.Forget(r.ID)
	}
	m.metrics.Records.Set(float64(len(m.snap.Memories)))
	m.logger.Info("capacity sweep", zap.Int("removed", remove), zap.Int("remaining", len(m.snap.Memories)))
	return remove, nil
}

// Stats summarizes the store.
type Stats struct {
	Records    int            `json:"records"`
	Templates  int            `json:"templates"`
	NextID     string         `json:"next_id"`
	UsageBytes int64          `json:"usage_bytes"`
	Encrypted  bool           `json:"encrypted"`
	ByType     map[string]int `json:"by_type"`
	Protected  int            `json:"protected"`
}

// Stats reports counts and the persisted size.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Records:   len(m.snap.Memories),
		Templates: len(m.templates),
		NextID:    model.FormatID(m.snap.NextMemoryID),
		Encrypted: m.codec.Encrypting(),
		ByType:    make(map[string]int),
	}
	for _, r := range m.snap.Memories {
		s.ByType[r.DataType]++
		if r.Protected {
			s.Protected++
		}
	}
	m.mu.RUnlock()
	s.UsageBytes, _ = m.core.Usage()
	return s
}

// Scorer exposes the importance scorer, e.g. for history cleanup.
func (m *Manager) Scorer() *importance.Scorer { return m.scorer }

// Metrics exposes the collector the manager reports to.
func (m *Manager) Metrics() *metrics.Collector { return m.metrics }

// Close waits for background index writes and releases resources.
func (m *Manager) Close() error {
	m.vectors.Close()
	m.cache.Close()
	err := m.core.Close()
	m.codec.Close()
	return err
}

func kindLabel(err error) string {
	if k := hamerr.KindOf(err); k != "" {
		return string(k)
	}
	return "OTHER"
}
