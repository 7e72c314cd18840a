package memory

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/model"
	"github.com/rcliao/ham/internal/processor"
	"github.com/rcliao/ham/internal/template"
)

var _ template.Repository = (*Manager)(nil)

// StoreTemplate persists t as a memory_template record and returns its
// template id, assigning one when empty.
func (m *Manager) StoreTemplate(ctx context.Context, t *template.Template) (string, error) {
	if t == nil {
		return "", hamerr.New(hamerr.KindInvalid, "memory.store_template", "nil template")
	}
	t = t.Clone()
	if t.ID == "" {
		t.ID = template.NewID()
	}
	now := m.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	payload, err := templatePayload(t)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[t.ID]; exists {
		return "", hamerr.New(hamerr.KindInvalid, "memory.store_template", "template %q already stored", t.ID)
	}
	recID, err := m.insertLocked(ctx, payload, model.DataTypeTemplate, templateMetadata(t, nil))
	if err != nil {
		return "", err
	}
	m.templates[t.ID] = recID
	return t.ID, nil
}

// cachedTemplate pairs a decoded template with the checksum of the record
// it came from. Ristretto applies deletes asynchronously, so a hit is only
// trusted while the checksum still matches.
type cachedTemplate struct {
	checksum string
	tpl      *template.Template
}

// GetTemplate loads a stored template by template id.
func (m *Manager) GetTemplate(ctx context.Context, id string) (*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recID, ok := m.templates[id]
	if !ok {
		return nil, hamerr.NotFound("memory.get_template", id)
	}
	rec := m.snap.Memories[recID]
	sum := rec.Metadata.String(model.MetaChecksum)
	if v, ok := m.cache.Get(id); ok {
		if c, ok := v.(cachedTemplate); ok && c.checksum == sum {
			return c.tpl.Clone(), nil
		}
	}

	t, err := m.decodeTemplate(rec)
	if err != nil {
		return nil, err
	}
	m.cache.Set(id, cachedTemplate{checksum: sum, tpl: t}, 1)
	return t.Clone(), nil
}

// UpdateTemplate rewrites a stored template under its existing record.
func (m *Manager) UpdateTemplate(ctx context.Context, t *template.Template) error {
	if t == nil {
		return hamerr.New(hamerr.KindInvalid, "memory.update_template", "nil template")
	}
	t = t.Clone()
	t.UpdatedAt = m.now().UTC()
	payload, err := templatePayload(t)
	if err != nil {
		return err
	}
	sealed, err := m.codec.Seal(payload.Bytes)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	recID, ok := m.templates[t.ID]
	if !ok {
		return hamerr.NotFound("memory.update_template", t.ID)
	}
	old := m.snap.Memories[recID]
	updated := old
	updated.EncryptedPackage = sealed
	updated.Metadata = templateMetadata(t, old.Metadata)
	updated.Metadata[model.MetaChecksum] = processor.Checksum(payload.Bytes)

	m.snap.Memories[recID] = updated
	m.cache.Del(t.ID)
	if err := m.core.Save(ctx, m.snap); err != nil {
		m.snap.Memories[recID] = old
		return err
	}
	return nil
}

// DeleteTemplate removes a stored template and its record.
func (m *Manager) DeleteTemplate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recID, ok := m.templates[id]
	if !ok {
		return hamerr.NotFound("memory.delete_template", id)
	}
	old := m.snap.Memories[recID]
	delete(m.snap.Memories, recID)
	m.cache.Del(id)
	if err := m.core.Save(ctx, m.snap); err != nil {
		m.snap.Memories[recID] = old
		return err
	}
	delete(m.templates, id)
	m.scorer.Forget(recID)
	m.metrics.Records.Set(float64(len(m.snap.Memories)))
	return nil
}

// GetAllTemplates returns every stored template ordered by id. Records
// that fail to decode are logged and skipped.
func (m *Manager) GetAllTemplates(ctx context.Context) ([]*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.templates))
	for id := range m.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*template.Template, 0, len(ids))
	for _, id := range ids {
		t, err := m.decodeTemplate(m.snap.Memories[m.templates[id]])
		if err != nil {
			m.logger.Warn("skipping unreadable template", zap.String("template_id", id), zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// RecordTemplateUsage updates usage statistics for a stored or built-in
// template.
func (m *Manager) RecordTemplateUsage(ctx context.Context, id string, success bool) error {
	t, err := m.GetTemplate(ctx, id)
	if err == nil {
		t.RecordUsage(success, m.now().UTC())
		return m.UpdateTemplate(ctx, t)
	}
	if hamerr.KindOf(err) == hamerr.KindNotFound && m.library != nil && m.library.RecordUsage(id, success, m.now().UTC()) {
		return nil
	}
	return err
}

// RetrieveResponseTemplates ranks stored and built-in templates against
// the query and fingerprints. A stored template shadows a built-in one
// with the same id.
func (m *Manager) RetrieveResponseTemplates(ctx context.Context, query string, state template.AgentStateFingerprint, impression template.UserImpressionFingerprint, limit int) ([]template.Match, error) {
	stored, err := m.GetAllTemplates(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(stored))
	all := make([]*template.Template, 0, len(stored))
	for _, t := range stored {
		seen[t.ID] = true
		all = append(all, t)
	}
	if m.library != nil {
		for _, t := range m.library.All() {
			if !seen[t.ID] {
				all = append(all, t)
			}
		}
	}
	return template.Rank(all, query, state, impression, limit), nil
}

func (m *Manager) decodeTemplate(rec model.MemoryRecord) (*template.Template, error) {
	plain, err := m.openVerified(rec)
	if err != nil {
		return nil, err
	}
	return template.Unmarshal(plain)
}

func templatePayload(t *template.Template) (processor.Payload, error) {
	b, err := t.Marshal()
	if err != nil {
		return processor.Payload{}, err
	}
	return processor.Payload{Bytes: b, Text: t.Content}, nil
}

func templateMetadata(t *template.Template, base model.Metadata) model.Metadata {
	md := base.Clone()
	if md == nil {
		md = model.Metadata{}
	}
	md[model.MetaTemplateID] = t.ID
	md[model.MetaCategory] = string(t.Category)
	md[model.MetaIsTemplate] = true
	if src, ok := t.Metadata["source"].(string); ok && src != "" {
		md[model.MetaSource] = src
	}
	return md
}
