package vector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/logging"
	"github.com/rcliao/ham/internal/metrics"
	"github.com/rcliao/ham/internal/model"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Manager is the best-effort front of an Index. Forwards run in the
// background; failures never reach the caller.
type Manager struct {
	index   Index
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewManager wraps index. A nil index makes every call a no-op.
func NewManager(index Index, opts ManagerOptions) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Manager{
		index:   index,
		timeout: opts.Timeout,
		logger:  logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
	}
}

// Available reports whether an index is configured.
func (m *Manager) Available() bool {
	return m != nil && m.index != nil
}

// Forward indexes text under id without blocking the caller.
func (m *Manager) Forward(id, text string, meta model.Metadata) {
	if !m.Available() || text == "" {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	md := flatten(meta)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.index.Add(ctx, id, text, md); err != nil {
			m.logger.Warn("semantic index add failed", zap.String("id", id), zap.Error(err))
			if m.metrics != nil {
				m.metrics.VectorFailures.Inc()
			}
		}
	}()
}

// Query ranks records against text. Errors yield an empty result.
func (m *Manager) Query(ctx context.Context, text string, limit int) []Hit {
	if !m.Available() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	hits, err := m.index.Query(ctx, text, limit)
	if err != nil {
		m.logger.Warn("semantic index query failed", zap.Error(err))
		if m.metrics != nil {
			m.metrics.VectorFailures.Inc()
		}
		return nil
	}
	return hits
}

// Wait blocks until outstanding forwards finish.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.wg.Wait()
}

// Close stops accepting forwards and waits for the outstanding ones.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

func flatten(meta model.Metadata) map[string]string {
	out := make(map[string]string, len(meta))
	for _, k := range meta.Keys() {
		if _, isList := meta[k].([]string); isList {
			continue
		}
		out[k] = meta.String(k)
	}
	return out
}
