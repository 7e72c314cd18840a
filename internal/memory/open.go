package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/chunker"
	"github.com/rcliao/ham/internal/config"
	"github.com/rcliao/ham/internal/embedding"
	"github.com/rcliao/ham/internal/importance"
	"github.com/rcliao/ham/internal/logging"
	"github.com/rcliao/ham/internal/metrics"
	"github.com/rcliao/ham/internal/processor"
	"github.com/rcliao/ham/internal/resource"
	"github.com/rcliao/ham/internal/store"
	"github.com/rcliao/ham/internal/template"
	"github.com/rcliao/ham/internal/vector"
)

// Open builds a Manager and everything under it from cfg.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Collector) (*Manager, error) {
	logger = logging.OrNop(logger)
	m = metrics.OrNew(m)

	codec, err := openCodec(cfg.Encryption, logger)
	if err != nil {
		return nil, err
	}

	var backend store.Backend
	switch cfg.Storage.Backend {
	case "sqlite":
		backend, err = store.NewSQLiteBackend(cfg.StorePath(), codec)
	default:
		backend, err = store.NewFileBackend(cfg.StorePath(), codec)
	}
	if err != nil {
		codec.Close()
		return nil, fmt.Errorf("open %s backend: %w", cfg.Storage.Backend, err)
	}
	core := store.NewCore(backend, store.CoreOptions{
		Dir:          cfg.Storage.Dir,
		MinFreeBytes: cfg.Storage.MinFreeBytes,
		Monitor:      resource.NewSystem(),
		Logger:       logger,
	})

	scorer := importance.NewScorer(importance.WithWeights(importance.Weights{
		Keyword:  cfg.Importance.KeywordWeight,
		Content:  cfg.Importance.ContentWeight,
		Metadata: cfg.Importance.MetadataWeight,
		Access:   cfg.Importance.AccessWeight,
	}))

	mgr, err := New(ctx, Options{
		Core:          core,
		Codec:         codec,
		Scorer:        scorer,
		Vectors:       openVectors(cfg.Vector, logger, m),
		Library:       template.NewLibrary(),
		Logger:        logger,
		Metrics:       m,
		MaxUsageBytes: cfg.Storage.MaxUsageBytes,
	})
	if err != nil {
		core.Close()
		codec.Close()
		return nil, err
	}
	return mgr, nil
}

func openCodec(cfg config.EncryptionConfig, logger *zap.Logger) (*processor.Codec, error) {
	if cfg.Disabled {
		logger.Warn("encryption disabled; memories are stored compressed but in the clear")
		return processor.NewCodec(nil)
	}
	if cfg.Key != "" {
		key, err := processor.ParseKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		return processor.NewCodec(key)
	}
	key, err := processor.GenerateKey()
	if err != nil {
		return nil, err
	}
	logger.Warn("HAM_KEY not set; using an ephemeral key, stored memories will be unreadable after exit")
	return processor.NewCodec(key)
}

// openVectors returns a manager without an index when the index is
// disabled or cannot be opened.
func openVectors(cfg config.VectorConfig, logger *zap.Logger, m *metrics.Collector) *vector.Manager {
	opts := vector.ManagerOptions{Timeout: cfg.Timeout, Logger: logger, Metrics: m}
	if !cfg.Enabled {
		return vector.NewManager(nil, opts)
	}
	emb, err := embedding.New(embedding.Options{
		Provider: cfg.Embedder,
		Model:    cfg.Model,
		URL:      cfg.URL,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		logger.Warn("semantic index disabled", zap.Error(err))
		return vector.NewManager(nil, opts)
	}
	idx, err := vector.NewChromemIndex(vector.ChromemOptions{
		PersistDir: cfg.PersistDir,
		Collection: cfg.Collection,
		Embedder:   emb,
		Chunking:   chunker.Options{},
	})
	if err != nil {
		logger.Warn("semantic index disabled", zap.Error(err))
		return vector.NewManager(nil, opts)
	}
	return vector.NewManager(idx, opts)
}
