// Package config loads ham settings from defaults, an optional YAML file,
// .env files and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Importance ImportanceConfig `yaml:"importance"`
	Vector     VectorConfig     `yaml:"vector"`
	Precompute PrecomputeConfig `yaml:"precompute"`
	Generation GenerationConfig `yaml:"generation"`
	Log        LogConfig        `yaml:"log"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

type StorageConfig struct {
	Dir     string `yaml:"dir"`
	File    string `yaml:"file"`
	Backend string `yaml:"backend"` // file | sqlite
	// MinFreeBytes is the free-disk floor checked before every save.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
	// MaxUsageBytes caps the size of the persisted store.
	MaxUsageBytes int64 `yaml:"max_usage_bytes"`
	// MaxRecords bounds the record count; 0 disables the capacity sweep.
	MaxRecords int `yaml:"max_records"`
}

type EncryptionConfig struct {
	// Key is base64 of a 32-byte key. Empty means an ephemeral key.
	Key      string `yaml:"key"`
	Disabled bool   `yaml:"disabled"`
}

type ImportanceConfig struct {
	KeywordWeight  float64 `yaml:"keyword_weight"`
	ContentWeight  float64 `yaml:"content_weight"`
	MetadataWeight float64 `yaml:"metadata_weight"`
	AccessWeight   float64 `yaml:"access_weight"`
	HistoryDays    int     `yaml:"history_days"`
}

type VectorConfig struct {
	Enabled bool `yaml:"enabled"`
	// PersistDir keeps the chromem index on disk; empty means in memory.
	PersistDir string        `yaml:"persist_dir"`
	Collection string        `yaml:"collection"`
	Embedder   string        `yaml:"embedder"` // hash | ollama | openai
	Model      string        `yaml:"model"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"-"`
	Timeout    time.Duration `yaml:"timeout"`
}

type PrecomputeConfig struct {
	IdleThreshold     time.Duration `yaml:"idle_threshold"`
	CPUThreshold      float64       `yaml:"cpu_threshold"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	QueueSize         int           `yaml:"queue_size"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	MaxTasks          int           `yaml:"max_tasks"`
}

type GenerationConfig struct {
	Provider  string        `yaml:"provider"` // anthropic | openai | "" (disabled)
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"-"`
	MaxTokens int64         `yaml:"max_tokens"`
	System    string        `yaml:"system"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Dir:           filepath.Join(home, ".ham"),
			File:          "ham_core_memory.json",
			Backend:       "file",
			MinFreeBytes:  100 << 20,
			MaxUsageBytes: 10 << 30,
		},
		Importance: ImportanceConfig{
			KeywordWeight:  0.40,
			ContentWeight:  0.25,
			MetadataWeight: 0.20,
			AccessWeight:   0.15,
			HistoryDays:    30,
		},
		Vector: VectorConfig{
			Enabled:    true,
			Collection: "ham_memories",
			Embedder:   "hash",
			Timeout:    10 * time.Second,
		},
		Precompute: PrecomputeConfig{
			IdleThreshold:     5 * time.Minute,
			CPUThreshold:      30,
			TickInterval:      10 * time.Second,
			QueueSize:         100,
			GenerationTimeout: 2 * time.Minute,
			MaxTasks:          10,
		},
		Generation: GenerationConfig{
			MaxTokens: 512,
			Timeout:   2 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path may be empty; HAM_CONFIG is used
// then, and a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "defaults")

	if path == "" {
		path = os.Getenv("HAM_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	LoadDotEnv()
	cfg.applyEnv()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.LoadedFrom = append(c.LoadedFrom, path)
	return nil
}

// LoadDotEnv loads .env.local and .env from the working directory. Set
// variables are never overridden. HAM_DOTENV=0 disables it.
func LoadDotEnv() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("HAM_DOTENV"))) {
	case "0", "false", "off", "no":
		return
	}
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: load %s: %v\n", p, err)
		}
	}
}

func (c *Config) applyEnv() {
	c.Storage.Dir = getEnv("HAM_DIR", c.Storage.Dir)
	c.Storage.File = getEnv("HAM_FILE", c.Storage.File)
	c.Storage.Backend = getEnv("HAM_BACKEND", c.Storage.Backend)
	c.Storage.MaxRecords = getEnvInt("HAM_MAX_RECORDS", c.Storage.MaxRecords)

	c.Encryption.Key = getEnv("HAM_KEY", c.Encryption.Key)
	c.Encryption.Disabled = getEnvBool("HAM_ENCRYPTION_DISABLED", c.Encryption.Disabled)

	c.Vector.Enabled = getEnvBool("HAM_VECTOR_ENABLED", c.Vector.Enabled)
	c.Vector.PersistDir = getEnv("HAM_VECTOR_DIR", c.Vector.PersistDir)
	c.Vector.Embedder = getEnv("HAM_EMBED_PROVIDER", c.Vector.Embedder)
	c.Vector.Model = getEnv("HAM_EMBED_MODEL", c.Vector.Model)
	c.Vector.URL = getEnv("HAM_EMBED_URL", c.Vector.URL)
	if c.Vector.Embedder == "openai" {
		c.Vector.APIKey = getEnv("OPENAI_API_KEY", c.Vector.APIKey)
	}

	c.Precompute.IdleThreshold = getEnvDuration("HAM_IDLE_THRESHOLD", c.Precompute.IdleThreshold)
	c.Precompute.CPUThreshold = getEnvFloat("HAM_CPU_THRESHOLD", c.Precompute.CPUThreshold)
	c.Precompute.TickInterval = getEnvDuration("HAM_TICK_INTERVAL", c.Precompute.TickInterval)
	c.Precompute.QueueSize = getEnvInt("HAM_QUEUE_SIZE", c.Precompute.QueueSize)

	c.Generation.Provider = getEnv("HAM_GEN_PROVIDER", c.Generation.Provider)
	c.Generation.Model = getEnv("HAM_GEN_MODEL", c.Generation.Model)
	c.Generation.BaseURL = getEnv("HAM_GEN_URL", c.Generation.BaseURL)
	switch c.Generation.Provider {
	case "anthropic":
		c.Generation.APIKey = getEnv("ANTHROPIC_API_KEY", c.Generation.APIKey)
	case "openai":
		c.Generation.APIKey = getEnv("OPENAI_API_KEY", c.Generation.APIKey)
	}

	c.Log.Level = getEnv("HAM_LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvBool("HAM_LOG_DEV", c.Log.Development)
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown %q", c.Storage.Backend))
	}
	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required"))
	}
	if c.Storage.MaxUsageBytes <= 0 {
		errs = append(errs, errors.New("storage.max_usage_bytes must be positive"))
	}
	if c.Storage.MaxRecords < 0 {
		errs = append(errs, errors.New("storage.max_records must not be negative"))
	}

	w := c.Importance
	for name, v := range map[string]float64{
		"keyword_weight": w.KeywordWeight, "content_weight": w.ContentWeight,
		"metadata_weight": w.MetadataWeight, "access_weight": w.AccessWeight,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("importance.%s must be in [0,1], got %v", name, v))
		}
	}
	if sum := w.KeywordWeight + w.ContentWeight + w.MetadataWeight + w.AccessWeight; sum > 1.0001 {
		errs = append(errs, fmt.Errorf("importance weights sum to %.2f, must not exceed 1", sum))
	}

	switch c.Vector.Embedder {
	case "hash", "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("vector.embedder: unknown %q", c.Vector.Embedder))
	}

	p := c.Precompute
	if p.CPUThreshold < 0 || p.CPUThreshold > 100 {
		errs = append(errs, fmt.Errorf("precompute.cpu_threshold must be in [0,100], got %v", p.CPUThreshold))
	}
	if p.QueueSize <= 0 {
		errs = append(errs, errors.New("precompute.queue_size must be positive"))
	}
	if p.TickInterval <= 0 || p.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("precompute intervals must be positive"))
	}

	switch c.Generation.Provider {
	case "", "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("generation.provider: unknown %q", c.Generation.Provider))
	}
	return errors.Join(errs...)
}

// StorePath is the path of the persisted store for the configured backend.
func (c *Config) StorePath() string {
	name := c.Storage.File
	if c.Storage.Backend == "sqlite" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".db"
	}
	return filepath.Join(c.Storage.Dir, name)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}
