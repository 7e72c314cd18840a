package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLAndEnvOverlay(t *testing.T) {
	t.Setenv("HAM_DOTENV", "0")
	dir := t.TempDir()
	path := filepath.Join(dir, "ham.yaml")
	yml := `
storage:
  dir: ` + dir + `
  backend: sqlite
precompute:
  idle_threshold: 90s
  cpu_threshold: 55
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("HAM_CPU_THRESHOLD", "20")
	t.Setenv("HAM_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 90*time.Second, cfg.Precompute.IdleThreshold)
	assert.Equal(t, 20.0, cfg.Precompute.CPUThreshold)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, filepath.Join(dir, "ham_core_memory.db"), cfg.StorePath())
	assert.Contains(t, cfg.LoadedFrom, path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HAM_DOTENV", "0")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 0.40, cfg.Importance.KeywordWeight)
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "redis"
	cfg.Precompute.CPUThreshold = 140
	cfg.Importance.KeywordWeight = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "cpu_threshold")
	assert.Contains(t, err.Error(), "weights sum")
}

func TestGenerationKeyFromProviderEnv(t *testing.T) {
	t.Setenv("HAM_DOTENV", "0")
	t.Setenv("HAM_GEN_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Generation.APIKey)
}
