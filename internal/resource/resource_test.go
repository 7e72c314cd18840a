package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemDisk(t *testing.T) {
	free, err := NewSystem().AvailableDiskBytes(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}

func TestSystemDiskMissingPath(t *testing.T) {
	_, err := NewSystem().AvailableDiskBytes("/definitely/not/here")
	assert.Error(t, err)
}

func TestSystemCPU(t *testing.T) {
	pct, err := NewSystem().CPUPercent(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
}

func TestStatic(t *testing.T) {
	var m Monitor = &Static{FreeBytes: 42, CPU: 12.5}
	free, _ := m.AvailableDiskBytes("/")
	cpu, _ := m.CPUPercent(context.Background())
	assert.Equal(t, uint64(42), free)
	assert.Equal(t, 12.5, cpu)
}
