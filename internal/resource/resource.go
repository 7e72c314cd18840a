// Package resource reports host capacity: free disk and CPU load.
package resource

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Monitor answers the capacity questions storage and precompute ask.
type Monitor interface {
	// AvailableDiskBytes is the space an unprivileged writer can use at path.
	AvailableDiskBytes(path string) (uint64, error)
	// CPUPercent is the current system-wide utilization in [0,100].
	CPUPercent(ctx context.Context) (float64, error)
}

// System reads the real host.
type System struct{}

// NewSystem returns a Monitor backed by the operating system.
func NewSystem() *System { return &System{} }

func (System) AvailableDiskBytes(path string) (uint64, error) {
	return availableDisk(path)
}

// CPUPercent compares against the previous call; the first call measures
// since boot.
func (System) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("cpu percent: no samples")
	}
	return pct[0], nil
}

// Static is a fixed Monitor for tests and hosts without probes.
type Static struct {
	FreeBytes uint64
	CPU       float64
	Err       error
}

func (s *Static) AvailableDiskBytes(string) (uint64, error) {
	return s.FreeBytes, s.Err
}

func (s *Static) CPUPercent(context.Context) (float64, error) {
	return s.CPU, s.Err
}
