//go:build !linux && !darwin && !freebsd

package resource

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

func availableDisk(path string) (uint64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return u.Free, nil
}
