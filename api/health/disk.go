// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/disk"
)

var errLowDiskSpace = errors.New("low disk space")

// DiskSpace fails once the volume holding Path has less than MinFreePercent
// of its space left.
type DiskSpace struct {
	Path           string
	MinFreePercent float64
}

func (d DiskSpace) HealthCheck(ctx context.Context) (any, error) {
	usage, err := disk.UsageWithContext(ctx, d.Path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read the disk usage of %q: %w", d.Path, err)
	}
	free := 100 - usage.UsedPercent
	details := map[string]any{
		"path":        d.Path,
		"freeBytes":   usage.Free,
		"freePercent": free,
	}
	if free < d.MinFreePercent {
		return details, fmt.Errorf("%w: %.1f%% free, %.1f%% required", errLowDiskSpace, free, d.MinFreePercent)
	}
	return details, nil
}
