package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Provider reads raw host percentages from the operating system.
type Provider interface {
	CPUPercent(ctx context.Context, window time.Duration) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
}

// GopsutilProvider implements Provider on top of gopsutil.
type GopsutilProvider struct{}

// CPUPercent returns the aggregate utilisation measured over window.
// A zero window compares against the previous call.
func (GopsutilProvider) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("cpu percent returned no values")
	}
	return values[0], nil
}

func (GopsutilProvider) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (GopsutilProvider) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	if usage.Total == 0 {
		return 0, fmt.Errorf("volume %s reports zero capacity", path)
	}
	return usage.UsedPercent, nil
}

var _ Provider = GopsutilProvider{}
