package metrics

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

const bytesPerMB = 1024 * 1024

// System metric names
const (
	SystemCPU      = "system.cpu"
	SystemMemory   = "system.memory"
	SystemDisk     = "system.disk"
	SystemLoad     = "system.load"
	SystemNetwork  = "system.network"
	SystemUptime   = "system.uptime"
	ProcessRuntime = "process.runtime"
)

// SystemCollectors returns the host and process collectors keyed by metric name
func SystemCollectors(diskPath string) map[string]CollectorFunc {
	if diskPath == "" {
		diskPath = "/"
	}

	return map[string]CollectorFunc{
		SystemCPU: func(ctx context.Context) (interface{}, error) {
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				return nil, fmt.Errorf("failed to read cpu usage: %w", err)
			}
			if len(percents) == 0 {
				return nil, fmt.Errorf("no cpu usage reported")
			}
			return percents[0], nil
		},
		SystemMemory: func(ctx context.Context) (interface{}, error) {
			vmem, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to read memory usage: %w", err)
			}
			return map[string]float64{
				"used_percent": vmem.UsedPercent,
				"used_mb":      float64(vmem.Used) / bytesPerMB,
				"available_mb": float64(vmem.Available) / bytesPerMB,
				"total_mb":     float64(vmem.Total) / bytesPerMB,
			}, nil
		},
		SystemDisk: func(ctx context.Context) (interface{}, error) {
			usage, err := disk.UsageWithContext(ctx, diskPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read disk usage for %s: %w", diskPath, err)
			}
			return map[string]float64{
				"used_percent": usage.UsedPercent,
				"free_mb":      float64(usage.Free) / bytesPerMB,
				"total_mb":     float64(usage.Total) / bytesPerMB,
			}, nil
		},
		SystemLoad: func(ctx context.Context) (interface{}, error) {
			avg, err := load.AvgWithContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to read load average: %w", err)
			}
			return map[string]float64{
				"load1":  avg.Load1,
				"load5":  avg.Load5,
				"load15": avg.Load15,
			}, nil
		},
		SystemNetwork: func(ctx context.Context) (interface{}, error) {
			counters, err := net.IOCountersWithContext(ctx, false)
			if err != nil {
				return nil, fmt.Errorf("failed to read network counters: %w", err)
			}
			if len(counters) == 0 {
				return nil, fmt.Errorf("no network counters reported")
			}
			return map[string]float64{
				"bytes_recv": float64(counters[0].BytesRecv),
				"bytes_sent": float64(counters[0].BytesSent),
				"errin":      float64(counters[0].Errin),
				"errout":     float64(counters[0].Errout),
			}, nil
		},
		SystemUptime: func(ctx context.Context) (interface{}, error) {
			uptime, err := host.UptimeWithContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to read uptime: %w", err)
			}
			return float64(uptime), nil
		},
		ProcessRuntime: func(ctx context.Context) (interface{}, error) {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return map[string]float64{
				"goroutines": float64(runtime.NumGoroutine()),
				"heap_mb":    float64(ms.HeapAlloc) / bytesPerMB,
				"gc_count":   float64(ms.NumGC),
			}, nil
		},
	}
}

// RegisterSystemCollectors adds the host and process collectors to a registry
func RegisterSystemCollectors(r *Registry, diskPath string) error {
	for name, fn := range SystemCollectors(diskPath) {
		if err := r.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}
