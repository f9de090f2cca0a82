package node

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	psnet "github.com/shirou/gopsutil/net"

	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
)

// HostStats is a snapshot of host load.
type HostStats struct {
	CPUPercent      float64
	MemoryPercent   float64
	BytesSentPerSec float64
	BytesRecvPerSec float64
}

// Sampler samples host load.
type Sampler interface {
	Sample(ctx context.Context) (*HostStats, error)
}

// HostSampler reads host load through gopsutil. Sampling blocks for window.
type HostSampler struct {
	window time.Duration
}

func NewHostSampler(window time.Duration) *HostSampler {
	return &HostSampler{window: window}
}

func (p *HostSampler) Sample(ctx context.Context) (*HostStats, error) {
	before, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read network counters: %w", err)
	}

	// cpu.Percent blocks for the window, which doubles as the network sampling interval
	percents, err := cpu.PercentWithContext(ctx, p.window, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}

	after, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read network counters: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}

	stats := &HostStats{MemoryPercent: vm.UsedPercent}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if len(before) > 0 && len(after) > 0 {
		seconds := p.window.Seconds()
		stats.BytesSentPerSec = float64(after[0].BytesSent-before[0].BytesSent) / seconds
		stats.BytesRecvPerSec = float64(after[0].BytesRecv-before[0].BytesRecv) / seconds
	}
	return stats, nil
}

// Occupancy reports address pool usage.
type Occupancy interface {
	Occupancy(ctx context.Context) (int64, int64, error)
}

// StatusReporter combines host load and pool usage into the status report.
type StatusReporter struct {
	sampler Sampler
	pool    Occupancy
}

func NewStatusReporter(sampler Sampler, pool Occupancy) *StatusReporter {
	return &StatusReporter{sampler: sampler, pool: pool}
}

func (r *StatusReporter) Status(ctx context.Context) (*models.NodeStatus, error) {
	stats, err := r.sampler.Sample(ctx)
	if err != nil {
		return nil, err
	}
	used, total, err := r.pool.Occupancy(ctx)
	if err != nil {
		return nil, err
	}

	metrics.NodeCPUPercent.Set(stats.CPUPercent)
	metrics.NodeMemoryPercent.Set(stats.MemoryPercent)
	metrics.NodeBytesSentPerSec.Set(stats.BytesSentPerSec)
	metrics.NodeBytesRecvPerSec.Set(stats.BytesRecvPerSec)
	metrics.NodeAddressesUsed.Set(float64(used))
	metrics.NodeAddressesTotal.Set(float64(total))

	return &models.NodeStatus{
		CPUPercent:      stats.CPUPercent,
		MemoryPercent:   stats.MemoryPercent,
		BytesSentPerSec: stats.BytesSentPerSec,
		BytesRecvPerSec: stats.BytesRecvPerSec,
		UsedAddresses:   used,
		TotalAddresses:  total,
	}, nil
}
