// Package collector samples host resource usage for the node agent's
// heartbeats.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
)

// Collector reports resource usage from a host back to the control plane.
type Collector interface {
	Name() string
	Collect(ctx context.Context) (nodes.Resources, error)
}

// Host reads CPU, memory, disk and network counters through gopsutil.
type Host struct {
	// Path is the filesystem whose usage is reported as storage.
	Path string
	// CPUWindow is how long CPU utilisation is sampled for.
	CPUWindow time.Duration
	// GPUs is reported verbatim; there is no portable way to detect it.
	GPUs int

	mu       sync.Mutex
	lastNet  uint64
	lastSeen time.Time
	now      func() time.Time
}

func NewHost() *Host {
	return &Host{Path: "/", CPUWindow: time.Second, now: time.Now}
}

func (h *Host) Name() string { return "host" }

// Collect fills in every dimension it can read. A dimension that fails is
// left zero and its error joined into the returned error, so callers can
// still send a partial report.
func (h *Host) Collect(ctx context.Context) (nodes.Resources, error) {
	var (
		res  nodes.Resources
		errs []error
	)

	if pct, err := cpu.PercentWithContext(ctx, h.CPUWindow, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(pct) > 0 {
		res.CPU.Percentage = pct[0]
		res.CPU.Usage = fmt.Sprintf("%.1f%%", pct[0])
		if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
			res.CPU.Capacity = fmt.Sprintf("%d cores", cores)
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		res.Memory = nodes.Usage{
			Capacity:   humanize.IBytes(vm.Total),
			Usage:      humanize.IBytes(vm.Used),
			Percentage: vm.UsedPercent,
		}
	}

	if du, err := disk.UsageWithContext(ctx, h.Path); err != nil {
		errs = append(errs, fmt.Errorf("disk %s: %w", h.Path, err))
	} else {
		res.Storage = nodes.Usage{
			Capacity:   humanize.IBytes(du.Total),
			Usage:      humanize.IBytes(du.Used),
			Percentage: du.UsedPercent,
		}
	}

	if io, err := psnet.IOCountersWithContext(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("network: %w", err))
	} else if len(io) > 0 {
		res.NetworkBandwidth = h.throughput(io[0].BytesSent + io[0].BytesRecv)
	}

	res.GPUs = h.GPUs
	return res, errors.Join(errs...)
}

// throughput turns the cumulative byte counter into a rate since the previous
// call. The first call has no baseline and reports an empty string.
func (h *Host) throughput(total uint64) string {
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t := now()
	prev, seen := h.lastNet, h.lastSeen
	h.lastNet, h.lastSeen = total, t
	if seen.IsZero() || total < prev {
		return ""
	}
	secs := t.Sub(seen).Seconds()
	if secs <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(float64(total-prev)/secs)) + "/s"
}

// Static always returns the same report. The agent uses it when host
// collection is disabled.
type Static struct {
	Resources nodes.Resources
}

func (s Static) Name() string { return "static" }

func (s Static) Collect(context.Context) (nodes.Resources, error) { return s.Resources, nil }
