// Package memory gates new work on system memory pressure.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "blocktally/pkg/errors"
	"blocktally/pkg/logger"

	"github.com/shirou/gopsutil/v4/mem"
)

const sampleTimeout = 2 * time.Second

// Sample is a point-in-time reading of system memory
type Sample struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// UsedPercent returns (total-available)/total as a percentage
func (s Sample) UsedPercent() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	used := s.TotalBytes - min(s.AvailableBytes, s.TotalBytes)
	return float64(used) / float64(s.TotalBytes) * 100
}

// Sampler reads the current memory state
type Sampler interface {
	Sample() (Sample, error)
}

// VirtualMemorySampler reads host memory through gopsutil
type VirtualMemorySampler struct {
	read func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewVirtualMemorySampler returns a sampler for the running host
func NewVirtualMemorySampler() *VirtualMemorySampler {
	return &VirtualMemorySampler{read: mem.VirtualMemoryWithContext}
}

func (v *VirtualMemorySampler) Sample() (Sample, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	stat, err := v.read(ctx)
	if err != nil {
		return Sample{}, errs.New(errs.ErrorTypeIO, "sample virtual memory", "", err)
	}
	if stat == nil || stat.Total == 0 {
		return Sample{}, errs.New(errs.ErrorTypeIO, "sample virtual memory", "", fmt.Errorf("host reported zero total memory"))
	}
	return Sample{TotalBytes: stat.Total, AvailableBytes: stat.Available}, nil
}

// Governor blocks admission of new region files while used memory is above a ceiling
type Governor struct {
	sampler  Sampler
	ceiling  float64
	interval time.Duration
	logger   logger.Logger

	// OnWait is called once for every admission that had to wait
	OnWait func()

	warnOnce sync.Once
}

// NewGovernor creates a governor. A ceiling of 100 or more disables the gate.
func NewGovernor(sampler Sampler, ceilingPercent float64, interval time.Duration, log logger.Logger) *Governor {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Governor{
		sampler:  sampler,
		ceiling:  ceilingPercent,
		interval: interval,
		logger:   log,
	}
}

// Enabled reports whether the gate can ever block
func (g *Governor) Enabled() bool {
	return g != nil && g.ceiling < 100
}

// Admit returns nil once used memory is at or below the ceiling. While above it
// re-samples every interval. Cancellation of ctx returns errors.ErrAborted.
func (g *Governor) Admit(ctx context.Context) error {
	if ctx.Err() != nil {
		return errs.ErrAborted
	}
	if !g.Enabled() {
		return nil
	}

	used, ok := g.usedPercent()
	if !ok || used <= g.ceiling {
		return nil
	}

	if g.OnWait != nil {
		g.OnWait()
	}
	g.logger.InfoWithFields("Memory above ceiling, waiting", map[string]interface{}{
		"used_percent":    used,
		"ceiling_percent": g.ceiling,
	})

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errs.ErrAborted
		case <-ticker.C:
		}

		used, ok = g.usedPercent()
		if !ok || used <= g.ceiling {
			g.logger.DebugWithFields("Memory back under ceiling", map[string]interface{}{
				"used_percent": used,
			})
			return nil
		}
	}
}

// usedPercent fails open: a sampling error admits and is reported only once
func (g *Governor) usedPercent() (float64, bool) {
	s, err := g.sampler.Sample()
	if err != nil {
		g.warnOnce.Do(func() {
			g.logger.WithError(err).Warn("Memory sampling failed, gate disabled for failing samples")
		})
		return 0, false
	}
	return s.UsedPercent(), true
}
