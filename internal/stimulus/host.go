package stimulus

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// HostSampler turns host CPU and memory pressure into stimuli. Load above
// the baseline percentage is a positive intensity, below it negative.
type HostSampler struct {
	queue    Pusher
	interval time.Duration
	baseline float64
	log      *zap.Logger

	cpuPercent func(ctx context.Context) (float64, error)
	memPercent func(ctx context.Context) (float64, error)
	now        func() time.Time
}

// NewHostSampler builds a sampler backed by gopsutil.
func NewHostSampler(q Pusher, interval time.Duration, baseline float64, log *zap.Logger) *HostSampler {
	if log == nil {
		log = zap.NewNop()
	}
	if baseline <= 0 || baseline >= 100 {
		baseline = 50
	}
	return &HostSampler{
		queue:      q,
		interval:   interval,
		baseline:   baseline,
		log:        log.Named("host"),
		cpuPercent: sampleCPU,
		memPercent: sampleMem,
		now:        time.Now,
	}
}

func sampleCPU(ctx context.Context) (float64, error) {
	usage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(usage) == 0 {
		return 0, fmt.Errorf("cpu percent: no samples")
	}
	return usage[0], nil
}

func sampleMem(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// intensityFor maps a 0..100 load percentage onto [-1, 1] around the baseline.
func (h *HostSampler) intensityFor(pct float64) float64 {
	var v float64
	if pct >= h.baseline {
		v = (pct - h.baseline) / (100 - h.baseline)
	} else {
		v = (pct - h.baseline) / h.baseline
	}
	return clampIntensity(v)
}

// Sample reads both gauges once and returns the resulting stimuli.
// A gauge that fails to read is logged and skipped.
func (h *HostSampler) Sample(ctx context.Context) []Record {
	now := h.now()
	var out []Record
	if pct, err := h.cpuPercent(ctx); err != nil {
		h.log.Warn("cpu sample failed", zap.Error(err))
	} else {
		out = append(out, Record{
			Category:  "host.cpu",
			Intensity: h.intensityFor(pct),
			Timestamp: now,
			Metadata:  map[string]string{"percent": fmt.Sprintf("%.1f", pct)},
			Source:    "host",
		})
	}
	if pct, err := h.memPercent(ctx); err != nil {
		h.log.Warn("memory sample failed", zap.Error(err))
	} else {
		out = append(out, Record{
			Category:  "host.memory",
			Intensity: h.intensityFor(pct),
			Timestamp: now,
			Metadata:  map[string]string{"percent": fmt.Sprintf("%.1f", pct)},
			Source:    "host",
		})
	}
	return out
}

// Run samples every interval until ctx ends.
func (h *HostSampler) Run(ctx context.Context) error {
	if h.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	h.log.Info("host sampler started", zap.Duration("interval", h.interval), zap.Float64("baseline", h.baseline))

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, rec := range h.Sample(ctx) {
				h.queue.Push(rec)
			}
		}
	}
}

func clampIntensity(v float64) float64 {
	if v < MinIntensity {
		return MinIntensity
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}
