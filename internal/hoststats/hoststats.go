// Package hoststats periodically samples host CPU and memory utilization
// into the metrics registry (A4), grounded on the teacher's gopsutil usage
// in its resource guard.
package hoststats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sink receives sampled percentages. internal/metrics.Registry satisfies
// this directly via its HostCPUPercent/HostMemoryPercent gauges.
type Sink interface {
	SetHostCPUPercent(float64)
	SetHostMemoryPercent(float64)
}

// Sampler periodically measures host CPU and memory and reports them to a
// Sink.
type Sampler struct {
	sink     Sink
	interval time.Duration
	log      zerolog.Logger
}

// New creates a Sampler that reports every interval.
func New(sink Sink, interval time.Duration, log zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{sink: sink, interval: interval, log: log.With().Str("component", "hoststats").Logger()}
}

// Run samples on a ticker until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sampleOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("cpu sample failed")
	} else if len(percents) > 0 {
		s.sink.SetHostCPUPercent(percents[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("memory sample failed")
		return
	}
	s.sink.SetHostMemoryPercent(vm.UsedPercent)
}
