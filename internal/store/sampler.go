package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PageMetricsSink receives sampled storage page/free-list/fragmentation
// counts. internal/metrics.Registry satisfies this via SetStoragePages.
type PageMetricsSink interface {
	SetStoragePages(total, free uint32, fragmented uint64)
}

// PageSampler periodically reports the store's storage facade page
// accounting to a PageMetricsSink, grounded on internal/hoststats' own
// ticker-driven sampler shape.
type PageSampler struct {
	store    *Store
	sink     PageMetricsSink
	interval time.Duration
	log      zerolog.Logger
}

// NewPageSampler creates a PageSampler that reports every interval.
func NewPageSampler(st *Store, sink PageMetricsSink, interval time.Duration, log zerolog.Logger) *PageSampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PageSampler{store: st, sink: sink, interval: interval, log: log.With().Str("component", "storage_sampler").Logger()}
}

// Run samples on a ticker until ctx is done.
func (p *PageSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sampleOnce()
		case <-ctx.Done():
			return
		}
	}
}

func (p *PageSampler) sampleOnce() {
	total, free, fragmented, err := p.store.StorageStats()
	if err != nil {
		p.log.Warn().Err(err).Msg("storage stats sample failed")
		return
	}
	p.sink.SetStoragePages(total, free, fragmented)
}
