package cache

import (
	"context"
	"log/slog"
	"time"
)

type Sweeper interface {
	Sweep() int
}

// Janitor periodically sweeps expired entries out of in-memory caches
type Janitor struct {
	ctx    context.Context
	cancel context.CancelFunc

	interval time.Duration
	sweepers []Sweeper
	logger   *slog.Logger
}

func NewJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger, sweepers ...Sweeper) *Janitor {
	ctx, cancel := context.WithCancel(ctx)
	return &Janitor{
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
		sweepers: sweepers,
		logger:   logger.With(slog.String("controller", "cache_janitor")),
	}
}

// Run blocks until the janitor's context is cancelled
func (j *Janitor) Run() error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return nil
		case <-ticker.C:
			if removed := j.sweep(); removed > 0 {
				j.logger.Debug("Swept expired cache entries", slog.Int("removed", removed))
			}
		}
	}
}

func (j *Janitor) Stop() { j.cancel() }

func (j *Janitor) sweep() int {
	removed := 0
	for _, s := range j.sweepers {
		removed += s.Sweep()
	}
	return removed
}
