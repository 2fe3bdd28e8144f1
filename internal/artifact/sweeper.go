package artifact

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdftools/internal/metrics"
)

// Sweepable is the part of Store the sweeper needs.
type Sweepable interface {
	Sweep(ctx context.Context, maxAge time.Duration) (SweepReport, error)
}

// Sweeper runs Sweep on a fixed interval, independent of request handling.
type Sweeper struct {
	store    Sweepable
	maxAge   time.Duration
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper for store. Non-positive durations fall back to
// 30 minutes for maxAge and 5 minutes for interval.
func NewSweeper(store Sweepable, maxAge, interval time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Run sweeps immediately and then on every tick until ctx is done or Stop is
// called.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("max_age", s.maxAge).Dur("interval", s.interval).Msg("sweeper started")
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			log.Info().Msg("sweeper stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("sweeper context done")
			return
		}
	}
}

// RunOnce performs a single sweep and records its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	start := time.Now()
	report, err := s.store.Sweep(ctx, s.maxAge)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("sweep failed")
	}
	metrics.ObserveSweep(report.Deleted, report.Failed, report.Kept+report.Failed)

	ev := log.Debug()
	if report.Deleted > 0 || report.Failed > 0 {
		ev = log.Info()
	}
	ev.Int("scanned", report.Scanned).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Int("kept", report.Kept).
		Dur("took", time.Since(start)).
		Msg("sweep complete")
	return report
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
