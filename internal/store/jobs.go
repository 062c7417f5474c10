package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRollupRunning is returned when a manual trigger overlaps a run already
// in progress.
var ErrRollupRunning = errors.New("rollup already running")

// Jobs runs the periodic aggregation and retention work. A mutex collapses
// overlapping triggers (schedule vs. the manual admin endpoint) to a single
// run.
type Jobs struct {
	ts            *TimeSeries
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger

	mu sync.Mutex
}

// NewJobs creates the rollup job runner
func NewJobs(ts *TimeSeries, retentionDays int, interval time.Duration, logger *zap.Logger) *Jobs {
	return &Jobs{
		ts:            ts,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
	}
}

// Run executes RunOnce on the configured schedule until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (j *Jobs) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil && !errors.Is(err, ErrRollupRunning) {
				j.logger.Error("rollup run failed, will retry on next tick", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce aggregates every completed day that still has raw points, then
// applies retention. Aggregation precedes deletion within the same run, and
// the delete itself re-checks aggregate existence per day.
func (j *Jobs) RunOnce(ctx context.Context) error {
	if !j.mu.TryLock() {
		return ErrRollupRunning
	}
	defer j.mu.Unlock()

	started := time.Now()
	todayStart := started.UTC().Truncate(24 * time.Hour)

	days, err := j.ts.DaysWithPointsBefore(ctx, todayStart)
	if err != nil {
		return err
	}
	for _, day := range days {
		if err := j.ts.AggregateDay(ctx, day); err != nil {
			return err
		}
	}

	cutoff := todayStart.AddDate(0, 0, -j.retentionDays)
	deleted, err := j.ts.DeleteRawBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	j.logger.Info("rollup run complete",
		zap.Int("days_aggregated", len(days)),
		zap.Int64("points_deleted", deleted),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}
