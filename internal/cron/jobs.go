package cron

import (
	"context"
	"log/slog"
	"time"
)

// FileFailer is the subset of the knowledge store needed by the stuck
// file sweep. Defined here to avoid a circular dependency on the
// knowledge package.
type FileFailer interface {
	FailStuck(ctx context.Context, maxAge time.Duration) (int, error)
}

// StuckFileSweepJob marks files stuck in "processing" longer than
// MaxAge as failed so they become visible and retryable. Covers worker
// crashes that would otherwise leave files claimed forever.
type StuckFileSweepJob struct {
	Files        FileFailer
	MaxAge       time.Duration // zero = default 1h
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/30 * * * * *"
}

// Compile-time interface check.
var _ Job = (*StuckFileSweepJob)(nil)

// Name implements Job.
func (j *StuckFileSweepJob) Name() string {
	return "stuck_file_sweep"
}

// Schedule implements Job.
func (j *StuckFileSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/30 * * * * *"
}

// Run fails files that have been processing longer than MaxAge.
func (j *StuckFileSweepJob) Run(ctx context.Context) error {
	maxAge := j.MaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	swept, err := j.Files.FailStuck(ctx, maxAge)
	if err != nil {
		return err
	}
	if swept > 0 {
		j.Logger.Warn("cron: failed stuck files", "count", swept, "max_age", maxAge)
	}
	return nil
}

// StoreCleaner is the subset of the store registry needed by the idle
// store cleanup job.
type StoreCleaner interface {
	CleanupIdle(maxIdle time.Duration) int
}

// StoreCleanupJob closes memory store instances that have been idle
// longer than MaxIdle, bounding per-user resource growth.
type StoreCleanupJob struct {
	Registry     StoreCleaner
	MaxIdle      time.Duration // zero = default 30m
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*StoreCleanupJob)(nil)

// Name implements Job.
func (j *StoreCleanupJob) Name() string {
	return "store_cleanup"
}

// Schedule implements Job.
func (j *StoreCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run closes idle store instances.
func (j *StoreCleanupJob) Run(_ context.Context) error {
	maxIdle := j.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	closed := j.Registry.CleanupIdle(maxIdle)
	if closed > 0 {
		j.Logger.Info("cron: closed idle stores", "count", closed)
	}
	return nil
}
