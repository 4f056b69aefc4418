// Package cron provides a job scheduler for periodic background tasks
// such as stuck-file recovery and idle store cleanup.
package cron

import "context"

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a cron expression with an optional leading
	// seconds field (e.g., "*/30 * * * * *" or "*/5 * * * *").
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}
