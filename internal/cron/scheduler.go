package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// entry pairs a registered job with the mutex that serialises its runs.
type entry struct {
	job     Job
	running sync.Mutex
}

// Scheduler runs maintenance jobs on cron expressions. A tick that
// fires while the previous run of the same job is still in flight is
// skipped rather than queued.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	cron    *cron.Cron
	logger  *slog.Logger
	cancel  context.CancelFunc
	started bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// RegisterJob adds a job. Job names are unique, and registration must
// happen before Start.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cron: register %q after start", j.Name())
	}
	name := j.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}
	s.entries[name] = &entry{job: j}
	s.order = append(s.order, name)
	return nil
}

// Start parses every schedule and begins ticking. Fails without side
// effects if any expression is invalid.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	// Optional leading seconds field: sub-minute sweeps use it, the
	// rest stay standard five-field expressions.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	runner := cron.New(cron.WithParser(parser))

	for _, name := range s.order {
		e := s.entries[name]
		if _, err := runner.AddFunc(e.job.Schedule(), s.tick(ctx, e)); err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", name, err)
		}
	}

	s.cron = runner
	s.cancel = cancel
	s.started = true
	runner.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.order))
	return nil
}

// tick wraps one job run: skip if the previous run holds the lock, log
// the outcome either way.
func (s *Scheduler) tick(ctx context.Context, e *entry) func() {
	return func() {
		// TryLock keeps overlap detection atomic.
		if !e.running.TryLock() {
			s.logger.Warn("cron: job still running, skipping tick",
				"job", e.job.Name(),
			)
			return
		}
		defer e.running.Unlock()

		start := time.Now()
		if err := e.job.Run(ctx); err != nil {
			s.logger.Error("cron: job failed",
				"job", e.job.Name(),
				"duration", time.Since(start),
				"error", err,
			)
			return
		}
		s.logger.Debug("cron: job completed",
			"job", e.job.Name(),
			"duration", time.Since(start),
		)
	}
}

// Stop cancels job contexts and waits for in-flight runs to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
