// Package scheduler implements the periodic tick (C5): reserve, dispatch,
// timeout sweep, bounded parallelism. The ticker-driven loop follows the
// corpus's several ticker-based workers (coordinator-manager.go, core/worker.go).
package scheduler

import (
	"context"
	"log"
	"time"

	"gradeflow/internal/models"
	"gradeflow/internal/store"
)

// Dispatcher is the subset of the Runner Gateway the scheduler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.GradingTask) error
}

// Config holds the tunables spec.md §6 names for the scheduler.
type Config struct {
	Interval             time.Duration
	MinCooldownSecs      int
	MaxParallelGradings  int
	OrderedTimeoutSecs   int
	StartedTimeoutSecs   int
}

// Stats accumulates one tick's outcome counters for logging.
type Stats struct {
	Ordered        int
	Errored        int
	OrderedTimeout int
	StartedTimeout int
}

// Scheduler runs the periodic tick loop against a Store and a Dispatcher.
type Scheduler struct {
	store  *store.Store
	runner Dispatcher
	cfg    Config
}

func New(s *store.Store, runner Dispatcher, cfg Config) *Scheduler {
	return &Scheduler{store: s, runner: runner, cfg: cfg}
}

// Run blocks until ctx is cancelled, ticking at cfg.Interval. A tick already
// in flight runs to commit; no new tick starts after cancellation
// (spec.md §4.5, §5).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			stats := s.tick(context.WithoutCancel(ctx))
			log.Printf("scheduler tick: ordered=%d errored=%d ordered_timeout=%d started_timeout=%d",
				stats.Ordered, stats.Errored, stats.OrderedTimeout, stats.StartedTimeout)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) Stats {
	var stats Stats

	launched, err := s.store.LaunchReservedTasks(ctx, s.cfg.MinCooldownSecs, s.cfg.MaxParallelGradings, s.runner.Dispatch)
	if err != nil {
		// Transient (DB contention): abandon this tick, retry next interval.
		// The whole batch is still uncommitted at this point, so it rolls
		// back to QUEUED rather than leaving anything stuck in RESERVED.
		log.Printf("scheduler: launch_reserved_tasks failed, abandoning tick: %v", err)
		return stats
	}
	stats.Ordered = launched.Ordered
	stats.Errored = launched.Errored

	orderedSwept, err := s.store.TimeoutSweep(ctx, models.StatusOrdered, s.cfg.OrderedTimeoutSecs)
	if err != nil {
		log.Printf("scheduler: ordered timeout sweep failed: %v", err)
	}
	stats.OrderedTimeout = orderedSwept

	startedSwept, err := s.store.TimeoutSweep(ctx, models.StatusStarted, s.cfg.StartedTimeoutSecs)
	if err != nil {
		log.Printf("scheduler: started timeout sweep failed: %v", err)
	}
	stats.StartedTimeout = startedSwept

	return stats
}
