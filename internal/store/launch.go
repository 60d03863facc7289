package store

import (
	"context"
	"fmt"

	"gradeflow/internal/models"
)

// LaunchStats accumulates one launch's outcome counters for the scheduler
// to log.
type LaunchStats struct {
	Ordered int
	Errored int
}

// LaunchReservedTasks reserves up to maxTasks QUEUED tasks and, for each,
// calls dispatch and applies the resulting ORDERED/terminate transition, all
// inside a single transaction. Holding the transaction across dispatch is
// deliberate: it is what makes a task stuck in RESERVED impossible (spec.md
// §5) and matches the ground-truth launch_grading_tasks, which holds one
// transaction across send_grading_command and the following
// ORDERED-or-delete. A crash or hang mid-dispatch rolls the whole batch back
// to QUEUED rather than leaving a row in RESERVED.
func (s *Store) LaunchReservedTasks(ctx context.Context, minCooldownSecs, maxTasks int, dispatch func(context.Context, models.GradingTask) error) (LaunchStats, error) {
	var stats LaunchStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	tasks, err := reserveBatchTx(ctx, tx, minCooldownSecs, maxTasks)
	if err != nil {
		return stats, err
	}

	for _, task := range tasks {
		if err := dispatch(ctx, task); err != nil {
			msg := fmt.Sprintf("not ordered: %s", err)
			if _, err := terminateTx(ctx, tx, task.ExternalID, &msg); err != nil {
				return stats, err
			}
			stats.Errored++
			continue
		}
		if err := advanceStatusTx(ctx, tx, task.ExternalID, models.StatusOrdered); err != nil {
			return stats, err
		}
		stats.Ordered++
	}

	if err := tx.Commit(); err != nil {
		return stats, newErr(KindTransient, "commit launch_reserved_tasks: %w", err)
	}
	return stats, nil
}
