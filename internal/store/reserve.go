package store

import (
	"context"
	"database/sql"
	"time"

	"gradeflow/internal/models"
)

// ReserveBatch atomically reserves up to maxTasks QUEUED tasks whose
// UserAssignment is idle and past cooldown, FIFO by created_at. The WHERE-
// clause guard on status='QUEUED' during the UPDATE is the optimistic-lock:
// concurrent schedulers contending for the same row are serialized by
// SQLite's single-writer model (spec.md §5, §9).
//
// This commits on its own; the scheduler's launch path uses
// reserveBatchTx directly so reservation shares one transaction with the
// subsequent dispatch and ORDERED/terminate transition (spec.md §4.5, §5).
func (s *Store) ReserveBatch(ctx context.Context, minCooldownSecs, maxTasks int) ([]models.GradingTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	reserved, err := reserveBatchTx(ctx, tx, minCooldownSecs, maxTasks)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, newErr(KindTransient, "commit reserve_batch: %w", err)
	}
	return reserved, nil
}

func reserveBatchTx(ctx context.Context, tx *sql.Tx, minCooldownSecs, maxTasks int) ([]models.GradingTask, error) {
	cooldownCutoff := time.Now().UTC().Add(-time.Duration(minCooldownSecs) * time.Second)

	rows, err := tx.QueryContext(ctx, `
		SELECT gt.internal_id
		FROM grading_tasks gt
		JOIN user_assignments ua ON ua.id = gt.user_assignment_id
		WHERE gt.status = 'QUEUED'
		  AND ua.grading_in_progress = 0
		  AND (ua.graded_last_at IS NULL OR ua.graded_last_at < ?)
		ORDER BY gt.created_at ASC
		LIMIT ?
	`, cooldownCutoff, maxTasks)
	if err != nil {
		return nil, newErr(KindTransient, "select reservable tasks: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, newErr(KindTransient, "scan reservable id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, newErr(KindTransient, "iterate reservable ids: %w", err)
	}
	rows.Close()

	reserved := make([]models.GradingTask, 0, len(ids))
	now := time.Now().UTC()
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE grading_tasks SET status = 'RESERVED', updated_at = ?
			WHERE internal_id = ? AND status = 'QUEUED'
		`, now, id)
		if err != nil {
			return nil, newErr(KindTransient, "reserve task %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, newErr(KindTransient, "rows affected for task %d: %w", id, err)
		}
		if n == 0 {
			// Lost a race to another instance between SELECT and UPDATE;
			// skip it rather than returning a task that is no longer QUEUED.
			continue
		}

		var task models.GradingTask
		row := tx.QueryRowContext(ctx, `
			SELECT internal_id, external_id, user_assignment_id, provider_login, status,
			       repository_name, grader_url, installation_id, created_at, updated_at
			FROM grading_tasks WHERE internal_id = ?
		`, id)
		if err := row.Scan(&task.InternalID, &task.ExternalID, &task.UserAssignmentID, &task.ProviderLogin,
			&task.Status, &task.RepositoryName, &task.GraderURL, &task.InstallationID, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, newErr(KindTransient, "reload reserved task %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE user_assignments SET grading_in_progress = 1, previous_grading_error = NULL
			WHERE id = ?
		`, task.UserAssignmentID); err != nil {
			return nil, newErr(KindTransient, "mark user_assignment busy for task %d: %w", id, err)
		}

		reserved = append(reserved, task)
	}

	return reserved, nil
}
