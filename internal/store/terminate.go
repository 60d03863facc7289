package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gradeflow/internal/models"
)

// Terminate deletes the task row and resets its UserAssignment to idle. This
// is the single exit point to ERROR/SUCCESSFUL; absence-of-row encodes the
// terminal outcome (spec.md §4.2, §9).
func (s *Store) Terminate(ctx context.Context, externalID string, errMsg *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := terminateTx(ctx, tx, externalID, errMsg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return newErr(KindTransient, "commit terminate: %w", err)
	}
	return nil
}

// TerminateWithGrade terminates the task and appends a grade record to its
// UserAssignment's history inside one transaction, for a successful
// completion (spec.md §4.4 step 3 "completed" branch).
func (s *Store) TerminateWithGrade(ctx context.Context, externalID string, record models.GradeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	userAssignmentID, err := terminateTx(ctx, tx, externalID, nil)
	if err != nil {
		return err
	}
	if err := appendGradeTx(ctx, tx, userAssignmentID, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return newErr(KindTransient, "commit terminate_with_grade: %w", err)
	}
	return nil
}

func terminateTx(ctx context.Context, tx *sql.Tx, externalID string, errMsg *string) (int64, error) {
	var userAssignmentID int64
	err := tx.QueryRowContext(ctx, `
		DELETE FROM grading_tasks WHERE external_id = ? RETURNING user_assignment_id
	`, externalID).Scan(&userAssignmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, newErr(KindTaskNotFound, "task %s not found", externalID)
	}
	if err != nil {
		return 0, newErr(KindTransient, "delete task %s: %w", externalID, err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_assignments
		SET grading_in_progress = 0, graded_last_at = ?, previous_grading_error = ?, running_grading_metadata_json = NULL
		WHERE id = ?
	`, now, errMsg, userAssignmentID); err != nil {
		return 0, newErr(KindTransient, "reset user_assignment %d: %w", userAssignmentID, err)
	}
	return userAssignmentID, nil
}

// TimeoutSweep terminates every task in status older than maxAgeSecs with a
// synthetic error message, returning the number swept.
func (s *Store) TimeoutSweep(ctx context.Context, status models.TaskStatus, maxAgeSecs int) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(maxAgeSecs) * time.Second)

	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id FROM grading_tasks WHERE status = ? AND updated_at < ?
	`, status, cutoff)
	if err != nil {
		return 0, newErr(KindTransient, "select timed out tasks: %w", err)
	}
	var externalIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, newErr(KindTransient, "scan timed out task: %w", err)
		}
		externalIDs = append(externalIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, newErr(KindTransient, "iterate timed out tasks: %w", err)
	}
	rows.Close()

	swept := 0
	for _, externalID := range externalIDs {
		msg := fmt.Sprintf("Status %s timed out after %d secs", status, maxAgeSecs)
		if err := s.Terminate(ctx, externalID, &msg); err != nil {
			var storeErr *Error
			if errors.As(err, &storeErr) && storeErr.Kind == KindTaskNotFound {
				// Already terminated by a concurrent sweep or callback.
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}
