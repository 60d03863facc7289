package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"gradeflow/internal/models"
)

var nonTerminalStatuses = map[models.TaskStatus]bool{
	models.StatusQueued:   true,
	models.StatusReserved: true,
	models.StatusOrdered:  true,
	models.StatusStarted:  true,
}

// AdvanceStatus moves a task to a non-terminal status (e.g. RESERVED ->
// ORDERED). Terminal outcomes must go through Terminate instead.
func (s *Store) AdvanceStatus(ctx context.Context, externalID string, status models.TaskStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := advanceStatusTx(ctx, tx, externalID, status); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return newErr(KindTransient, "commit advance_status: %w", err)
	}
	return nil
}

func advanceStatusTx(ctx context.Context, tx *sql.Tx, externalID string, status models.TaskStatus) error {
	if !nonTerminalStatuses[status] {
		return newErr(KindInvalidState, "status %q is not a valid non-terminal transition", status)
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE grading_tasks SET status = ?, updated_at = ? WHERE external_id = ?
	`, status, now, externalID)
	if err != nil {
		return newErr(KindTransient, "advance task %s: %w", externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return newErr(KindTransient, "rows affected for %s: %w", externalID, err)
	}
	if n == 0 {
		return newErr(KindTaskNotFound, "task %s not found", externalID)
	}
	return nil
}

// SetRunningMetadata writes running_grading_metadata for the given
// user_assignment. Call AdvanceStarted instead when this must
// land in the same transaction as the STARTED transition.
func (s *Store) SetRunningMetadata(ctx context.Context, userAssignmentInternalID int64, metadata models.RunningGradingMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := setRunningMetadataTx(ctx, tx, userAssignmentInternalID, metadata); err != nil {
		return err
	}
	return tx.Commit()
}

func setRunningMetadataTx(ctx context.Context, tx *sql.Tx, userAssignmentInternalID int64, metadata models.RunningGradingMetadata) error {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return newErr(KindTransient, "marshal running_grading_metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_assignments SET running_grading_metadata_json = ? WHERE id = ?
	`, string(blob), userAssignmentInternalID); err != nil {
		return newErr(KindTransient, "set running_grading_metadata: %w", err)
	}
	return nil
}

// AdvanceStarted performs the STARTED transition and the running metadata
// write inside one transaction, resolving the task's user_assignment from
// its external id, per spec.md §4.2's requirement that set_running_metadata
// never be called outside the STARTED transition.
func (s *Store) AdvanceStarted(ctx context.Context, externalID string, metadata models.RunningGradingMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	userAssignmentID, err := s.lookupUserAssignmentID(ctx, tx, externalID)
	if err != nil {
		return err
	}
	if err := advanceStatusTx(ctx, tx, externalID, models.StatusStarted); err != nil {
		return err
	}
	if err := setRunningMetadataTx(ctx, tx, userAssignmentID, metadata); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return newErr(KindTransient, "commit advance_started: %w", err)
	}
	return nil
}

// lookupUserAssignmentID resolves a task's user_assignment internal id from
// its external_id, inside tx; AdvanceStarted uses it before the STARTED write.
func (s *Store) lookupUserAssignmentID(ctx context.Context, tx *sql.Tx, externalID string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT user_assignment_id FROM grading_tasks WHERE external_id = ?`, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, newErr(KindTaskNotFound, "task %s not found", externalID)
	}
	if err != nil {
		return 0, newErr(KindTransient, "lookup user_assignment for task %s: %w", externalID, err)
	}
	return id, nil
}
