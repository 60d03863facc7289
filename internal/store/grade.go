package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"gradeflow/internal/models"
)

// AppendGrade appends a grade record and raises normalized_grade to the new
// maximum if higher. Exposed standalone for callers that already hold a
// user_assignment id outside of termination (kept for symmetry with
// spec.md §4.2; production flow goes through TerminateWithGrade).
func (s *Store) AppendGrade(ctx context.Context, userAssignmentInternalID int64, record models.GradeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := appendGradeTx(ctx, tx, userAssignmentInternalID, record); err != nil {
		return err
	}
	return tx.Commit()
}

func appendGradeTx(ctx context.Context, tx *sql.Tx, userAssignmentInternalID int64, record models.GradeRecord) error {
	detailsBlob, err := json.Marshal(record.Details)
	if err != nil {
		return newErr(KindTransient, "marshal grade details: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO grade_records
			(user_assignment_id, grade, max_grade, occurred_at, short_commit_id, commit_url, grading_log_url, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, userAssignmentInternalID, record.Grade, record.MaxGrade, record.Time,
		record.ShortCommitID, record.CommitURL, record.GradingLogURL, string(detailsBlob)); err != nil {
		return newErr(KindTransient, "insert grade_record: %w", err)
	}

	normalized := record.Grade * 20 / record.MaxGrade

	var current float64
	if err := tx.QueryRowContext(ctx, `SELECT normalized_grade FROM user_assignments WHERE id = ?`, userAssignmentInternalID).Scan(&current); err != nil {
		return newErr(KindTransient, "read current normalized_grade: %w", err)
	}
	if normalized > current {
		if normalized > 20 {
			normalized = 20
		}
		if _, err := tx.ExecContext(ctx, `UPDATE user_assignments SET normalized_grade = ? WHERE id = ?`, normalized, userAssignmentInternalID); err != nil {
			return newErr(KindTransient, "update normalized_grade: %w", err)
		}
	}
	return nil
}
