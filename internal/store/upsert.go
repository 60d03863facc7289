package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"gradeflow/internal/models"
)

type resolvedTarget struct {
	userAssignmentID int64
	providerLogin    string
	repositoryName   string
	graderURL        string
	startsAt         *time.Time
	stopsAt          *time.Time
}

const resolveColumns = `ua.id, u.provider_login, a.repository_name, a.grader_url, a.starts_at, a.stops_at
	FROM user_assignments ua
	JOIN users u ON u.id = ua.user_id
	JOIN assignments a ON a.id = ua.assignment_id`

func scanResolvedTarget(row *sql.Row) (resolvedTarget, error) {
	var t resolvedTarget
	if err := row.Scan(&t.userAssignmentID, &t.providerLogin, &t.repositoryName, &t.graderURL, &t.startsAt, &t.stopsAt); err != nil {
		return resolvedTarget{}, err
	}
	return t, nil
}

// UpsertInternal creates or coalesces a QUEUED task from an already resolved
// numeric user_assignment_id, per spec.md §9's resolution of the internal
// origin ambiguity.
func (s *Store) UpsertInternal(ctx context.Context, origin models.InternalTaskOrigin, enforceWindow bool) (*time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+resolveColumns+" WHERE ua.id = ?", origin.UserAssignmentID)
	target, err := scanResolvedTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newErr(KindTaskNotFound, "user_assignment %d not found", origin.UserAssignmentID)
		}
		return nil, newErr(KindTransient, "resolve internal origin: %w", err)
	}

	updatedAt, err := s.upsertQueued(ctx, tx, target, enforceWindow)
	if err != nil {
		return nil, err
	}
	if updatedAt == nil {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, newErr(KindTransient, "commit upsert: %w", err)
	}
	return updatedAt, nil
}

// UpsertExternal creates or coalesces a QUEUED task from opaque externally
// visible assignment/user ids, resolved via a join.
func (s *Store) UpsertExternal(ctx context.Context, origin models.ExternalTaskOrigin, enforceWindow bool) (*time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, newErr(KindTransient, "begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+resolveColumns+" WHERE a.external_id = ? AND u.external_id = ?",
		origin.AssignmentExternalID, origin.UserExternalID)
	target, err := scanResolvedTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newErr(KindTaskNotFound, "no user_assignment for assignment=%s user=%s", origin.AssignmentExternalID, origin.UserExternalID)
		}
		return nil, newErr(KindTransient, "resolve external origin: %w", err)
	}

	updatedAt, err := s.upsertQueued(ctx, tx, target, enforceWindow)
	if err != nil {
		return nil, err
	}
	if updatedAt == nil {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, newErr(KindTransient, "commit upsert: %w", err)
	}
	return updatedAt, nil
}

// upsertQueued inserts a QUEUED task or, on a (user_assignment, provider_login,
// status) conflict, bumps updated_at on the existing row. Returns nil without
// error when enforce_window rejects the insert.
func (s *Store) upsertQueued(ctx context.Context, tx *sql.Tx, target resolvedTarget, enforceWindow bool) (*time.Time, error) {
	if enforceWindow {
		now := time.Now().UTC()
		if target.startsAt != nil && now.Before(*target.startsAt) {
			return nil, nil
		}
		if target.stopsAt != nil && now.After(*target.stopsAt) {
			return nil, nil
		}
	}

	now := time.Now().UTC()
	var updatedAt time.Time
	err := tx.QueryRowContext(ctx, `
		INSERT INTO grading_tasks
			(external_id, user_assignment_id, provider_login, status, repository_name, grader_url, installation_id, created_at, updated_at)
		VALUES (?, ?, ?, 'QUEUED', ?, ?, NULL, ?, ?)
		ON CONFLICT(user_assignment_id, provider_login, status) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING updated_at
	`, uuid.New().String(), target.userAssignmentID, target.providerLogin, target.repositoryName, target.graderURL, now, now).Scan(&updatedAt)
	if err != nil {
		return nil, newErr(KindTransient, "upsert grading_task: %w", err)
	}
	return &updatedAt, nil
}
