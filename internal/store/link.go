package store

import (
	"context"

	"gradeflow/internal/models"
)

// LinkRepos marks every UserAssignment matching (user.provider_login=login,
// assignment.repository_name IN repoNames) as repository_linked and queues a
// QUEUED grading task for each match. Repositories matching nothing are
// silently ignored (spec.md §4.4 link_repos).
func (s *Store) LinkRepos(ctx context.Context, login string, repoNames []string) error {
	if len(repoNames) == 0 {
		return nil
	}

	placeholders := make([]any, 0, len(repoNames)+1)
	placeholders = append(placeholders, login)
	query := `
		SELECT ua.id, ua.user_id, ua.assignment_id
		FROM user_assignments ua
		JOIN users u ON u.id = ua.user_id
		JOIN assignments a ON a.id = ua.assignment_id
		WHERE u.provider_login = ? AND a.repository_name IN (` + placeholdersFor(repoNames) + `)
	`
	for _, r := range repoNames {
		placeholders = append(placeholders, r)
	}

	rows, err := s.db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return newErr(KindTransient, "select matching user_assignments: %w", err)
	}
	var uaIDs []int64
	for rows.Next() {
		var id, userID, assignmentID int64
		if err := rows.Scan(&id, &userID, &assignmentID); err != nil {
			rows.Close()
			return newErr(KindTransient, "scan matched user_assignment: %w", err)
		}
		uaIDs = append(uaIDs, id)
	}
	if err := rows.Err(); err != nil {
		return newErr(KindTransient, "iterate matched user_assignments: %w", err)
	}
	rows.Close()

	for _, uaID := range uaIDs {
		if _, err := s.db.ExecContext(ctx, `UPDATE user_assignments SET repository_linked = 1 WHERE id = ?`, uaID); err != nil {
			return newErr(KindTransient, "mark repository_linked for %d: %w", uaID, err)
		}
		if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
			return err
		}
	}
	return nil
}

func placeholdersFor(items []string) string {
	out := ""
	for i := range items {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}
