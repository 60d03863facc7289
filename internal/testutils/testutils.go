// Package testutils provides shared test fixtures: a throwaway SQLite
// database per test plus helpers to seed the collaborator-owned catalog
// tables the grading-task core joins against.
package testutils

import (
	"context"
	"path/filepath"
	"testing"

	"database/sql"

	"gradeflow/internal/database"
)

// NewTestDB opens a fresh schema-initialized database backed by a file in
// t.TempDir(). A file (rather than ":memory:") is used so WAL mode behaves
// the same as production.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gradeflow-test.db")
	db, err := database.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedUser inserts a row into users and returns its internal id.
func SeedUser(t *testing.T, db *sql.DB, externalID, providerLogin string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (external_id, provider_login) VALUES (?, ?)`, externalID, providerLogin)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed user id: %v", err)
	}
	return id
}

// SeedAssignment inserts a row into assignments and returns its internal id.
func SeedAssignment(t *testing.T, db *sql.DB, externalID, repositoryName, graderURL string) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO assignments (module_id, external_id, repository_name, grader_url)
		VALUES (1, ?, ?, ?)
	`, externalID, repositoryName, graderURL)
	if err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed assignment id: %v", err)
	}
	return id
}

// SeedUserAssignment inserts a row into user_assignments and returns its
// internal id.
func SeedUserAssignment(t *testing.T, db *sql.DB, userID, assignmentID int64) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO user_assignments (user_id, assignment_id) VALUES (?, ?)`, userID, assignmentID)
	if err != nil {
		t.Fatalf("seed user_assignment: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed user_assignment id: %v", err)
	}
	return id
}
