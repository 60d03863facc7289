// Package store implements the transactional grading-task persistence layer:
// upsert, reservation, status advancement, termination, timeout sweeping and
// grade history append, all guarded by the (user_assignment, provider_login,
// status) uniqueness constraint declared in schema.sql.
package store

import (
	"database/sql"
)

// Store wraps the shared *sql.DB connection. The teacher's database package
// never needed more than single statements; the multi-statement task
// operations here open their own transaction instead of sharing
// package-level state. LinkRepos is not one transaction: it marks each match
// linked and queues its task in separate statements, and TimeoutSweep
// terminates each swept task in a transaction of its own.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}
