// Package models holds the domain types and wire DTOs shared across the
// grading-task lifecycle: GradingTask, UserAssignment, GradeRecord, and the
// payload shapes accepted on the two webhook endpoints.
package models

import "time"

// TaskStatus is one of the non-terminal states a GradingTask can occupy.
// Terminal outcomes (ERROR, SUCCESSFUL) are represented by row deletion, not
// by a value of this type.
type TaskStatus string

const (
	StatusQueued   TaskStatus = "QUEUED"
	StatusReserved TaskStatus = "RESERVED"
	StatusOrdered  TaskStatus = "ORDERED"
	StatusStarted  TaskStatus = "STARTED"
)

// GradingTask is a live intent to grade a specific UserAssignment. It
// disappears from the store on any terminal transition.
type GradingTask struct {
	InternalID        int64
	ExternalID        string
	UserAssignmentID  int64
	ProviderLogin     string
	Status            TaskStatus
	RepositoryName    string
	GraderURL         string
	InstallationID    *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RunningGradingMetadata is set on a STARTED task and cleared on any
// terminal transition.
type RunningGradingMetadata struct {
	ShortCommitID string `json:"short_commit_id"`
	CommitURL     string `json:"commit_url"`
	LogURL        string `json:"log_url"`
}

// GradeDetail is one rubric step inside a GradeRecord.
type GradeDetail struct {
	Name     string   `json:"name"`
	Grade    float64  `json:"grade"`
	MaxGrade float64  `json:"max_grade"`
	Messages []string `json:"messages"`
}

// GradeRecord is appended to a UserAssignment's grades_history on a
// successful completion.
type GradeRecord struct {
	Grade          float64       `json:"grade"`
	MaxGrade       float64       `json:"max_grade"`
	Time           time.Time     `json:"time"`
	ShortCommitID  string        `json:"short_commit_id"`
	CommitURL      string        `json:"commit_url"`
	GradingLogURL  string        `json:"grading_log_url"`
	Details        []GradeDetail `json:"details"`
}

// UserAssignment is the intersection row for one student and one
// assignment. Only the fields the grading-task core touches are modeled
// here; the rest (name, description, scheduling window beyond start/stop)
// belongs to the collaborator-owned assignment catalog.
type UserAssignment struct {
	ID                     int64
	UserID                 int64
	AssignmentID           int64
	GradingInProgress      bool
	GradedLastAt           *time.Time
	PreviousGradingError   *string
	RunningGradingMetadata *RunningGradingMetadata
	NormalizedGrade        float64
	RepositoryLinked       bool
}

// Assignment is the collaborator-owned grading target this core joins
// against to resolve repository/grader coordinates and the grading window.
type Assignment struct {
	ID             int64
	ModuleID       int64
	ExternalID     string
	RepositoryName string
	GraderURL      string
	StartsAt       *time.Time
	StopsAt        *time.Time
}

// User is the collaborator-owned account row; the core only ever needs the
// VCS provider login.
type User struct {
	ID            int64
	ExternalID    string
	ProviderLogin string
}

// InternalTaskOrigin creates a QUEUED task directly from a known, already
// resolved UserAssignment row (the numeric user_assignment_id form spec.md
// §9 settles on). provider_login/repository_name/grader_url are resolved
// from the user_assignments/users/assignments join, not taken from the
// caller.
type InternalTaskOrigin struct {
	UserAssignmentID int64
}

// ExternalTaskOrigin creates a QUEUED task from opaque, externally visible
// ids that must be resolved via a join against assignment/user.
type ExternalTaskOrigin struct {
	AssignmentExternalID string
	UserExternalID       string
}

// UnparseableWebhook is the dead-letter record persisted when an inbound
// provider webhook can't be parsed against any known event schema.
type UnparseableWebhook struct {
	ID         int64
	Origin     string
	EventType  string
	RawBody    string
	ParseError string
	CreatedAt  time.Time
}

// RunnerStatus is the status field of a runner callback payload.
type RunnerStatus string

const (
	RunnerStarted   RunnerStatus = "started"
	RunnerCompleted RunnerStatus = "completed"
	RunnerFailure   RunnerStatus = "failure"
)

// RunnerGradePart is one rubric step as reported by the runner.
type RunnerGradePart struct {
	ID       string   `json:"id"`
	Grade    float64  `json:"grade"`
	MaxGrade *float64 `json:"maxGrade"`
	Comments []string `json:"comments"`
}

// RunnerGradeDetails is the optional grade breakdown on a "completed"
// runner callback.
type RunnerGradeDetails struct {
	Grade    float64           `json:"grade"`
	MaxGrade float64           `json:"maxGrade"`
	Parts    []RunnerGradePart `json:"parts"`
}

// RunnerMetadata is the optional commit metadata on a runner callback.
type RunnerMetadata struct {
	CommitID      *string `json:"commit_id"`
	ShortCommitID *string `json:"short_commit_id"`
	CommitURL     *string `json:"commit_url"`
}

// RunnerPayload is the body of POST /webhook/github/runner.
type RunnerPayload struct {
	Status        RunnerStatus         `json:"status" binding:"required"`
	StudentLogin  string               `json:"student_login"`
	GraderRepo    string               `json:"grader_repo"`
	TaskID        string               `json:"task_id" binding:"required"`
	FullLogURL    string               `json:"full_log_url"`
	Details       *RunnerGradeDetails  `json:"details"`
	Metadata      RunnerMetadata       `json:"metadata"`
}
