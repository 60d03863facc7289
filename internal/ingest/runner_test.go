package ingest_test

import (
	"context"
	"testing"

	"gradeflow/internal/ingest"
	"gradeflow/internal/models"
	"gradeflow/internal/store"
	"gradeflow/internal/testutils"
)

func TestHandleRunnerWebhookStartedThenCompleted(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u", "alice")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a", "alice-hw1", "https://github.com/acme/grader-hw1")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)

	if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	reserved, err := s.ReserveBatch(ctx, 0, 10)
	if err != nil || len(reserved) != 1 {
		t.Fatalf("reserve: %v %v", reserved, err)
	}
	task := reserved[0]
	if err := s.AdvanceStatus(ctx, task.ExternalID, models.StatusOrdered); err != nil {
		t.Fatalf("advance to ordered: %v", err)
	}

	shortID := "abc123"
	startedPayload := models.RunnerPayload{
		Status:     models.RunnerStarted,
		TaskID:     task.ExternalID,
		FullLogURL: "https://logs.example/1",
		Metadata:   models.RunnerMetadata{ShortCommitID: &shortID},
	}
	if err := ingest.HandleRunnerWebhook(ctx, s, startedPayload); err != nil {
		t.Fatalf("handle started: %v", err)
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM grading_tasks WHERE external_id = ?`, task.ExternalID).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(models.StatusStarted) {
		t.Fatalf("expected STARTED, got %s", status)
	}

	max4 := 4.0
	completedPayload := models.RunnerPayload{
		Status:     models.RunnerCompleted,
		TaskID:     task.ExternalID,
		FullLogURL: "https://logs.example/1",
		Details: &models.RunnerGradeDetails{
			Parts: []models.RunnerGradePart{{ID: "s", Grade: 4, MaxGrade: &max4}},
		},
	}
	if err := ingest.HandleRunnerWebhook(ctx, s, completedPayload); err != nil {
		t.Fatalf("handle completed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM grading_tasks WHERE external_id = ?`, task.ExternalID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected task row deleted after completion")
	}

	var normalized float64
	if err := db.QueryRow(`SELECT normalized_grade FROM user_assignments WHERE id = ?`, uaID).Scan(&normalized); err != nil {
		t.Fatalf("read normalized_grade: %v", err)
	}
	if normalized != 20 {
		t.Fatalf("expected normalized_grade=20, got %v", normalized)
	}
}

func TestHandleRunnerWebhookCompletedWithoutDetails(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u2", "bob")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a2", "bob-hw1", "https://github.com/acme/grader-hw1")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)
	if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	reserved, err := s.ReserveBatch(ctx, 0, 10)
	if err != nil || len(reserved) != 1 {
		t.Fatalf("reserve: %v %v", reserved, err)
	}

	payload := models.RunnerPayload{Status: models.RunnerCompleted, TaskID: reserved[0].ExternalID}
	if err := ingest.HandleRunnerWebhook(ctx, s, payload); err != nil {
		t.Fatalf("handle completed without details: %v", err)
	}

	var gotErr *string
	if err := db.QueryRow(`SELECT previous_grading_error FROM user_assignments WHERE id = ?`, uaID).Scan(&gotErr); err != nil {
		t.Fatalf("read previous_grading_error: %v", err)
	}
	want := "GitHub runner job completed without grading details"
	if gotErr == nil || *gotErr != want {
		t.Fatalf("expected %q, got %v", want, gotErr)
	}
}

func TestHandleRunnerWebhookUnknownTaskIsNoOp(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)

	payload := models.RunnerPayload{Status: models.RunnerCompleted, TaskID: "does-not-exist"}
	if err := ingest.HandleRunnerWebhook(context.Background(), s, payload); err != nil {
		t.Fatalf("expected unknown task to be a no-op, got %v", err)
	}
}
