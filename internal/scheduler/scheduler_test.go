package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gradeflow/internal/models"
	"gradeflow/internal/scheduler"
	"gradeflow/internal/store"
	"gradeflow/internal/testutils"
)

type fakeDispatcher struct {
	fail map[string]bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task models.GradingTask) error {
	if f.fail[task.ExternalID] {
		return fmt.Errorf("network")
	}
	return nil
}

func TestTickOrdersDispatchableTasks(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	userID := testutils.SeedUser(t, db, "ext-u", "alice")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a", "alice-hw1", "https://github.com/acme/grader-hw1")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)
	if _, err := s.UpsertInternal(context.Background(), models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	sched := scheduler.New(s, &fakeDispatcher{}, scheduler.Config{
		Interval:            20 * time.Millisecond,
		MinCooldownSecs:     0,
		MaxParallelGradings: 10,
		OrderedTimeoutSecs:  300,
		StartedTimeoutSecs:  900,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	go sched.Run(ctx)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)

	var status string
	if err := db.QueryRow(`SELECT status FROM grading_tasks WHERE user_assignment_id = ?`, uaID).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(models.StatusOrdered) {
		t.Fatalf("expected ORDERED after a tick, got %s", status)
	}
}

func TestTickTerminatesUndispatchableTasks(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	userID := testutils.SeedUser(t, db, "ext-u2", "bob")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a2", "bob-hw1", "https://github.com/acme/grader-hw1")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)
	updatedAt, err := s.UpsertInternal(context.Background(), models.InternalTaskOrigin{UserAssignmentID: uaID}, false)
	if err != nil || updatedAt == nil {
		t.Fatalf("seed task: %v", err)
	}

	var externalID string
	if err := db.QueryRow(`SELECT external_id FROM grading_tasks WHERE user_assignment_id = ?`, uaID).Scan(&externalID); err != nil {
		t.Fatalf("read external_id: %v", err)
	}

	sched := scheduler.New(s, &fakeDispatcher{fail: map[string]bool{externalID: true}}, scheduler.Config{
		Interval:            20 * time.Millisecond,
		MinCooldownSecs:     0,
		MaxParallelGradings: 10,
		OrderedTimeoutSecs:  300,
		StartedTimeoutSecs:  900,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	go sched.Run(ctx)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM grading_tasks WHERE external_id = ?`, externalID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected undispatchable task to be terminated and deleted")
	}

	var gotErr *string
	if err := db.QueryRow(`SELECT previous_grading_error FROM user_assignments WHERE id = ?`, uaID).Scan(&gotErr); err != nil {
		t.Fatalf("read previous_grading_error: %v", err)
	}
	if gotErr == nil || *gotErr != "not ordered: network" {
		t.Fatalf("expected 'not ordered: network', got %v", gotErr)
	}
}
