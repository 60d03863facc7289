package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gradeflow/internal/models"
	"gradeflow/internal/store"
	"gradeflow/internal/testutils"
)

func TestUpsertCoalescesQueuedRows(t *testing.T) {
	db := testutils.NewTestDB(t)
	userID := testutils.SeedUser(t, db, "ext-user-1", "alice")
	assignmentID := testutils.SeedAssignment(t, db, "ext-assign-1", "org/repo", "https://github.com/org/grader")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)

	s := store.New(db)
	ctx := context.Background()

	var last *time.Time
	for i := 0; i < 3; i++ {
		updatedAt, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false)
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if updatedAt == nil {
			t.Fatalf("upsert %d: expected a timestamp, got nil", i)
		}
		if last != nil && updatedAt.Before(*last) {
			t.Fatalf("upsert %d: updated_at went backwards", i)
		}
		last = updatedAt
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM grading_tasks WHERE user_assignment_id = ?`, uaID).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one coalesced row, got %d", count)
	}
}

func TestUpsertEnforceWindowSkipsOutsideRange(t *testing.T) {
	db := testutils.NewTestDB(t)
	userID := testutils.SeedUser(t, db, "ext-user-2", "bob")
	assignmentID := testutils.SeedAssignment(t, db, "ext-assign-2", "org/repo2", "https://github.com/org/grader2")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)

	future := time.Now().Add(24 * time.Hour)
	if _, err := db.Exec(`UPDATE assignments SET starts_at = ? WHERE id = ?`, future, assignmentID); err != nil {
		t.Fatalf("set starts_at: %v", err)
	}

	s := store.New(db)
	updatedAt, err := s.UpsertInternal(context.Background(), models.InternalTaskOrigin{UserAssignmentID: uaID}, true)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if updatedAt != nil {
		t.Fatalf("expected upsert to be skipped outside the assignment window, got %v", *updatedAt)
	}
}

func TestReserveBatchIsFIFOAndBounded(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	var uaIDs []int64
	for i := 0; i < 3; i++ {
		userID := testutils.SeedUser(t, db, "ext-u-"+string(rune('a'+i)), "user"+string(rune('a'+i)))
		assignmentID := testutils.SeedAssignment(t, db, "ext-a-"+string(rune('a'+i)), "org/repo", "https://github.com/org/grader")
		uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)
		uaIDs = append(uaIDs, uaID)
		if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
			t.Fatalf("seed task %d: %v", i, err)
		}
		// created_at has second resolution in the stored column; force a
		// strict ordering so FIFO is unambiguous.
		if _, err := db.Exec(`UPDATE grading_tasks SET created_at = ? WHERE user_assignment_id = ?`,
			time.Now().Add(time.Duration(i)*time.Second), uaID); err != nil {
			t.Fatalf("stagger created_at %d: %v", i, err)
		}
	}

	reserved, err := s.ReserveBatch(ctx, 0, 2)
	if err != nil {
		t.Fatalf("reserve_batch: %v", err)
	}
	if len(reserved) != 2 {
		t.Fatalf("expected 2 reserved tasks, got %d", len(reserved))
	}
	if reserved[0].UserAssignmentID != uaIDs[0] || reserved[1].UserAssignmentID != uaIDs[1] {
		t.Fatalf("expected FIFO order by created_at, got %+v", reserved)
	}
	for _, task := range reserved {
		if task.Status != models.StatusReserved {
			t.Fatalf("expected RESERVED, got %s", task.Status)
		}
	}

	for _, uaID := range uaIDs[:2] {
		var inProgress bool
		if err := db.QueryRow(`SELECT grading_in_progress FROM user_assignments WHERE id = ?`, uaID).Scan(&inProgress); err != nil {
			t.Fatalf("read grading_in_progress: %v", err)
		}
		if !inProgress {
			t.Fatalf("expected grading_in_progress=true for reserved user_assignment %d", uaID)
		}
	}
}

func TestReserveBatchRespectsCooldown(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u-cool", "cooled")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a-cool", "org/repo", "https://github.com/org/grader")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)

	recent := time.Now().Add(-10 * time.Second)
	if _, err := db.Exec(`UPDATE user_assignments SET graded_last_at = ? WHERE id = ?`, recent, uaID); err != nil {
		t.Fatalf("set graded_last_at: %v", err)
	}
	if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	reserved, err := s.ReserveBatch(ctx, 1200, 10)
	if err != nil {
		t.Fatalf("reserve_batch: %v", err)
	}
	if len(reserved) != 0 {
		t.Fatalf("expected cooldown to exclude the task, got %d reserved", len(reserved))
	}
}

func TestTerminateResetsUserAssignment(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u-term", "terminee")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a-term", "org/repo", "https://github.com/org/grader")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)

	updatedAt, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false)
	if err != nil || updatedAt == nil {
		t.Fatalf("seed task: %v", err)
	}
	reserved, err := s.ReserveBatch(ctx, 0, 10)
	if err != nil || len(reserved) != 1 {
		t.Fatalf("reserve: %v %v", reserved, err)
	}
	task := reserved[0]

	errMsg := "not ordered: network"
	if err := s.Terminate(ctx, task.ExternalID, &errMsg); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM grading_tasks WHERE external_id = ?`, task.ExternalID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected task row to be deleted, found %d", count)
	}

	var inProgress bool
	var gotErr *string
	if err := db.QueryRow(`SELECT grading_in_progress, previous_grading_error FROM user_assignments WHERE id = ?`, uaID).
		Scan(&inProgress, &gotErr); err != nil {
		t.Fatalf("read user_assignment: %v", err)
	}
	if inProgress {
		t.Fatalf("expected grading_in_progress=false after terminate")
	}
	if gotErr == nil || *gotErr != errMsg {
		t.Fatalf("expected previous_grading_error=%q, got %v", errMsg, gotErr)
	}
}

func TestTerminateUnknownTaskIsTaskNotFound(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	err := s.Terminate(context.Background(), "does-not-exist", nil)
	if err == nil {
		t.Fatalf("expected an error for unknown task")
	}
	var storeErr *store.Error
	if !errors.As(err, &storeErr) || storeErr.Kind != store.KindTaskNotFound {
		t.Fatalf("expected KindTaskNotFound, got %v", err)
	}
}

func TestTimeoutSweepTerminatesStaleTasks(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u-to", "timedout")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a-to", "org/repo", "https://github.com/org/grader")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)

	if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	reserved, err := s.ReserveBatch(ctx, 0, 10)
	if err != nil || len(reserved) != 1 {
		t.Fatalf("reserve: %v %v", reserved, err)
	}
	task := reserved[0]
	if err := s.AdvanceStatus(ctx, task.ExternalID, models.StatusStarted); err != nil {
		t.Fatalf("advance to started: %v", err)
	}
	staleTime := time.Now().Add(-16 * time.Minute)
	if _, err := db.Exec(`UPDATE grading_tasks SET updated_at = ? WHERE external_id = ?`, staleTime, task.ExternalID); err != nil {
		t.Fatalf("backdate updated_at: %v", err)
	}

	swept, err := s.TimeoutSweep(ctx, models.StatusStarted, 900)
	if err != nil {
		t.Fatalf("timeout_sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept task, got %d", swept)
	}

	var gotErr *string
	if err := db.QueryRow(`SELECT previous_grading_error FROM user_assignments WHERE id = ?`, uaID).Scan(&gotErr); err != nil {
		t.Fatalf("read previous_grading_error: %v", err)
	}
	want := "Status STARTED timed out after 900 secs"
	if gotErr == nil || *gotErr != want {
		t.Fatalf("expected %q, got %v", want, gotErr)
	}
}

func TestLaunchReservedTasksOrdersOnSuccessfulDispatch(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u-launch", "launchy")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a-launch", "org/repo", "https://github.com/org/grader")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)
	if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	stats, err := s.LaunchReservedTasks(ctx, 0, 10, func(context.Context, models.GradingTask) error { return nil })
	if err != nil {
		t.Fatalf("launch_reserved_tasks: %v", err)
	}
	if stats.Ordered != 1 || stats.Errored != 0 {
		t.Fatalf("expected 1 ordered task, got %+v", stats)
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM grading_tasks WHERE user_assignment_id = ?`, uaID).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(models.StatusOrdered) {
		t.Fatalf("expected ORDERED, got %s", status)
	}
}

func TestLaunchReservedTasksTerminatesOnDispatchFailure(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u-launch2", "launchy2")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a-launch2", "org/repo", "https://github.com/org/grader")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)
	if _, err := s.UpsertInternal(ctx, models.InternalTaskOrigin{UserAssignmentID: uaID}, false); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	stats, err := s.LaunchReservedTasks(ctx, 0, 10, func(context.Context, models.GradingTask) error {
		return errors.New("network")
	})
	if err != nil {
		t.Fatalf("launch_reserved_tasks: %v", err)
	}
	if stats.Ordered != 0 || stats.Errored != 1 {
		t.Fatalf("expected 1 errored task, got %+v", stats)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM grading_tasks WHERE user_assignment_id = ?`, uaID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected task row deleted after dispatch failure, got %d rows", count)
	}
}

func TestAppendGradeIsMonotone(t *testing.T) {
	db := testutils.NewTestDB(t)
	s := store.New(db)
	ctx := context.Background()

	userID := testutils.SeedUser(t, db, "ext-u-grade", "grady")
	assignmentID := testutils.SeedAssignment(t, db, "ext-a-grade", "org/repo", "https://github.com/org/grader")
	uaID := testutils.SeedUserAssignment(t, db, userID, assignmentID)

	if err := s.AppendGrade(ctx, uaID, models.GradeRecord{Grade: 2, MaxGrade: 4, Time: time.Now()}); err != nil {
		t.Fatalf("append grade 1: %v", err)
	}
	if err := s.AppendGrade(ctx, uaID, models.GradeRecord{Grade: 4, MaxGrade: 4, Time: time.Now()}); err != nil {
		t.Fatalf("append grade 2: %v", err)
	}
	if err := s.AppendGrade(ctx, uaID, models.GradeRecord{Grade: 1, MaxGrade: 4, Time: time.Now()}); err != nil {
		t.Fatalf("append grade 3: %v", err)
	}

	var normalized float64
	if err := db.QueryRow(`SELECT normalized_grade FROM user_assignments WHERE id = ?`, uaID).Scan(&normalized); err != nil {
		t.Fatalf("read normalized_grade: %v", err)
	}
	if normalized != 20 {
		t.Fatalf("expected normalized_grade=20 (max so far), got %v", normalized)
	}
}
