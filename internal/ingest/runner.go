package ingest

import (
	"context"
	"errors"
	"log"

	"gradeflow/internal/grading"
	"gradeflow/internal/models"
	"gradeflow/internal/store"
)

// HandleRunnerWebhook drives the STARTED/terminal transitions for a task
// from an already-JWT-verified runner callback (spec.md §4.4
// on_runner_webhook). A missing task (already timed out) is logged, not
// surfaced as an HTTP error.
func HandleRunnerWebhook(ctx context.Context, s *store.Store, payload models.RunnerPayload) error {
	switch payload.Status {
	case models.RunnerStarted:
		metadata := models.RunningGradingMetadata{LogURL: payload.FullLogURL}
		if payload.Metadata.ShortCommitID != nil {
			metadata.ShortCommitID = *payload.Metadata.ShortCommitID
		}
		if payload.Metadata.CommitURL != nil {
			metadata.CommitURL = *payload.Metadata.CommitURL
		}
		return ignoreTaskNotFound(s.AdvanceStarted(ctx, payload.TaskID, metadata))

	case models.RunnerCompleted:
		if payload.Details == nil {
			msg := "GitHub runner job completed without grading details"
			return ignoreTaskNotFound(s.Terminate(ctx, payload.TaskID, &msg))
		}
		record, err := grading.BuildGradeRecord(*payload.Details, payload.Metadata, payload.FullLogURL)
		if err != nil {
			if errors.Is(err, grading.ErrZeroMaxGrade) {
				msg := err.Error()
				return ignoreTaskNotFound(s.Terminate(ctx, payload.TaskID, &msg))
			}
			return err
		}
		return ignoreTaskNotFound(s.TerminateWithGrade(ctx, payload.TaskID, record))

	case models.RunnerFailure:
		msg := "GitHub runner job failed"
		return ignoreTaskNotFound(s.Terminate(ctx, payload.TaskID, &msg))

	default:
		return nil
	}
}

func ignoreTaskNotFound(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) && storeErr.Kind == store.KindTaskNotFound {
		log.Printf("runner callback for unknown task: %v", err)
		return nil
	}
	return err
}
