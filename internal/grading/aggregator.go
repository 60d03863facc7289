// Package grading implements the Grade Aggregator (C6): converting a
// completed runner payload into a GradeRecord, following the teacher's
// AnomalyService shape of a stateless struct with pure computational
// methods and a thin persistence call at the call site.
package grading

import (
	"errors"
	"time"

	"gradeflow/internal/models"
)

// ErrZeroMaxGrade signals spec.md §4.6's InvalidGrade case: the aggregated
// max_grade across all parts is zero.
var ErrZeroMaxGrade = errors.New("completed with zero max grade")

// BuildGradeRecord aggregates grade/max_grade across all parts and builds a
// GradeRecord with the payload's commit/log metadata. Returns
// ErrZeroMaxGrade when the aggregated max_grade is zero; the caller must
// still terminate the task, without appending this record.
func BuildGradeRecord(details models.RunnerGradeDetails, metadata models.RunnerMetadata, fullLogURL string) (models.GradeRecord, error) {
	var totalGrade, totalMaxGrade float64
	detailRecords := make([]models.GradeDetail, 0, len(details.Parts))
	for _, part := range details.Parts {
		maxGrade := 0.0
		if part.MaxGrade != nil {
			maxGrade = *part.MaxGrade
		}
		totalGrade += part.Grade
		totalMaxGrade += maxGrade
		detailRecords = append(detailRecords, models.GradeDetail{
			Name:     part.ID,
			Grade:    part.Grade,
			MaxGrade: maxGrade,
			Messages: part.Comments,
		})
	}

	record := models.GradeRecord{
		Grade:         totalGrade,
		MaxGrade:      totalMaxGrade,
		Time:          time.Now().UTC(),
		GradingLogURL: fullLogURL,
		Details:       detailRecords,
	}
	if metadata.ShortCommitID != nil {
		record.ShortCommitID = *metadata.ShortCommitID
	}
	if metadata.CommitURL != nil {
		record.CommitURL = *metadata.CommitURL
	}

	if totalMaxGrade == 0 {
		return record, ErrZeroMaxGrade
	}
	return record, nil
}
