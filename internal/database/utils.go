package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&BalanceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	jobError := JobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&jobError).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}

type JobResult struct {
	OutputKey         string
	TotalSentences    int
	SelectedSentences int
	TotalTags         int
	Badness           int
	Iterations        int
	Converged         bool
	Tags              []BalanceJobTag
}

// SaveJobResult stores the outcome of a balancing run and marks the job completed.
func SaveJobResult(ctx context.Context, db *gorm.DB, jobId uuid.UUID, result JobResult) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("job_id = ?", jobId).Delete(&BalanceJobTag{}).Error; err != nil {
			return fmt.Errorf("could not clear old tags: %w", err)
		}

		if len(result.Tags) > 0 {
			tags := make([]BalanceJobTag, len(result.Tags))
			for i, t := range result.Tags {
				t.JobId = jobId
				tags[i] = t
			}
			if err := txn.Create(&tags).Error; err != nil {
				return fmt.Errorf("could not save job tags: %w", err)
			}
		}

		updates := map[string]any{
			"output_key":         result.OutputKey,
			"total_sentences":    result.TotalSentences,
			"selected_sentences": result.SelectedSentences,
			"total_tags":         result.TotalTags,
			"badness":            result.Badness,
			"iterations":         result.Iterations,
			"converged":          result.Converged,
			"status":             JobCompleted,
			"completion_time":    time.Now().UTC(),
		}
		if err := txn.Model(&BalanceJob{Id: jobId}).Updates(updates).Error; err != nil {
			return fmt.Errorf("could not save job result: %w", err)
		}

		return nil
	})
}

func GetJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID) (*BalanceJob, error) {
	var job BalanceJob
	if err := db.WithContext(ctx).
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tag") }).
		Preload("Errors", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp") }).
		First(&job, "id = ?", jobId).Error; err != nil {
		return nil, err
	}
	return &job, nil
}
