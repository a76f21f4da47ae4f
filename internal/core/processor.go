package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ner-balancer/internal/core/balancer"
	"ner-balancer/internal/core/types"
	"ner-balancer/internal/database"
	"ner-balancer/internal/messaging"
	"ner-balancer/internal/metrics"
	"ner-balancer/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	reciever  messaging.Reciever

	uploadBucket string
	outputBucket string

	wg sync.WaitGroup

	// Jobs currently being balanced by this processor, so a redelivered task for
	// the same job does not run concurrently with the original.
	inflightMu sync.Mutex
	inflight   map[uuid.UUID]struct{}
}

func NewTaskProcessor(db *gorm.DB, storage storage.Provider, publisher messaging.Publisher, reciever messaging.Reciever, uploadBucket, outputBucket string) *TaskProcessor {
	return &TaskProcessor{
		db:           db,
		storage:      storage,
		publisher:    publisher,
		reciever:     reciever,
		uploadBucket: uploadBucket,
		outputBucket: outputBucket,
		inflight:     make(map[uuid.UUID]struct{}),
	}
}

// Start consumes tasks on concurrency goroutines and returns once the reciever is
// closed and every in-flight task has finished.
func (proc *TaskProcessor) Start(concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	slog.Info("starting task processor", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		proc.wg.Add(1)
		go func() {
			defer proc.wg.Done()
			for task := range proc.reciever.Tasks() {
				proc.ProcessTask(task)
			}
		}()
	}

	proc.wg.Wait()
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.BalanceQueue:
		var payload messaging.BalanceTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling balance task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processBalanceTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// IsInputError reports whether err was caused by the dataset or the targets rather
// than by infrastructure. Retrying such a job reproduces the same error.
func IsInputError(err error) bool {
	return errors.Is(err, types.ErrFormat) || errors.Is(err, types.ErrConfig) || errors.Is(err, types.ErrEmptyInput)
}

func (proc *TaskProcessor) failJob(ctx context.Context, jobId uuid.UUID, err error) {
	database.SaveJobError(ctx, proc.db, jobId, err.Error())
	if err := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed); err != nil {
		slog.Error("error marking job failed", "job_id", jobId, "error", err)
	}
	metrics.JobsTotal.WithLabelValues(database.JobFailed).Inc()
	metrics.ObserveFailure(metrics.SourceWorker)
}

func (proc *TaskProcessor) claimJob(jobId uuid.UUID) bool {
	proc.inflightMu.Lock()
	defer proc.inflightMu.Unlock()

	if _, ok := proc.inflight[jobId]; ok {
		return false
	}
	proc.inflight[jobId] = struct{}{}
	return true
}

func (proc *TaskProcessor) releaseJob(jobId uuid.UUID) {
	proc.inflightMu.Lock()
	defer proc.inflightMu.Unlock()

	delete(proc.inflight, jobId)
}

func (proc *TaskProcessor) processBalanceTask(ctx context.Context, payload messaging.BalanceTaskPayload) error {
	jobId := payload.JobId

	if !proc.claimJob(jobId) {
		slog.Info("balance job is already being processed, skipping duplicate task", "job_id", jobId)
		return nil
	}
	defer proc.releaseJob(jobId)

	slog.Info("processing balance task", "job_id", jobId)

	job, err := database.GetJob(ctx, proc.db, jobId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("balance job no longer exists, skipping task", "job_id", jobId)
			return nil
		}
		return fmt.Errorf("error getting balance job: %w", err)
	}

	if job.Status == database.JobCompleted {
		slog.Info("balance job already completed, skipping task", "job_id", jobId)
		return nil
	}

	if err := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobRunning); err != nil {
		return fmt.Errorf("error updating job status: %w", err)
	}
	metrics.JobsTotal.WithLabelValues(database.JobRunning).Inc()

	targets, err := job.GetTargets()
	if err != nil {
		proc.failJob(ctx, jobId, err)
		return nil
	}

	ignoreTags, err := job.GetIgnoreTags()
	if err != nil {
		proc.failJob(ctx, jobId, err)
		return nil
	}

	input, err := proc.storage.GetObject(ctx, proc.uploadBucket, job.InputKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			proc.failJob(ctx, jobId, fmt.Errorf("uploaded dataset is missing: %w", err))
			return nil
		}
		return fmt.Errorf("error reading uploaded dataset: %w", err)
	}

	out, err := Balance(ctx, string(input), types.Targets(targets), BalanceOptions{
		TagColumn:     job.TagColumn,
		MaxIterations: job.MaxIterations,
		IgnoreTags:    ignoreTags,
		Strict:        job.Strict,
	})
	if err != nil {
		if IsInputError(err) {
			slog.Warn("balance job rejected its input", "job_id", jobId, "error", err)
			proc.failJob(ctx, jobId, err)
			return nil
		}
		return fmt.Errorf("error balancing dataset: %w", err)
	}

	if err := proc.storage.PutObject(ctx, proc.outputBucket, job.OutputKey, bytes.NewReader([]byte(out.Text))); err != nil {
		return fmt.Errorf("error writing balanced dataset: %w", err)
	}

	if err := database.SaveJobResult(ctx, proc.db, jobId, JobResultFromStats(job.OutputKey, out.Stats)); err != nil {
		return fmt.Errorf("error saving job result: %w", err)
	}
	metrics.JobsTotal.WithLabelValues(database.JobCompleted).Inc()
	metrics.ObserveRun(metrics.SourceWorker, out.Stats.Iterations, out.Stats.Badness, out.Stats.Converged)

	if err := proc.storage.DeleteObject(ctx, proc.uploadBucket, job.InputKey); err != nil {
		slog.Warn("error removing uploaded dataset", "job_id", jobId, "key", job.InputKey, "error", err)
	}

	slog.Info("balance job completed", "job_id", jobId, "selected", out.Stats.Summary.TotalSentences, "badness", out.Stats.Badness)

	return nil
}

func JobResultFromStats(outputKey string, stats balancer.Stats) database.JobResult {
	tags := make([]database.BalanceJobTag, 0, len(stats.Tags))
	for _, t := range stats.Tags {
		tags = append(tags, database.BalanceJobTag{Tag: t.Tag, Count: t.Count, Target: t.Target, Diff: t.Diff})
	}

	return database.JobResult{
		OutputKey:         outputKey,
		TotalSentences:    stats.DatasetSentences,
		SelectedSentences: stats.Summary.TotalSentences,
		TotalTags:         stats.Summary.TotalTags,
		Badness:           stats.Badness,
		Iterations:        stats.Iterations,
		Converged:         stats.Converged,
		Tags:              tags,
	}
}

// RequeuePendingJobs publishes a task for every job that never finished, which is
// needed when the queue does not outlive the process.
func RequeuePendingJobs(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) (int, error) {
	var jobs []database.BalanceJob
	if err := db.WithContext(ctx).
		Where("status IN ?", []string{database.JobQueued, database.JobRunning}).
		Order("creation_time").
		Find(&jobs).Error; err != nil {
		return 0, fmt.Errorf("error fetching pending jobs: %w", err)
	}

	for _, job := range jobs {
		if err := publisher.PublishBalanceTask(ctx, messaging.BalanceTaskPayload{JobId: job.Id}); err != nil {
			return 0, fmt.Errorf("error requeueing job %s: %w", job.Id, err)
		}
	}

	return len(jobs), nil
}
