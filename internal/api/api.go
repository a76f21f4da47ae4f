package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"ner-balancer/internal/core"
	"ner-balancer/internal/core/types"
	"ner-balancer/internal/database"
	"ner-balancer/internal/messaging"
	"ner-balancer/internal/metrics"
	"ner-balancer/internal/storage"
	"ner-balancer/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const (
	DefaultMaxUploadBytes = 16 * 1024 * 1024
	defaultJobListLimit   = 100
	maxJobListLimit       = 1000
)

type ServiceConfig struct {
	UploadBucket   string
	OutputBucket   string
	MaxUploadBytes int64

	// Used when a request does not set max_iterations or ignore_tags.
	MaxIterations int
	IgnoreTags    []string
}

type BackendService struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	cfg       ServiceConfig
}

func NewBackendService(db *gorm.DB, storage storage.Provider, publisher messaging.Publisher, cfg ServiceConfig) *BackendService {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &BackendService{db: db, storage: storage, publisher: publisher, cfg: cfg}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Post("/balance", RestHandler(s.Balance))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitJob))
		r.Get("/", RestHandler(s.ListJobs))
		r.Get("/{job_id}", RestHandler(s.GetJob))
		r.Get("/{job_id}/output", s.GetJobOutput)
		r.Delete("/{job_id}", RestHandler(s.DeleteJob))
	})
	r.Handle("/metrics", promhttp.Handler())
}

func (s *BackendService) Health(r *http.Request) (any, error) {
	return api.HealthResponse{Status: "healthy"}, nil
}

type balanceRequest struct {
	filename   string
	outputName string
	data       []byte
	targets    types.Targets
	opts       core.BalanceOptions
}

func (s *BackendService) parseBalanceRequest(r *http.Request) (*balanceRequest, error) {
	form, err := ParseMultipartForm(r, s.cfg.MaxUploadBytes, api.BalanceRequest{TagColumn: -1})
	if err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, CodedErrorf(http.StatusBadRequest, "no file provided")
		}
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file: %v", err)
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if filename == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "no file selected")
	}

	if form.TargetFrequencies == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "no target frequencies provided")
	}

	targets, err := core.ParseTargets(form.TargetFrequencies)
	if err != nil {
		return nil, balanceError(err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file: %v", err)
	}

	outputName := sanitizeFilename(form.OutputFilename)
	if outputName == "" {
		outputName = "balanced_" + filename
	}

	opts := core.BalanceOptions{
		TagColumn:     form.TagColumn,
		MaxIterations: form.MaxIterations,
		IgnoreTags:    s.cfg.IgnoreTags,
		Strict:        form.Strict,
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = s.cfg.MaxIterations
	}
	if _, ok := r.MultipartForm.Value["ignore_tags"]; ok {
		opts.IgnoreTags = splitTags(form.IgnoreTags)
	}

	return &balanceRequest{
		filename:   filename,
		outputName: outputName,
		data:       data,
		targets:    targets,
		opts:       opts,
	}, nil
}

// balanceError maps dataset and target errors to client errors.
func balanceError(err error) error {
	var syntaxErr *core.TargetSyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, types.ErrFormat):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, types.ErrConfig), errors.Is(err, types.ErrEmptyInput):
		return CodedError(http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodedErrorf(http.StatusServiceUnavailable, "balancing did not finish: %v", err)
	default:
		return CodedErrorf(http.StatusInternalServerError, "error balancing dataset: %v", err)
	}
}

func newJob(req *balanceRequest, status string) (database.BalanceJob, error) {
	targets, err := json.Marshal(req.targets)
	if err != nil {
		return database.BalanceJob{}, fmt.Errorf("error encoding targets: %w", err)
	}

	ignoreTags := []string{}
	if req.opts.IgnoreTags != nil {
		ignoreTags = req.opts.IgnoreTags
	}
	ignore, err := json.Marshal(ignoreTags)
	if err != nil {
		return database.BalanceJob{}, fmt.Errorf("error encoding ignore tags: %w", err)
	}

	id := uuid.New()
	return database.BalanceJob{
		Id:            id,
		Name:          req.filename,
		Status:        status,
		InputKey:      path.Join(id.String(), req.filename),
		OutputKey:     path.Join(id.String(), req.outputName),
		Targets:       targets,
		IgnoreTags:    ignore,
		MaxIterations: req.opts.MaxIterations,
		TagColumn:     req.opts.TagColumn,
		Strict:        req.opts.Strict,
		CreationTime:  time.Now().UTC(),
	}, nil
}

// Balance runs the balancer synchronously on the uploaded dataset and stores the
// result as a completed job.
func (s *BackendService) Balance(r *http.Request) (any, error) {
	req, err := s.parseBalanceRequest(r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	out, err := core.Balance(ctx, string(req.data), req.targets, req.opts)
	if err != nil {
		metrics.ObserveFailure(metrics.SourceAPI)
		return nil, balanceError(err)
	}
	metrics.ObserveRun(metrics.SourceAPI, out.Stats.Iterations, out.Stats.Badness, out.Stats.Converged)

	job, err := newJob(req, database.JobRunning)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	if err := s.storage.PutObject(ctx, s.cfg.OutputBucket, job.OutputKey, bytes.NewReader([]byte(out.Text))); err != nil {
		slog.Error("error writing balanced dataset", "job_id", job.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store balanced dataset")
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating job", "job_id", job.Id, "error", err)
		s.discardObject(s.cfg.OutputBucket, job.OutputKey)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	if err := database.SaveJobResult(ctx, s.db, job.Id, core.JobResultFromStats(job.OutputKey, out.Stats)); err != nil {
		slog.Error("error saving job result", "job_id", job.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to save job result")
	}
	metrics.JobsTotal.WithLabelValues(database.JobCompleted).Inc()

	slog.Info("balanced uploaded dataset", "job_id", job.Id, "file", req.filename, "selected", out.Stats.Summary.TotalSentences, "badness", out.Stats.Badness)

	return api.BalanceResponse{
		Message:              "File processed successfully",
		JobId:                job.Id,
		OutputFile:           job.OutputKey,
		TagFrequencies:       convertTagStats(out.Stats.Tags),
		FormattedFrequencies: out.Stats.Formatted,
		Summary: api.Summary{
			TotalSentences: out.Stats.Summary.TotalSentences,
			TotalTags:      out.Stats.Summary.TotalTags,
		},
		Badness:    out.Stats.Badness,
		Iterations: out.Stats.Iterations,
		Converged:  out.Stats.Converged,
	}, nil
}

// discardObject removes an object no job row refers to. It runs detached from the
// request context, which may already be cancelled.
func (s *BackendService) discardObject(bucket, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.storage.DeleteObject(ctx, bucket, key); err != nil {
		slog.Error("error deleting orphaned object", "bucket", bucket, "key", key, "error", err)
	}
}

// SubmitJob stores the uploaded dataset and queues it for the worker.
func (s *BackendService) SubmitJob(r *http.Request) (any, error) {
	req, err := s.parseBalanceRequest(r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	job, err := newJob(req, database.JobQueued)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	if err := s.storage.PutObject(ctx, s.cfg.UploadBucket, job.InputKey, bytes.NewReader(req.data)); err != nil {
		slog.Error("error storing uploaded dataset", "job_id", job.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store uploaded dataset")
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating job", "job_id", job.Id, "error", err)
		s.discardObject(s.cfg.UploadBucket, job.InputKey)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}
	metrics.JobsTotal.WithLabelValues(database.JobQueued).Inc()

	if err := s.publisher.PublishBalanceTask(ctx, messaging.BalanceTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing balance task", "job_id", job.Id, "error", err)
		database.SaveJobError(ctx, s.db, job.Id, "failed to queue balance task")
		if err := database.UpdateJobStatus(ctx, s.db, job.Id, database.JobFailed); err != nil {
			slog.Error("error marking job failed", "job_id", job.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue balance task")
	}

	slog.Info("submitted balance job", "job_id", job.Id, "file", req.filename)

	return api.SubmitJobResponse{JobId: job.Id}, nil
}

var jobStatuses = map[string]struct{}{
	database.JobQueued:    {},
	database.JobRunning:   {},
	database.JobCompleted: {},
	database.JobFailed:    {},
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListJobsParams](r)
	if err != nil {
		return nil, err
	}

	if params.Limit < 0 || params.Limit > maxJobListLimit {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must be between 0 and %d", maxJobListLimit)
	}
	if params.Limit == 0 {
		params.Limit = defaultJobListLimit
	}

	query := s.db.WithContext(r.Context()).Preload("Tags").Order("creation_time DESC").Limit(params.Limit)
	if params.Status != "" {
		if _, ok := jobStatuses[params.Status]; !ok {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid job status '%s'", params.Status)
		}
		query = query.Where("status = ?", params.Status)
	}

	var jobs []database.BalanceJob
	if err := query.Find(&jobs).Error; err != nil {
		slog.Error("error listing jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job records")
	}

	return convertJobs(jobs), nil
}

func (s *BackendService) getJob(r *http.Request) (*database.BalanceJob, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	job, err := database.GetJob(r.Context(), s.db, jobId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return job, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	job, err := s.getJob(r)
	if err != nil {
		return nil, err
	}
	return convertJob(*job), nil
}

// GetJobOutput streams the balanced CoNLL file of a completed job.
func (s *BackendService) GetJobOutput(w http.ResponseWriter, r *http.Request) {
	job, err := s.getJob(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if job.Status != database.JobCompleted {
		writeError(w, CodedErrorf(http.StatusConflict, "job has status %s, output is only available for completed jobs", job.Status))
		return
	}

	stream, err := s.storage.GetObjectStream(r.Context(), s.cfg.OutputBucket, job.OutputKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, CodedErrorf(http.StatusNotFound, "job output not found"))
			return
		}
		slog.Error("error opening job output", "job_id", job.Id, "error", err)
		writeError(w, CodedErrorf(http.StatusInternalServerError, "error reading job output"))
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(job.OutputKey)))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stream); err != nil {
		slog.Error("error streaming job output", "job_id", job.Id, "error", err)
	}
}

func (s *BackendService) DeleteJob(r *http.Request) (any, error) {
	job, err := s.getJob(r)
	if err != nil {
		return nil, err
	}

	if job.Status == database.JobRunning {
		return nil, CodedErrorf(http.StatusConflict, "cannot delete a running job")
	}

	ctx := r.Context()

	if err := s.storage.DeleteObject(ctx, s.cfg.UploadBucket, job.InputKey); err != nil {
		slog.Error("error deleting job input", "job_id", job.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting job input")
	}
	if err := s.storage.DeleteObject(ctx, s.cfg.OutputBucket, job.OutputKey); err != nil {
		slog.Error("error deleting job output", "job_id", job.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting job output")
	}

	if err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("job_id = ?", job.Id).Delete(&database.BalanceJobTag{}).Error; err != nil {
			return err
		}
		if err := txn.Where("job_id = ?", job.Id).Delete(&database.JobError{}).Error; err != nil {
			return err
		}
		return txn.Delete(&database.BalanceJob{Id: job.Id}).Error
	}); err != nil {
		slog.Error("error deleting job", "job_id", job.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting job")
	}

	slog.Info("deleted balance job", "job_id", job.Id)

	return nil, nil
}
