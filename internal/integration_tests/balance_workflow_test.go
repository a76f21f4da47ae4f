package integrationtests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "ner-balancer/internal/api"
	"ner-balancer/internal/core"
	"ner-balancer/internal/database"
	"ner-balancer/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t)
	s3 := setupS3Provider(t, ctx)
	require.NoError(t, s3.CreateBucket(ctx, uploadBucket))
	require.NoError(t, s3.CreateBucket(ctx, outputBucket))

	publisher, receiver := setupRabbitMQ(t, ctx)

	worker := core.NewTaskProcessor(db, s3, publisher, receiver, uploadBucket, outputBucket)
	go worker.Start(2)
	t.Cleanup(worker.Stop)

	service := backend.NewBackendService(db, s3, publisher, backend.ServiceConfig{
		UploadBucket: uploadBucket,
		OutputBucket: outputBucket,
	})
	router := chi.NewRouter()
	service.AddRoutes(router)

	t.Run("Synchronous", func(t *testing.T) {
		var res api.BalanceResponse
		err := httpRequest(router, multipartRequest(t, "/balance", "train.conll", scenarioConll, map[string]string{
			"target_frequencies": `{"B-ORG": 3, "O": 3}`,
		}), &res)
		require.NoError(t, err)

		assert.Equal(t, 1, res.Badness)
		output, err := s3.GetObject(ctx, outputBucket, res.OutputFile)
		require.NoError(t, err)
		assert.Equal(t, balancedScenario, string(output))
	})

	t.Run("Queued", func(t *testing.T) {
		var submitted api.SubmitJobResponse
		err := httpRequest(router, multipartRequest(t, "/jobs", "train.conll", scenarioConll, map[string]string{
			"target_frequencies": "B-ORG=3, O=3",
		}), &submitted)
		require.NoError(t, err)

		jobUrl := "/jobs/" + submitted.JobId.String()

		var job api.Job
		require.Eventually(t, func() bool {
			err := httpRequest(router, httptest.NewRequest(http.MethodGet, jobUrl, nil), &job)
			return err == nil && job.Status == database.JobCompleted
		}, time.Minute, 200*time.Millisecond)

		assert.Equal(t, 2, job.SelectedSentences)
		assert.Equal(t, 4, job.TotalSentences)
		assert.Equal(t, api.TagFrequency{Count: 3, Target: 3, Diff: 0}, job.TagFrequencies["B-ORG"])

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, jobUrl+"/output", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, balancedScenario, rec.Body.String())

		// The upload is removed once the job completes.
		uploads, err := s3.ListObjects(ctx, uploadBucket, submitted.JobId.String())
		require.NoError(t, err)
		assert.Empty(t, uploads)
	})

	t.Run("QueuedInvalidInput", func(t *testing.T) {
		var submitted api.SubmitJobResponse
		err := httpRequest(router, multipartRequest(t, "/jobs", "broken.conll", "Apple B-ORG\nbroken\n", map[string]string{
			"target_frequencies": `{"B-ORG": 1}`,
		}), &submitted)
		require.NoError(t, err)

		var job api.Job
		require.Eventually(t, func() bool {
			err := httpRequest(router, httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.JobId.String(), nil), &job)
			return err == nil && job.Status == database.JobFailed
		}, time.Minute, 200*time.Millisecond)

		assert.NotEmpty(t, job.Errors)
	})
}

func TestMigrationsPostgres(t *testing.T) {
	db := createDB(t)

	// Running the migrations again is a no-op.
	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, table := range []any{&database.BalanceJob{}, &database.BalanceJobTag{}, &database.JobError{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}
	assert.True(t, db.Migrator().HasColumn(&database.BalanceJob{}, "converged"))
}
