package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	backend "ner-balancer/internal/api"
	"ner-balancer/internal/core"
	"ner-balancer/internal/database"
	"ner-balancer/internal/messaging"
	"ner-balancer/internal/storage"
	"ner-balancer/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	uploadBucket = "uploads"
	outputBucket = "outputs"
)

const scenarioConll = `-DOCSTART- -X- O O

Apple B-ORG
and O
Google B-ORG
are O
big O
tech O
firms O

IBM B-ORG

he O
ran O
home O

Sony B-ORG
Dell B-ORG
and O
Intel B-ORG
`

const balancedScenario = "-DOCSTART- -X- O O\n\nhe O\nran O\nhome O\n\nSony B-ORG\nDell B-ORG\nand O\nIntel B-ORG\n"

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type testBackend struct {
	db      *gorm.DB
	storage *storage.LocalProvider
	queue   *messaging.InMemoryQueue
	router  chi.Router
}

func setupBackend(t *testing.T) *testBackend {
	db := createDB(t)

	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	service := backend.NewBackendService(db, store, queue, backend.ServiceConfig{
		UploadBucket:   uploadBucket,
		OutputBucket:   outputBucket,
		MaxUploadBytes: 1024 * 1024,
	})
	router := chi.NewRouter()
	service.AddRoutes(router)

	return &testBackend{db: db, storage: store, queue: queue, router: router}
}

func multipartRequest(t *testing.T, target string, filename string, content string, fields map[string]string) *http.Request {
	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)

	if filename != "" {
		f, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}

	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (b *testBackend) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	b := setupBackend(t)

	rec := b.serve(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var res api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "healthy", res.Status)
}

func TestBalance(t *testing.T) {
	b := setupBackend(t)

	rec := b.serve(multipartRequest(t, "/balance", "train.conll", scenarioConll, map[string]string{
		"target_frequencies": `{"B-ORG": 3, "O": 3}`,
	}))
	require.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())

	var res api.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	assert.Equal(t, "File processed successfully", res.Message)
	assert.Equal(t, res.JobId.String()+"/balanced_train.conll", res.OutputFile)
	assert.Equal(t, map[string]api.TagFrequency{
		"B-ORG": {Count: 3, Target: 3, Diff: 0},
		"O":     {Count: 4, Target: 3, Diff: 1},
	}, res.TagFrequencies)
	assert.Equal(t, []string{"B-ORG: 3 (target: 3, diff: 0)", "O: 4 (target: 3, diff: 1)"}, res.FormattedFrequencies)
	assert.Equal(t, api.Summary{TotalSentences: 2, TotalTags: 7}, res.Summary)
	assert.Equal(t, 1, res.Badness)
	assert.True(t, res.Converged)

	output, err := b.storage.GetObject(context.Background(), outputBucket, res.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, balancedScenario, string(output))

	rec = b.serve(httptest.NewRequest(http.MethodGet, "/jobs/"+res.JobId.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job api.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.Equal(t, "train.conll", job.Name)
	assert.Equal(t, map[string]int{"B-ORG": 3, "O": 3}, job.Targets)
	assert.Equal(t, 4, job.TotalSentences)
	assert.Equal(t, 2, job.SelectedSentences)
}

func TestBalance_Options(t *testing.T) {
	b := setupBackend(t)

	rec := b.serve(multipartRequest(t, "/balance", "../../train.conll", scenarioConll, map[string]string{
		"target_frequencies": "B-ORG=3",
		"output_filename":    "small set.conll",
		"ignore_tags":        "O",
		"max_iterations":     "1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())

	var res api.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	assert.Equal(t, res.JobId.String()+"/small_set.conll", res.OutputFile)
	assert.Equal(t, map[string]api.TagFrequency{"B-ORG": {Count: 3, Target: 3, Diff: 0}}, res.TagFrequencies)
	assert.Equal(t, 1, res.Iterations)
}

func TestBalance_Errors(t *testing.T) {
	b := setupBackend(t)

	cases := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		code     int
	}{
		{"missing file", "", "", map[string]string{"target_frequencies": `{"B-ORG": 1}`}, http.StatusBadRequest},
		{"missing targets", "train.conll", scenarioConll, nil, http.StatusBadRequest},
		{"invalid json", "train.conll", scenarioConll, map[string]string{"target_frequencies": `{"B-ORG": `}, http.StatusBadRequest},
		{"negative target", "train.conll", scenarioConll, map[string]string{"target_frequencies": `{"B-ORG": -1}`}, http.StatusUnprocessableEntity},
		{"non numeric target", "train.conll", scenarioConll, map[string]string{"target_frequencies": `{"B-ORG": "x"}`}, http.StatusUnprocessableEntity},
		{"malformed conll", "train.conll", "Apple B-ORG\nbroken\n", map[string]string{"target_frequencies": `{"B-ORG": 1}`}, http.StatusBadRequest},
		{"empty strict", "train.conll", "\n", map[string]string{"target_frequencies": `{"B-ORG": 1}`, "strict": "true"}, http.StatusUnprocessableEntity},
		{"invalid form field", "train.conll", scenarioConll, map[string]string{"target_frequencies": `{"B-ORG": 1}`, "max_iterations": "many"}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := b.serve(multipartRequest(t, "/balance", tc.filename, tc.content, tc.fields))
			assert.Equal(t, tc.code, rec.Code, "recieved response: "+rec.Body.String())
		})
	}
}

func TestBalance_UploadTooLarge(t *testing.T) {
	b := setupBackend(t)

	large := bytes.Repeat([]byte("token O\n"), 200*1024)
	rec := b.serve(multipartRequest(t, "/balance", "train.conll", string(large), map[string]string{
		"target_frequencies": `{"O": 1}`,
	}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestJobWorkflow(t *testing.T) {
	b := setupBackend(t)

	rec := b.serve(multipartRequest(t, "/jobs", "train.conll", scenarioConll, map[string]string{
		"target_frequencies": `{"B-ORG": 3, "O": 3}`,
	}))
	require.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())

	var submitted api.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	jobUrl := "/jobs/" + submitted.JobId.String()

	t.Run("OutputNotReady", func(t *testing.T) {
		rec := b.serve(httptest.NewRequest(http.MethodGet, jobUrl+"/output", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("ListQueued", func(t *testing.T) {
		rec := b.serve(httptest.NewRequest(http.MethodGet, "/jobs?status=QUEUED", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var jobs []api.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		require.Len(t, jobs, 1)
		assert.Equal(t, submitted.JobId, jobs[0].Id)
	})

	worker := core.NewTaskProcessor(b.db, b.storage, b.queue, b.queue, uploadBucket, outputBucket)
	worker.ProcessTask(<-b.queue.Tasks())

	t.Run("GetCompletedJob", func(t *testing.T) {
		rec := b.serve(httptest.NewRequest(http.MethodGet, jobUrl, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var job api.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, database.JobCompleted, job.Status)
		assert.Equal(t, 1, job.Badness)
		assert.Equal(t, map[string]api.TagFrequency{
			"B-ORG": {Count: 3, Target: 3, Diff: 0},
			"O":     {Count: 4, Target: 3, Diff: 1},
		}, job.TagFrequencies)
		assert.NotNil(t, job.CompletionTime)
	})

	t.Run("DownloadOutput", func(t *testing.T) {
		rec := b.serve(httptest.NewRequest(http.MethodGet, jobUrl+"/output", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, balancedScenario, rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "balanced_train.conll")
	})

	t.Run("DeleteJob", func(t *testing.T) {
		rec := b.serve(httptest.NewRequest(http.MethodDelete, jobUrl, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = b.serve(httptest.NewRequest(http.MethodGet, jobUrl, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		objects, err := b.storage.ListObjects(context.Background(), outputBucket, submitted.JobId.String())
		require.NoError(t, err)
		assert.Empty(t, objects)
	})
}

func TestJobWorkflow_FirstTagColumn(t *testing.T) {
	b := setupBackend(t)

	// Tags in the first column, words in the last.
	input := "B-ORG Apple\nO and\nB-ORG Google\nO are\nO big\nO tech\nO firms\n\nB-ORG IBM\n\n" +
		"O he\nO ran\nO home\n\nB-ORG Sony\nB-ORG Dell\nO and\nB-ORG Intel\n"

	rec := b.serve(multipartRequest(t, "/jobs", "train.conll", input, map[string]string{
		"target_frequencies": `{"B-ORG": 3, "O": 3}`,
		"tag_column":         "0",
	}))
	require.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())

	var submitted api.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	worker := core.NewTaskProcessor(b.db, b.storage, b.queue, b.queue, uploadBucket, outputBucket)
	worker.ProcessTask(<-b.queue.Tasks())

	rec = b.serve(httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.JobId.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job api.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.Equal(t, 0, job.TagColumn)
	assert.Equal(t, map[string]api.TagFrequency{
		"B-ORG": {Count: 3, Target: 3, Diff: 0},
		"O":     {Count: 4, Target: 3, Diff: 1},
	}, job.TagFrequencies)

	rec = b.serve(httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.JobId.String()+"/output", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "O he\nO ran\nO home\n\nB-ORG Sony\nB-ORG Dell\nO and\nB-ORG Intel\n", rec.Body.String())
}

func TestStoredObjectsRemovedWhenJobCreateFails(t *testing.T) {
	for _, tc := range []struct {
		endpoint string
		bucket   string
	}{
		{"/balance", outputBucket},
		{"/jobs", uploadBucket},
	} {
		t.Run(tc.endpoint, func(t *testing.T) {
			b := setupBackend(t)
			require.NoError(t, b.db.Migrator().DropTable(&database.BalanceJob{}))

			rec := b.serve(multipartRequest(t, tc.endpoint, "train.conll", scenarioConll, map[string]string{
				"target_frequencies": `{"B-ORG": 3, "O": 3}`,
			}))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			objects, err := b.storage.ListObjects(context.Background(), tc.bucket, "")
			require.NoError(t, err)
			assert.Empty(t, objects)
		})
	}
}

func TestListJobs_InvalidParams(t *testing.T) {
	b := setupBackend(t)

	rec := b.serve(httptest.NewRequest(http.MethodGet, "/jobs?status=DONE", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.serve(httptest.NewRequest(http.MethodGet, "/jobs?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.serve(httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetJob_NotFound(t *testing.T) {
	b := setupBackend(t)

	rec := b.serve(httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.serve(httptest.NewRequest(http.MethodGet, "/jobs/6f1c0e8e-0b9f-4a34-9a47-0e0c5b1d2f11", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	b := setupBackend(t)

	rec := b.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
