package core

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"ner-balancer/internal/database"
	"ner-balancer/internal/messaging"
	"ner-balancer/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	uploadBucket = "uploads"
	outputBucket = "outputs"
)

type recordingTask struct {
	queue    string
	payload  []byte
	acked    bool
	nacked   bool
	rejected bool
}

func (t *recordingTask) Type() string    { return t.queue }
func (t *recordingTask) Payload() []byte { return t.payload }
func (t *recordingTask) Ack() error      { t.acked = true; return nil }
func (t *recordingTask) Nack() error     { t.nacked = true; return nil }
func (t *recordingTask) Reject() error   { t.rejected = true; return nil }

func balanceTask(t *testing.T, jobId uuid.UUID) *recordingTask {
	payload, err := json.Marshal(messaging.BalanceTaskPayload{JobId: jobId})
	require.NoError(t, err)
	return &recordingTask{queue: messaging.BalanceQueue, payload: payload}
}

func setupProcessor(t *testing.T) (*TaskProcessor, *gorm.DB, storage.Provider) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	// Every connection to file::memory: is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	return NewTaskProcessor(db, store, queue, queue, uploadBucket, outputBucket), db, store
}

func createJob(t *testing.T, db *gorm.DB, store storage.Provider, input string, targets string) database.BalanceJob {
	jobId := uuid.New()
	job := database.BalanceJob{
		Id:           jobId,
		Name:         "train.conll",
		Status:       database.JobQueued,
		InputKey:     jobId.String() + "/train.conll",
		OutputKey:    jobId.String() + "/balanced_train.conll",
		Targets:      datatypes.JSON(targets),
		TagColumn:    -1,
		CreationTime: time.Now(),
	}
	require.NoError(t, db.Create(&job).Error)
	require.NoError(t, store.PutObject(context.Background(), uploadBucket, job.InputKey, bytes.NewReader([]byte(input))))
	return job
}

func TestProcessBalanceTask(t *testing.T) {
	proc, db, store := setupProcessor(t)
	job := createJob(t, db, store, scenarioConll, `{"B-ORG": 3, "O": 3}`)

	task := balanceTask(t, job.Id)
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	stored, err := database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, stored.Status)
	assert.Equal(t, 4, stored.TotalSentences)
	assert.Equal(t, 2, stored.SelectedSentences)
	assert.Equal(t, 7, stored.TotalTags)
	assert.Equal(t, 1, stored.Badness)
	assert.True(t, stored.Converged)
	assert.Equal(t, []database.BalanceJobTag{
		{JobId: job.Id, Tag: "B-ORG", Count: 3, Target: 3, Diff: 0},
		{JobId: job.Id, Tag: "O", Count: 4, Target: 3, Diff: 1},
	}, stored.Tags)

	output, err := store.GetObject(context.Background(), outputBucket, job.OutputKey)
	require.NoError(t, err)
	assert.Equal(t, "-DOCSTART- -X- O O\n\nhe O\nran O\nhome O\n\nSony B-ORG\nDell B-ORG\nand O\nIntel B-ORG\n", string(output))

	_, err = store.GetObject(context.Background(), uploadBucket, job.InputKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	// Redelivery of a completed job is a no-op.
	task = balanceTask(t, job.Id)
	proc.ProcessTask(task)
	assert.True(t, task.acked)
}

func TestProcessBalanceTask_InvalidInput(t *testing.T) {
	proc, db, store := setupProcessor(t)
	job := createJob(t, db, store, "Apple B-ORG\nbroken\n", `{"B-ORG": 1}`)

	task := balanceTask(t, job.Id)
	proc.ProcessTask(task)
	assert.True(t, task.acked)
	assert.False(t, task.nacked)

	stored, err := database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, stored.Status)
	require.Len(t, stored.Errors, 1)
	assert.Contains(t, stored.Errors[0].Error, "line 2")
}

func TestProcessBalanceTask_MissingUpload(t *testing.T) {
	proc, db, store := setupProcessor(t)
	job := createJob(t, db, store, scenarioConll, `{"B-ORG": 3}`)
	require.NoError(t, store.DeleteObject(context.Background(), uploadBucket, job.InputKey))

	task := balanceTask(t, job.Id)
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	stored, err := database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, stored.Status)
}

func TestProcessTask_Malformed(t *testing.T) {
	proc, _, _ := setupProcessor(t)

	task := &recordingTask{queue: messaging.BalanceQueue, payload: []byte("not json")}
	proc.ProcessTask(task)
	assert.True(t, task.rejected)

	task = &recordingTask{queue: "unknown_queue", payload: []byte("{}")}
	proc.ProcessTask(task)
	assert.True(t, task.rejected)

	// Jobs deleted before their task runs are skipped.
	task = balanceTask(t, uuid.New())
	proc.ProcessTask(task)
	assert.True(t, task.acked)
}

func TestRequeuePendingJobs(t *testing.T) {
	_, db, store := setupProcessor(t)
	queued := createJob(t, db, store, scenarioConll, `{"B-ORG": 3}`)
	done := createJob(t, db, store, scenarioConll, `{"B-ORG": 3}`)
	require.NoError(t, database.UpdateJobStatus(context.Background(), db, done.Id, database.JobCompleted))

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	n, err := RequeuePendingJobs(context.Background(), db, queue)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task := <-queue.Tasks()
	var payload messaging.BalanceTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, queued.Id, payload.JobId)
}

func TestTaskProcessorStartStop(t *testing.T) {
	proc, db, store := setupProcessor(t)
	job := createJob(t, db, store, scenarioConll, `{"B-ORG": 3, "O": 3}`)

	require.NoError(t, proc.publisher.PublishBalanceTask(context.Background(), messaging.BalanceTaskPayload{JobId: job.Id}))

	done := make(chan struct{})
	go func() {
		proc.Start(2)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		var stored database.BalanceJob
		if err := db.First(&stored, "id = ?", job.Id).Error; err != nil {
			return false
		}
		return stored.Status == database.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	proc.Stop()
	<-done
}

func TestProcessBalanceTask_DuplicateInFlight(t *testing.T) {
	proc, db, store := setupProcessor(t)
	job := createJob(t, db, store, scenarioConll, `{"B-ORG": 3, "O": 3}`)

	require.True(t, proc.claimJob(job.Id))

	task := balanceTask(t, job.Id)
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	stored, err := database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobQueued, stored.Status)

	proc.releaseJob(job.Id)

	task = balanceTask(t, job.Id)
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	stored, err = database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, stored.Status)
}
