package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	queue := NewInMemoryQueue()

	jobId := uuid.New()
	require.NoError(t, queue.PublishBalanceTask(context.Background(), BalanceTaskPayload{JobId: jobId}))

	task := <-queue.Tasks()
	assert.Equal(t, BalanceQueue, task.Type())

	var payload BalanceTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, jobId, payload.JobId)
	assert.NoError(t, task.Ack())

	queue.Close()
	queue.Close()

	_, ok := <-queue.Tasks()
	assert.False(t, ok)

	err := queue.PublishBalanceTask(context.Background(), BalanceTaskPayload{JobId: jobId})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestInMemoryQueue_PublishRespectsContext(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	for i := 0; i < cap(queue.tasks); i++ {
		require.NoError(t, queue.PublishBalanceTask(context.Background(), BalanceTaskPayload{JobId: uuid.New()}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := queue.PublishBalanceTask(ctx, BalanceTaskPayload{JobId: uuid.New()})
	assert.ErrorIs(t, err, context.Canceled)
}
