package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ner-balancer/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveTask(t *testing.T, receiver messaging.Reciever) messaging.Task {
	select {
	case task := <-receiver.Tasks():
		return task
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for task")
		return nil
	}
}

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	publisher, receiver := setupRabbitMQ(t, ctx)

	t.Run("Publish and Receive BalanceTask", func(t *testing.T) {
		payload := messaging.BalanceTaskPayload{JobId: uuid.New()}
		require.NoError(t, publisher.PublishBalanceTask(ctx, payload))

		task := receiveTask(t, receiver)
		assert.Equal(t, messaging.BalanceQueue, task.Type())

		var receivedPayload messaging.BalanceTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &receivedPayload))
		assert.Equal(t, payload, receivedPayload)

		require.NoError(t, task.Ack())
	})

	t.Run("Nack Redelivers Once", func(t *testing.T) {
		payload := messaging.BalanceTaskPayload{JobId: uuid.New()}
		require.NoError(t, publisher.PublishBalanceTask(ctx, payload))

		task := receiveTask(t, receiver)
		require.NoError(t, task.Nack())

		redelivered := receiveTask(t, receiver)
		var receivedPayload messaging.BalanceTaskPayload
		require.NoError(t, json.Unmarshal(redelivered.Payload(), &receivedPayload))
		assert.Equal(t, payload, receivedPayload)

		// A redelivered task is dropped on the second Nack.
		require.NoError(t, redelivered.Nack())

		select {
		case task := <-receiver.Tasks():
			t.Fatalf("unexpected task after second nack: %s", task.Payload())
		case <-time.After(2 * time.Second):
		}
	})
}
