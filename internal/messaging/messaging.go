package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	BalanceQueue    = "balance_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type BalanceTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishBalanceTask(ctx context.Context, payload BalanceTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
