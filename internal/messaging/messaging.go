package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	BatchQueue      = "batch_queue"
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

// BatchTaskPayload tells a worker which persisted batch to process. The
// batch row carries everything else: source location, override, counters.
type BatchTaskPayload struct {
	BatchId uuid.UUID
}

type Publisher interface {
	PublishBatchTask(ctx context.Context, payload BatchTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
