package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeSignal  = "signal"
	JobTypeMetrics = "metrics"
)

// Job is one unit of queued work. Key is the serialization key (always
// the bot id), so the pool can guarantee same-bot jobs never run
// concurrently. Delivery is at-least-once; handlers must be idempotent.
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Key            string          `json:"key"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Attempt        int             `json:"attempt"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

func NewJob(jobType, key string, payload any, idemKey string) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:             uuid.NewString(),
		Type:           jobType,
		Key:            key,
		Payload:        raw,
		IdempotencyKey: idemKey,
		EnqueuedAt:     time.Now().UTC(),
	}, nil
}

// Queue is the durable job transport. Enqueue drops a job whose
// idempotency key was already enqueued recently; Dequeue blocks until a
// job arrives or ctx is done.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context, jobType string) (*Job, error)
	Requeue(ctx context.Context, job *Job) error
	DeadLetter(ctx context.Context, job *Job, reason string) error
}

// ErrDuplicate is a sentinel for an enqueue suppressed by its
// idempotency key.
type duplicateError struct{}

func (duplicateError) Error() string { return "duplicate idempotency key" }

var ErrDuplicate error = duplicateError{}
