package queue

import (
	"context"
	"sync"
)

// MemoryQueue is the in-process fallback used when Redis is not
// configured, and the transport of choice in tests. Jobs do not survive a
// restart.
type MemoryQueue struct {
	mu   sync.Mutex
	chs  map[string]chan *Job
	idem map[string]bool
	dead []*Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		chs:  make(map[string]chan *Job),
		idem: make(map[string]bool),
	}
}

func (q *MemoryQueue) ch(jobType string) chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.chs[jobType]
	if !ok {
		c = make(chan *Job, 1024)
		q.chs[jobType] = c
	}
	return c
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.IdempotencyKey != "" {
		key := job.Type + ":" + job.IdempotencyKey
		q.mu.Lock()
		if q.idem[key] {
			q.mu.Unlock()
			return ErrDuplicate
		}
		q.idem[key] = true
		q.mu.Unlock()
	}

	select {
	case q.ch(job.Type) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Requeue(ctx context.Context, job *Job) error {
	select {
	case q.ch(job.Type) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, jobType string) (*Job, error) {
	select {
	case job := <-q.ch(jobType):
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job *Job, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	return nil
}

// DeadLetters exposes the dead-letter list for tests.
func (q *MemoryQueue) DeadLetters() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, len(q.dead))
	copy(out, q.dead)
	return out
}
