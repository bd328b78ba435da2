package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/polypilot/internal/pkg/apperrors"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/pkg/metrics"
)

// HandlerFunc processes one job. Returning a non-retryable error (see
// apperrors.IsRetryable) drops the job; a retryable error re-delivers it
// with exponential backoff until MaxAttempts.
type HandlerFunc func(ctx context.Context, job *Job) error

type registration struct {
	fn          HandlerFunc
	concurrency int
}

// Pool consumes jobs with bounded concurrency per job type. Different
// bots run in parallel; jobs sharing a Key (= bot id) are serialized by a
// keyed mutex held for the whole handler call, so two signals for the same
// bot can never race past the risk gate together. A single global lock
// would kill cross-bot parallelism, hence the per-key map.
type Pool struct {
	q           Queue
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	mu       sync.Mutex
	handlers map[string]registration
	keyLocks map[string]*sync.Mutex
}

func NewPool(q Queue, maxAttempts int, backoffBase, backoffMax time.Duration) *Pool {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	if backoffMax <= 0 {
		backoffMax = 30 * time.Second
	}
	return &Pool{
		q:           q,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		handlers:    make(map[string]registration),
		keyLocks:    make(map[string]*sync.Mutex),
	}
}

func (p *Pool) Register(jobType string, concurrency int, fn HandlerFunc) {
	if concurrency <= 0 {
		concurrency = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = registration{fn: fn, concurrency: concurrency}
}

// Run blocks until ctx is done and all in-flight handlers return.
func (p *Pool) Run(ctx context.Context) {
	log := logger.Component("worker")

	p.mu.Lock()
	regs := make(map[string]registration, len(p.handlers))
	for t, r := range p.handlers {
		regs[t] = r
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for jobType, reg := range regs {
		for i := 0; i < reg.concurrency; i++ {
			wg.Add(1)
			go func(jobType string, fn HandlerFunc) {
				defer wg.Done()
				p.consume(ctx, jobType, fn)
			}(jobType, reg.fn)
		}
	}
	log.Info("worker pool started", "job_types", len(regs))
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, jobType string, fn HandlerFunc) {
	log := logger.Component("worker").With("job_type", jobType)

	for {
		job, err := p.q.Dequeue(ctx, jobType)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.process(ctx, job, fn, log)
	}
}

func (p *Pool) process(ctx context.Context, job *Job, fn HandlerFunc, log *slog.Logger) {
	unlock := p.lockKey(job.Key)
	err := fn(ctx, job)
	unlock()

	if err == nil {
		return
	}

	if !apperrors.IsRetryable(err) {
		log.Warn("job failed terminally", "job_id", job.ID, "key", job.Key, "error", err)
		_ = p.q.DeadLetter(ctx, job, err.Error())
		return
	}

	job.Attempt++
	if job.Attempt >= p.maxAttempts {
		log.Error("job exhausted retries", "job_id", job.ID, "key", job.Key, "attempts", job.Attempt, "error", err)
		_ = p.q.DeadLetter(ctx, job, err.Error())
		return
	}

	metrics.JobRetries.WithLabelValues(job.Type).Inc()
	delay := p.backoff(job.Attempt)
	log.Warn("job retrying", "job_id", job.ID, "key", job.Key, "attempt", job.Attempt, "backoff", delay, "error", err)

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	if err := p.q.Requeue(ctx, job); err != nil {
		log.Error("requeue failed", "job_id", job.ID, "error", err)
	}
}

// lockKey acquires the per-key mutex. The map only grows with the number
// of bots the worker has ever seen, which is bounded and small.
func (p *Pool) lockKey(key string) func() {
	if key == "" {
		return func() {}
	}
	p.mu.Lock()
	m, ok := p.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		p.keyLocks[key] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (p *Pool) backoff(attempt int) time.Duration {
	d := p.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.backoffMax {
			return p.backoffMax
		}
	}
	if d > p.backoffMax {
		return p.backoffMax
	}
	return d
}
