package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is the durable queue: one Redis list per job type, BRPOP
// consumers, a SETNX-guarded idempotency window and a dead-letter list.
type RedisQueue struct {
	client  *redis.Client
	prefix  string
	idemTTL time.Duration
}

func NewRedisQueue(cfg *config.Config) (*RedisQueue, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.Redis.IdemTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisQueue{
		client:  rdb,
		prefix:  cfg.Redis.QueuePrefix,
		idemTTL: ttl,
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.IdempotencyKey != "" {
		key := fmt.Sprintf("%s:idem:%s:%s", q.prefix, job.Type, job.IdempotencyKey)
		ok, err := q.client.SetNX(ctx, key, job.ID, q.idemTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrDuplicate
		}
	}
	return q.push(ctx, job)
}

// Requeue re-delivers a job after a transient failure without re-running
// the idempotency guard (the key is already held by this job).
func (q *RedisQueue) Requeue(ctx context.Context, job *Job) error {
	return q.push(ctx, job)
}

func (q *RedisQueue) push(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.listKey(job.Type), raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, jobType string) (*Job, error) {
	for {
		res, err := q.client.BRPop(ctx, time.Second, q.listKey(jobType)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, err
		}
		// BRPOP returns [key, value]
		if len(res) < 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return nil, fmt.Errorf("corrupt job payload: %w", err)
		}
		return &job, nil
	}
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job, reason string) error {
	envelope := struct {
		*Job
		Reason   string    `json:"reason"`
		FailedAt time.Time `json:"failed_at"`
	}{job, reason, time.Now().UTC()}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.prefix+":dead", raw).Err()
}

func (q *RedisQueue) listKey(jobType string) string {
	return q.prefix + ":" + jobType
}
