package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// --- Redis Engine ---

// redisQueue keeps the pending line in a Redis list and job records as
// JSON values. Job records expire a day after their last transition.
type redisQueue struct {
	client   *redis.Client
	maxItems int
}

const (
	redisPendingList = "queue:pending"
	redisJobPrefix   = "queue:job:"
	redisJobTTL      = 24 * time.Hour
)

func newRedisQueue(url string, maxItems int) (*redisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &redisQueue{client: client, maxItems: maxItems}, nil
}

func (q *redisQueue) saveJob(ctx context.Context, job *QueueJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.Set(ctx, redisJobPrefix+job.Hash, data, redisJobTTL).Err(); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (q *redisQueue) loadJob(ctx context.Context, hash string) (*QueueJob, error) {
	raw, err := q.client.Get(ctx, redisJobPrefix+hash).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	var job QueueJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (q *redisQueue) Push(ctx context.Context, action string, payload json.RawMessage) (string, int, error) {
	pending, err := q.client.LLen(ctx, redisPendingList).Result()
	if err != nil {
		return "", 0, fmt.Errorf("queue length: %w", err)
	}
	if q.maxItems > 0 && int(pending) >= q.maxItems {
		return "", 0, errQueueFull
	}

	now := time.Now().UTC().Format(time.RFC3339)
	job := &QueueJob{
		Hash:      randomToken(9),
		Action:    action,
		Payload:   payload,
		Status:    jobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.saveJob(ctx, job); err != nil {
		return "", 0, err
	}
	if err := q.client.RPush(ctx, redisPendingList, job.Hash).Err(); err != nil {
		return "", 0, fmt.Errorf("enqueue: %w", err)
	}
	return job.Hash, int(pending), nil
}

func (q *redisQueue) Status(ctx context.Context, hash string) (string, any, error) {
	job, err := q.loadJob(ctx, hash)
	if err != nil {
		return "", nil, err
	}
	if job == nil {
		return jobNotFound, nil, nil
	}
	return job.Status, job.Result, nil
}

func (q *redisQueue) Next(ctx context.Context) (*QueueJob, error) {
	hash, err := q.client.LPop(ctx, redisPendingList).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop job: %w", err)
	}
	job, err := q.loadJob(ctx, hash)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Record expired while queued; nothing to run.
		return nil, nil
	}
	job.Status = jobRunning
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *redisQueue) setTerminal(ctx context.Context, hash, status string, result any) error {
	job, err := q.loadJob(ctx, hash)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("unknown job %s", hash)
	}
	job.Status = status
	job.Result = result
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return q.saveJob(ctx, job)
}

func (q *redisQueue) Complete(ctx context.Context, hash string, result any) error {
	return q.setTerminal(ctx, hash, jobCompleted, result)
}

func (q *redisQueue) Fail(ctx context.Context, hash string, msg string) error {
	return q.setTerminal(ctx, hash, jobFailed, map[string]any{"error": msg})
}

func (q *redisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, redisPendingList).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
