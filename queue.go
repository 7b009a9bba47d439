package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// --- Job States ---

// A job is in exactly one of these states; transitions are owned by the
// queue engine's worker, never by the HTTP facade.
const (
	jobQueued    = "queued"
	jobRunning   = "running"
	jobCompleted = "completed"
	jobFailed    = "failed"
	jobNotFound  = "not_found"
)

// QueueJob is one unit of deferred work, identified by an opaque hash.
type QueueJob struct {
	Hash      string          `json:"hash"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Status    string          `json:"status"`
	Result    any             `json:"result,omitempty"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

// --- Queue Engine ---

// QueueEngine orders and tracks jobs. Push returns the job hash and its
// position among waiting jobs; Status never fails on unknown hashes, it
// reports the defined "not_found" state instead.
type QueueEngine interface {
	Push(ctx context.Context, action string, payload json.RawMessage) (hash string, position int, err error)
	Status(ctx context.Context, hash string) (status string, result any, err error)

	// Worker side.
	Next(ctx context.Context) (*QueueJob, error) // oldest queued -> running; nil when empty
	Complete(ctx context.Context, hash string, result any) error
	Fail(ctx context.Context, hash string, msg string) error

	Depth(ctx context.Context) (int, error)
	Close() error
}

var errQueueFull = fmt.Errorf("queue is full")

// --- Memory Engine ---

// memoryQueue is the default engine: a FIFO held in process memory.
type memoryQueue struct {
	mu       sync.Mutex
	jobs     map[string]*QueueJob
	order    []string // hashes in arrival order
	maxItems int
}

func newMemoryQueue(maxItems int) *memoryQueue {
	return &memoryQueue{
		jobs:     make(map[string]*QueueJob),
		maxItems: maxItems,
	}
}

func (q *memoryQueue) Push(_ context.Context, action string, payload json.RawMessage) (string, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	waiting := 0
	for _, h := range q.order {
		if st := q.jobs[h].Status; st == jobQueued || st == jobRunning {
			waiting++
		}
	}
	if q.maxItems > 0 && waiting >= q.maxItems {
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
	q.jobs[job.Hash] = job
	q.order = append(q.order, job.Hash)
	return job.Hash, waiting, nil
}

func (q *memoryQueue) Status(_ context.Context, hash string) (string, any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[hash]
	if !ok {
		return jobNotFound, nil, nil
	}
	return job.Status, job.Result, nil
}

func (q *memoryQueue) Next(_ context.Context) (*QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range q.order {
		job := q.jobs[h]
		if job.Status == jobQueued {
			job.Status = jobRunning
			job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (q *memoryQueue) setTerminal(hash, status string, result any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[hash]
	if !ok {
		return fmt.Errorf("unknown job %s", hash)
	}
	job.Status = status
	job.Result = result
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return nil
}

func (q *memoryQueue) Complete(_ context.Context, hash string, result any) error {
	return q.setTerminal(hash, jobCompleted, result)
}

func (q *memoryQueue) Fail(_ context.Context, hash string, msg string) error {
	return q.setTerminal(hash, jobFailed, map[string]any{"error": msg})
}

func (q *memoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, job := range q.jobs {
		if job.Status == jobQueued || job.Status == jobRunning {
			n++
		}
	}
	return n, nil
}

func (q *memoryQueue) Close() error { return nil }

// --- Queue Worker ---

// queueWorker drains the engine, running one job at a time through the
// dispatcher. A failed job records its error and never blocks the queue.
type queueWorker struct {
	engine QueueEngine
	disp   *dispatcher
	poll   time.Duration
}

func newQueueWorker(engine QueueEngine, disp *dispatcher) *queueWorker {
	return &queueWorker{engine: engine, disp: disp, poll: 500 * time.Millisecond}
}

// run polls for work until the context is cancelled.
func (w *queueWorker) run(ctx context.Context) {
	logInfo("queue worker started")
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
			if depth, err := w.engine.Depth(ctx); err == nil && metrics != nil {
				metrics.GaugeSet("vitrine_queue_depth", float64(depth))
			}
		}
	}
}

// drain processes queued jobs until the queue is empty.
func (w *queueWorker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.engine.Next(ctx)
		if err != nil {
			logError("queue next failed", "error", err)
			return
		}
		if job == nil {
			return
		}
		w.process(ctx, job)
	}
}

func (w *queueWorker) process(ctx context.Context, job *QueueJob) {
	ctx, span := tracer.Start(ctx, "queue.process")
	defer span.End()

	if job.Action != "predict" {
		w.fail(ctx, job, fmt.Sprintf("unsupported action %q", job.Action))
		return
	}

	var req PredictRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		w.fail(ctx, job, "invalid payload: "+err.Error())
		return
	}

	logInfoCtx(ctx, "queue job running", "hash", job.Hash, "fnIndex", req.FnIndex)
	resp, err := w.disp.predict(ctx, req, "")
	if err != nil {
		span.RecordError(err)
		w.fail(ctx, job, err.Error())
		return
	}
	if err := w.engine.Complete(ctx, job.Hash, resp); err != nil {
		logError("queue complete failed", "hash", job.Hash, "error", err)
		return
	}
	recordQueueJobMetric(jobCompleted)
	logInfoCtx(ctx, "queue job completed", "hash", job.Hash)
}

func (w *queueWorker) fail(ctx context.Context, job *QueueJob, msg string) {
	logWarnCtx(ctx, "queue job failed", "hash", job.Hash, "error", msg)
	if err := w.engine.Fail(ctx, job.Hash, msg); err != nil {
		logError("queue fail-mark failed", "hash", job.Hash, "error", err)
	}
	recordQueueJobMetric(jobFailed)
}
