// Package queue implements a Redis-backed job queue with retry and
// exponential backoff. Jobs are JSON payloads enqueued by queue name; a
// worker pool pulls jobs and dispatches them to registered handlers. A
// failed job is retried up to its attempt cap with doubling delays, then
// handed to the queue's failure hook.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vaultx-queue")

// Logical queue names used by the processing pipeline.
const (
	UploadQueue        = "upload-queue"
	CompressionQueue   = "compression-queue"
	DeduplicationQueue = "deduplication-queue"
	ReplicationQueue   = "replication-queue"
)

// Options is the retry policy for a job.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Job is the wire envelope stored in Redis.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Handler processes one job payload. Returning an error schedules a retry
// unless the error is marked Unrecoverable or attempts are exhausted.
type Handler func(ctx context.Context, payload json.RawMessage) error

// FailureHook is invoked once a job is permanently failed.
type FailureHook func(ctx context.Context, job *Job, err error)

type registration struct {
	handler Handler
	failure FailureHook
}

// Queue is the shared job queue. One instance serves every logical queue.
type Queue struct {
	client      *redis.Client
	defaults    Options
	concurrency int

	mu            sync.Mutex
	registrations map[string]registration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a queue on an existing Redis connection.
func New(client *redis.Client, concurrency int, defaults Options) *Queue {
	if defaults.MaxAttempts <= 0 {
		defaults.MaxAttempts = 3
	}
	if defaults.Backoff <= 0 {
		defaults.Backoff = 5 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Queue{
		client:        client,
		defaults:      defaults,
		concurrency:   concurrency,
		registrations: make(map[string]registration),
	}
}

// Handle registers the handler and failure hook for a queue name. Must be
// called before Start.
func (q *Queue) Handle(name string, handler Handler, failure FailureHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registrations[name] = registration{handler: handler, failure: failure}
}

// Enqueue serializes payload and pushes it onto the named queue with the
// queue's default retry policy.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) error {
	return q.EnqueueWithOptions(ctx, name, payload, q.defaults)
}

// EnqueueWithOptions serializes payload and pushes it with an explicit
// retry policy.
func (q *Queue) EnqueueWithOptions(ctx context.Context, name string, payload any, opts Options) error {
	ctx, span := tracer.Start(ctx, "queue.enqueue",
		trace.WithAttributes(attribute.String("queue", name)),
	)
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.defaults.MaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = q.defaults.Backoff
	}

	job := &Job{
		ID:          uuid.New().String(),
		Queue:       name,
		Payload:     body,
		Attempt:     0,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		EnqueuedAt:  time.Now().UTC(),
	}

	envelope, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	if err := q.client.LPush(ctx, readyKey(name), envelope).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	span.SetAttributes(attribute.String("job_id", job.ID))
	return nil
}

// Start launches the worker pool: per registered queue, one goroutine that
// promotes due delayed jobs plus the configured number of consumers.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.mu.Lock()
	names := make([]string, 0, len(q.registrations))
	for name := range q.registrations {
		names = append(names, name)
	}
	q.mu.Unlock()

	for _, name := range names {
		q.wg.Add(1)
		go func(name string) {
			defer q.wg.Done()
			q.promoteLoop(ctx, name)
		}(name)

		for i := 0; i < q.concurrency; i++ {
			q.wg.Add(1)
			go func(name string) {
				defer q.wg.Done()
				q.consumeLoop(ctx, name)
			}(name)
		}
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) consumeLoop(ctx context.Context, name string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := q.client.BRPop(ctx, time.Second, readyKey(name)).Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("queue %s: pop failed: %v", name, err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("queue %s: dropping malformed job: %v", name, err)
			continue
		}

		q.runJob(ctx, name, &job)
	}
}

func (q *Queue) runJob(ctx context.Context, name string, job *Job) {
	ctx, span := tracer.Start(ctx, "queue.run_job",
		trace.WithAttributes(
			attribute.String("queue", name),
			attribute.String("job_id", job.ID),
			attribute.Int("attempt", job.Attempt+1),
		),
	)
	defer span.End()

	q.mu.Lock()
	reg, ok := q.registrations[name]
	q.mu.Unlock()
	if !ok {
		log.Printf("queue %s: no handler registered, dropping job %s", name, job.ID)
		return
	}

	job.Attempt++
	err := reg.handler(ctx, job.Payload)
	if err == nil {
		return
	}
	span.RecordError(err)

	if IsUnrecoverable(err) || job.Attempt >= job.MaxAttempts {
		log.Printf("queue %s: job %s permanently failed after %d attempt(s): %v",
			name, job.ID, job.Attempt, err)
		span.SetAttributes(attribute.Bool("exhausted", true))
		if reg.failure != nil {
			reg.failure(ctx, job, err)
		}
		return
	}

	delay := RetryDelay(job.Backoff, job.Attempt)
	log.Printf("queue %s: job %s attempt %d failed, retrying in %s: %v",
		name, job.ID, job.Attempt, delay, err)
	if err := q.schedule(ctx, job, delay); err != nil {
		log.Printf("queue %s: failed to schedule retry for job %s: %v", name, job.ID, err)
	}
}

func (q *Queue) schedule(ctx context.Context, job *Job, delay time.Duration) error {
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	return q.client.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: readyAt, Member: envelope}).Err()
}

// promoteLoop moves due delayed jobs back onto the ready list.
func (q *Queue) promoteLoop(ctx context.Context, name string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := fmt.Sprintf("%d", time.Now().UnixMilli())
			members, err := q.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{
				Min: "-inf", Max: now, Count: 100,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("queue %s: promote scan failed: %v", name, err)
				}
				continue
			}
			for _, member := range members {
				// ZRem returning 0 means another worker already
				// promoted this job.
				removed, err := q.client.ZRem(ctx, delayedKey(name), member).Result()
				if err != nil || removed == 0 {
					continue
				}
				if err := q.client.LPush(ctx, readyKey(name), member).Err(); err != nil {
					log.Printf("queue %s: failed to promote job: %v", name, err)
				}
			}
		}
	}
}

// RetryDelay computes the backoff before the next attempt: the initial
// delay doubles after every failed attempt.
func RetryDelay(backoff time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return backoff << (attempt - 1)
}

func readyKey(name string) string {
	return fmt.Sprintf("vaultx:queue:%s", name)
}

func delayedKey(name string) string {
	return fmt.Sprintf("vaultx:queue:%s:delayed", name)
}

type unrecoverableError struct {
	err error
}

func (u *unrecoverableError) Error() string { return u.err.Error() }
func (u *unrecoverableError) Unwrap() error { return u.err }

// Unrecoverable marks an error as terminal: the job is failed immediately
// instead of being retried.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err was marked with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}
