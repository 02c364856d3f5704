package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWorkerCount is used when NewQueue is given no worker count.
const DefaultWorkerCount = 5

// Queue is an in-memory implementation of job publisher and consumer.
// Every job for one account is routed to the same worker channel, so a
// single process never runs two passes over one account at once.
// Suitable for single-instance deployments and tests.
type Queue struct {
	workers    []chan *jobs.RecalculateBalanceJob
	closeChan  chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	store      jobs.JobStore
	closed     bool
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewQueue creates a new in-memory job queue with workerCount workers.
// bufferSize determines how many jobs each worker holds before
// PublishRecalculate blocks.
func NewQueue(workerCount, bufferSize int, store jobs.JobStore, log zerolog.Logger) *Queue {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	workers := make([]chan *jobs.RecalculateBalanceJob, workerCount)
	for i := range workers {
		workers[i] = make(chan *jobs.RecalculateBalanceJob, bufferSize)
	}
	return &Queue{
		workers:    workers,
		closeChan:  make(chan struct{}),
		store:      store,
		retryDelay: time.Second,
		log:        log,
	}
}

// SetRetryDelay changes the linear backoff base (one second by default).
func (q *Queue) SetRetryDelay(d time.Duration) {
	q.retryDelay = d
}

// workerFor picks the worker channel owning the account.
func (q *Queue) workerFor(accountID string) chan *jobs.RecalculateBalanceJob {
	return q.workers[xxhash.Sum64String(accountID)%uint64(len(q.workers))]
}

// PublishRecalculate implements the Publisher interface.
func (q *Queue) PublishRecalculate(ctx context.Context, job *jobs.RecalculateBalanceJob) error {
	if job.AccountID == "" {
		return fmt.Errorf("PublishRecalculate: account ID is required")
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return fmt.Errorf("PublishRecalculate: queue is closed")
	}

	jobs.Prepare(job, uuid.NewString, time.Now())

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishRecalculate: saving job: %w", err)
		}
	}

	queued := *job
	select {
	case q.workerFor(job.AccountID) <- &queued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("PublishRecalculate: queue is closed")
	}
}

// Start implements the Consumer interface.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("Start: queue is closed")
	}

	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, q.workers[i], handler)
	}

	return nil
}

// worker processes jobs from one channel, one at a time.
func (q *Queue) worker(ctx context.Context, in <-chan *jobs.RecalculateBalanceJob, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-in:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job and schedules a retry on failure.
func (q *Queue) processJob(ctx context.Context, job *jobs.RecalculateBalanceJob, handler jobs.JobHandler) {
	log := q.log.With().Str("job_id", job.JobID).Str("account_id", job.AccountID).Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case jobs.IsPermanent(err) || job.RetryCount >= job.MaxRetries:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		log.Error().Err(err).Int("retry_count", job.RetryCount).Msg("job failed")
	default:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		backoff := job.Backoff(q.retryDelay)
		log.Warn().Err(err).Int("retry_count", job.RetryCount).Dur("backoff", backoff).Msg("job failed, retrying")

		q.save(ctx, job)

		retry := *job
		retry.Status = jobs.JobStatusPending
		retry.StartedAt = nil
		retry.CompletedAt = nil
		time.AfterFunc(backoff, func() {
			if err := q.PublishRecalculate(ctx, &retry); err != nil {
				log.Error().Err(err).Msg("failed to re-enqueue job")
			}
		})
		return
	}

	q.save(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.RecalculateBalanceJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
