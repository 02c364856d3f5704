package jobs

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxRetries is applied to jobs published without an explicit limit.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by JobStore lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRecalculateBalance recomputes the running balance of one account.
	JobTypeRecalculateBalance JobType = "recalculate_balance"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// RecalculateBalanceJob asks a worker to recompute an account's running balances.
type RecalculateBalanceJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// AccountID is the account whose ledger is recomputed. It is also the
	// routing key, so jobs for one account are handled in order.
	AccountID string `json:"account_id"`

	// Reason records what triggered the job (sync, api, cli).
	Reason string `json:"reason,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// ProcessedTransactions is filled in on completion.
	ProcessedTransactions int `json:"processed_transactions"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *RecalculateBalanceJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *RecalculateBalanceJob) GetType() JobType {
	return JobTypeRecalculateBalance
}

// GetStatus implements the Job interface.
func (j *RecalculateBalanceJob) GetStatus() JobStatus {
	return j.Status
}

// Backoff is the linear delay before the next attempt of a job that has
// failed RetryCount times.
func (j *RecalculateBalanceJob) Backoff(base time.Duration) time.Duration {
	return time.Duration(j.RetryCount) * base
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishRecalculate publishes a running balance recalculation job.
	PublishRecalculate(ctx context.Context, job *RecalculateBalanceJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *RecalculateBalanceJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*RecalculateBalanceJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*RecalculateBalanceJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// AccountID filters jobs by account ID.
	AccountID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Prepare fills in defaults on a job about to be published.
func Prepare(job *RecalculateBalanceJob, newID func() string, now time.Time) {
	if job.JobID == "" {
		job.JobID = newID()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}
}
