package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/networth-tracker/internal/jobs"
)

// Store keeps job records in memory, newest first for listing. It is safe
// for concurrent use. Data is lost on restart.
//
// When a retention limit is set, saving past it evicts the oldest finished
// jobs. Pending, running and retrying jobs are never evicted.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*jobs.RecalculateBalanceJob
	retention int
}

// NewStore creates a job store without a retention limit.
func NewStore() *Store {
	return NewStoreWithRetention(0)
}

// NewStoreWithRetention creates a job store holding at most retention
// finished jobs. retention <= 0 keeps everything.
func NewStoreWithRetention(retention int) *Store {
	return &Store{
		byID:      make(map[string]*jobs.RecalculateBalanceJob),
		retention: retention,
	}
}

func finished(s jobs.JobStatus) bool {
	return s == jobs.JobStatusCompleted || s == jobs.JobStatusFailed
}

// SaveJob implements jobs.JobStore.
func (s *Store) SaveJob(ctx context.Context, job *jobs.RecalculateBalanceJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *job
	s.byID[job.JobID] = &stored
	s.evict()

	return nil
}

// evict drops the oldest finished jobs above the retention limit.
// Callers hold s.mu.
func (s *Store) evict() {
	if s.retention <= 0 || len(s.byID) <= s.retention {
		return
	}

	var done []*jobs.RecalculateBalanceJob
	for _, j := range s.byID {
		if finished(j.Status) {
			done = append(done, j)
		}
	}
	sortNewestFirst(done)

	excess := len(s.byID) - s.retention
	for i := len(done) - 1; i >= 0 && excess > 0; i-- {
		delete(s.byID, done[i].JobID)
		excess--
	}
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.RecalculateBalanceJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.byID[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %s: %w", jobID, jobs.ErrJobNotFound)
	}

	out := *job
	return &out, nil
}

// ListJobs implements jobs.JobStore.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.RecalculateBalanceJob, error) {
	s.mu.RLock()
	matched := make([]*jobs.RecalculateBalanceJob, 0, len(s.byID))
	for _, job := range s.byID {
		if filter.AccountID != "" && job.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out := *job
		matched = append(matched, &out)
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)

	if filter.Offset >= len(matched) {
		return []*jobs.RecalculateBalanceJob{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdateJobStatus implements jobs.JobStore. An empty errorMsg leaves the
// recorded error as is.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[jobID]
	if !ok {
		return fmt.Errorf("UpdateJobStatus: %s: %w", jobID, jobs.ErrJobNotFound)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	s.evict()

	return nil
}

func sortNewestFirst(list []*jobs.RecalculateBalanceJob) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].JobID < list[j].JobID
	})
}

var _ jobs.JobStore = (*Store)(nil)
