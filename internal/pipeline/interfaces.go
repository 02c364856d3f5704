package pipeline

import (
	"context"

	"github.com/dvloznov/networth-tracker/internal/jobs"
)

// StorageService is an interface for object storage reads.
type StorageService interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// JobPublisher enqueues recalculation jobs. jobs.Publisher satisfies it.
type JobPublisher interface {
	PublishRecalculate(ctx context.Context, job *jobs.RecalculateBalanceJob) error
}

// HistoryInvalidator drops cached net worth histories of a user.
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}
