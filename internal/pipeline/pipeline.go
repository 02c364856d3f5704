package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/networth-tracker/internal/logger"
	"github.com/dvloznov/networth-tracker/internal/storage"
)

// ReasonSync tags jobs enqueued by a feed ingestion.
const ReasonSync = "sync"

// Deps are the collaborators of the feed ingestion pipeline. Storage, Cache
// and Publisher are optional; the matching steps are left out when nil.
type Deps struct {
	Store     storage.Store
	Storage   StorageService
	Cache     HistoryInvalidator
	Publisher JobPublisher
	Now       func() time.Time
}

// NewFeedIngestionPipeline builds fetch, decode, account sync, transform and
// upsert, followed by cache invalidation and job enqueueing when configured.
func NewFeedIngestionPipeline(deps Deps) *Pipeline {
	steps := []PipelineStep{
		&FetchFeedStep{Storage: deps.Storage},
		&DecodeFeedStep{},
		&SyncAccountsStep{Accounts: deps.Store},
		&TransformTransactionsStep{Accounts: deps.Store, Now: deps.Now},
		&UpsertTransactionsStep{Transactions: deps.Store},
	}
	if deps.Cache != nil {
		steps = append(steps, &InvalidateHistoryStep{Cache: deps.Cache})
	}
	if deps.Publisher != nil {
		steps = append(steps, &EnqueueRecalculationStep{Publisher: deps.Publisher, Reason: ReasonSync})
	}
	return NewPipeline(steps...)
}

// IngestFeed runs p over source, a local path or a gs:// URI.
func IngestFeed(ctx context.Context, p *Pipeline, source string) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("source", source).Logger()
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{Source: source}
	if err := p.Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("feed ingestion failed")
		return nil, err
	}

	log.Info().
		Int("accounts", state.AccountsSynced).
		Int("transactions", state.Upserted).
		Strs("affected_accounts", state.AffectedAccounts).
		Msg("feed ingested")

	return &Result{
		Source:               source,
		AccountsSynced:       state.AccountsSynced,
		TransactionsUpserted: state.Upserted,
		AffectedAccounts:     state.AffectedAccounts,
		EnqueuedJobs:         state.EnqueuedJobs,
	}, nil
}
