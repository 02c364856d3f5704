package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/gcsuploader"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/logger"
	"github.com/dvloznov/networth-tracker/internal/storage"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Source       string
	Raw          []byte
	Feed         *Feed
	Accounts     map[string]*domain.Account
	Transactions []*domain.Transaction

	AccountsSynced   int
	Upserted         int
	AffectedAccounts []string
	EnqueuedJobs     []string
}

// Step 1: FetchFeedStep reads the feed from a local path or a gs:// URI.
type FetchFeedStep struct {
	Storage StorageService
}

func (s *FetchFeedStep) Execute(ctx context.Context, state *PipelineState) error {
	if gcsuploader.IsURI(state.Source) {
		if s.Storage == nil {
			return fmt.Errorf("FetchFeedStep: %s: no storage client configured", state.Source)
		}
		data, err := s.Storage.FetchFromGCS(ctx, state.Source)
		if err != nil {
			return fmt.Errorf("FetchFeedStep: %w", err)
		}
		state.Raw = data
		return nil
	}

	data, err := os.ReadFile(state.Source)
	if err != nil {
		return fmt.Errorf("FetchFeedStep: %w", err)
	}
	state.Raw = data
	return nil
}

// Step 2: DecodeFeedStep parses the raw feed.
type DecodeFeedStep struct{}

func (s *DecodeFeedStep) Execute(ctx context.Context, state *PipelineState) error {
	feed, err := decodeFeed(state.Raw)
	if err != nil {
		return err
	}
	state.Feed = feed
	return nil
}

// Step 3: SyncAccountsStep upserts the account roster with mapped statuses.
type SyncAccountsStep struct {
	Accounts storage.AccountRepository
}

func (s *SyncAccountsStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Accounts == nil {
		state.Accounts = make(map[string]*domain.Account)
	}

	for _, fa := range state.Feed.Accounts {
		existing, err := s.Accounts.GetAccount(ctx, fa.AccountID)
		if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
			return fmt.Errorf("SyncAccountsStep: %w", err)
		}

		acc, err := transformAccount(fa, existing)
		if err != nil {
			return fmt.Errorf("SyncAccountsStep: %w", err)
		}
		if err := s.Accounts.UpsertAccount(ctx, acc); err != nil {
			return fmt.Errorf("SyncAccountsStep: %w", err)
		}

		state.Accounts[acc.ID] = acc
		state.AccountsSynced++
	}
	return nil
}

// Step 4: TransformTransactionsStep converts feed rows into ledger rows.
// Accounts missing from the roster are looked up in the store.
type TransformTransactionsStep struct {
	Accounts storage.AccountRepository
	Now      func() time.Time
}

func (s *TransformTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Accounts == nil {
		state.Accounts = make(map[string]*domain.Account)
	}

	for _, r := range state.Feed.Transactions {
		if _, ok := state.Accounts[r.AccountID]; ok {
			continue
		}
		acc, err := s.Accounts.GetAccount(ctx, r.AccountID)
		if err != nil {
			return fmt.Errorf("TransformTransactionsStep: %w", err)
		}
		state.Accounts[acc.ID] = acc
	}

	owners := make(map[string]string, len(state.Accounts))
	for id, acc := range state.Accounts {
		owners[id] = acc.OwnerID
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	txs, err := transformTransactions(state.Feed.Transactions, owners, now().UTC())
	if err != nil {
		return fmt.Errorf("TransformTransactionsStep: %w", err)
	}
	state.Transactions = txs
	return nil
}

// Step 5: UpsertTransactionsStep writes the ledger rows. Running balances are
// left to the calculator.
type UpsertTransactionsStep struct {
	Transactions storage.TransactionRepository
}

func (s *UpsertTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	n, err := s.Transactions.UpsertTransactions(ctx, state.Transactions)
	if err != nil {
		return fmt.Errorf("UpsertTransactionsStep: %w", err)
	}
	state.Upserted = n

	seen := make(map[string]bool)
	for _, tx := range state.Transactions {
		if !seen[tx.AccountID] {
			seen[tx.AccountID] = true
			state.AffectedAccounts = append(state.AffectedAccounts, tx.AccountID)
		}
	}
	sort.Strings(state.AffectedAccounts)
	return nil
}

// Step 6: InvalidateHistoryStep drops cached histories of affected owners.
// Cache failures are logged, not returned.
type InvalidateHistoryStep struct {
	Cache HistoryInvalidator
}

func (s *InvalidateHistoryStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	done := make(map[string]bool)
	for _, id := range state.AffectedAccounts {
		owner := state.Accounts[id].OwnerID
		if done[owner] {
			continue
		}
		done[owner] = true
		if err := s.Cache.Invalidate(ctx, owner); err != nil {
			log.Warn().Err(err).Str("user_id", owner).Msg("history cache invalidation failed")
		}
	}
	return nil
}

// Step 7: EnqueueRecalculationStep publishes one recalculation job per
// affected account that may recompute. A calculating account gets a job too,
// since the pass in flight may have read the ledger before the upsert.
type EnqueueRecalculationStep struct {
	Publisher JobPublisher
	Reason    string
}

func (s *EnqueueRecalculationStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	for _, id := range state.AffectedAccounts {
		status := state.Accounts[id].Status
		if status != domain.LinkStatusLinked && status != domain.LinkStatusCalculating {
			log.Info().Str("account_id", id).Str("status", string(status)).Msg("skipping recalculation for account that is not linked")
			continue
		}

		job := &jobs.RecalculateBalanceJob{AccountID: id, Reason: s.Reason}
		if err := s.Publisher.PublishRecalculate(ctx, job); err != nil {
			return fmt.Errorf("EnqueueRecalculationStep: %s: %w", id, err)
		}
		state.EnqueuedJobs = append(state.EnqueuedJobs, job.JobID)
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
