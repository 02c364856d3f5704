package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/gate"
	"github.com/dvloznov/networth-tracker/internal/metrics"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/rs/zerolog"
)

// HistoryInvalidator drops cached net worth histories of a user.
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Result summarises one recalculation.
type Result struct {
	AccountID             string `json:"account_id"`
	Success               bool   `json:"success"`
	ProcessedTransactions int    `json:"processed_transactions"`
}

// Service runs the calculator inside the status gate and keeps cached
// histories of the account owner in step.
type Service struct {
	accounts storage.AccountRepository
	gate     *gate.Gate
	calc     *Calculator
	cache    HistoryInvalidator
	log      zerolog.Logger
}

// NewService wires a Service. cache may be nil.
func NewService(accounts storage.AccountRepository, g *gate.Gate, calc *Calculator, cache HistoryInvalidator, log zerolog.Logger) *Service {
	return &Service{
		accounts: accounts,
		gate:     g,
		calc:     calc,
		cache:    cache,
		log:      log,
	}
}

// Recalculate recomputes every running balance of the account.
func (s *Service) Recalculate(ctx context.Context, accountID string) (Result, error) {
	log := s.log.With().Str("account_id", accountID).Logger()
	start := time.Now()

	ran := false
	n, err := s.gate.Run(ctx, accountID, func(ctx context.Context) (int, error) {
		ran = true
		return s.calc.Recalculate(ctx, accountID)
	})

	metrics.RecalculationDuration.Observe(time.Since(start).Seconds())
	metrics.TransactionsProcessed.Add(float64(n))

	if ran {
		s.invalidateOwner(ctx, accountID, log)
	}

	switch {
	case err == nil:
		metrics.RecalculationsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case !ran || errors.Is(err, domain.ErrRecalculationInProgress):
		metrics.RecalculationsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		log.Warn().Err(err).Msg("recalculation rejected")
		return Result{AccountID: accountID}, err
	default:
		metrics.RecalculationsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		log.Error().Err(err).Int("processed", n).Msg("recalculation failed")
		return Result{AccountID: accountID, ProcessedTransactions: n}, err
	}

	log.Info().
		Int("processed", n).
		Dur("duration", time.Since(start)).
		Msg("recalculation completed")

	return Result{AccountID: accountID, Success: true, ProcessedTransactions: n}, nil
}

func (s *Service) invalidateOwner(ctx context.Context, accountID string, log zerolog.Logger) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	acc, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve owner for cache invalidation")
		return
	}
	if err := s.cache.Invalidate(ctx, acc.OwnerID); err != nil {
		log.Warn().Err(err).Str("user_id", acc.OwnerID).Msg("failed to invalidate net worth history cache")
	}
}
