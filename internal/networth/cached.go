package networth

import (
	"context"
	"fmt"

	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/rs/zerolog"
)

// HistoryCache stores computed histories per user. Every Invalidate bumps
// the user's generation; SetIfGeneration stores only while the generation
// still equals the one read before computing.
type HistoryCache interface {
	Get(ctx context.Context, userID string) (*domain.NetWorthHistory, bool, error)
	Generation(ctx context.Context, userID string) (int64, error)
	SetIfGeneration(ctx context.Context, userID string, generation int64, history *domain.NetWorthHistory) (bool, error)
	Invalidate(ctx context.Context, userID string) error
}

// CachedAggregator is a read-through cache in front of a HistoryProvider.
// Cache errors are logged and never fail a read. A history computed while
// an invalidation happened, or one with accounts mid-recalculation, is
// returned but not stored.
type CachedAggregator struct {
	inner HistoryProvider
	cache HistoryCache
	log   zerolog.Logger
}

// NewCachedAggregator wraps inner with cache.
func NewCachedAggregator(inner HistoryProvider, cache HistoryCache, log zerolog.Logger) *CachedAggregator {
	return &CachedAggregator{inner: inner, cache: cache, log: log}
}

// ComputeHistory implements HistoryProvider.
func (c *CachedAggregator) ComputeHistory(ctx context.Context, userID string) (*domain.NetWorthHistory, error) {
	cached, ok, err := c.cache.Get(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("history cache read failed")
	}
	if ok {
		return cached, nil
	}

	generation, genErr := c.cache.Generation(ctx, userID)
	if genErr != nil {
		c.log.Warn().Err(genErr).Str("user_id", userID).Msg("history cache generation read failed")
	}

	history, err := c.inner.ComputeHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	if genErr != nil || len(history.CalculatingAccounts) > 0 {
		return history, nil
	}

	stored, err := c.cache.SetIfGeneration(ctx, userID, generation, history)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("history cache write failed")
	} else if !stored {
		c.log.Debug().Str("user_id", userID).Msg("history invalidated while computing, not cached")
	}
	return history, nil
}

// Invalidate drops the cached history of the user.
func (c *CachedAggregator) Invalidate(ctx context.Context, userID string) error {
	if err := c.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("Invalidate: %w", err)
	}
	return nil
}
