// Package app wires the storage, cache, queue and engine components selected
// by config into the pieces the commands run.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/networth-tracker/internal/cache"
	"github.com/dvloznov/networth-tracker/internal/config"
	"github.com/dvloznov/networth-tracker/internal/gate"
	"github.com/dvloznov/networth-tracker/internal/gcsuploader"
	infraBQ "github.com/dvloznov/networth-tracker/internal/infra/bigquery"
	"github.com/dvloznov/networth-tracker/internal/infra/memory"
	"github.com/dvloznov/networth-tracker/internal/infra/postgres"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/networth-tracker/internal/jobs/kafka"
	"github.com/dvloznov/networth-tracker/internal/ledger"
	"github.com/dvloznov/networth-tracker/internal/networth"
	"github.com/dvloznov/networth-tracker/internal/pipeline"
	"github.com/dvloznov/networth-tracker/internal/storage"
	"github.com/rs/zerolog"
)

// App holds the long-lived components shared by the commands.
type App struct {
	Config config.Config
	Log    zerolog.Logger

	Store   storage.Store
	History networth.HistoryProvider
	Service *ledger.Service
	Jobs    jobs.JobStore

	cache       *cache.Cache
	invalidator *networth.CachedAggregator
	gcs         *gcsuploader.GCSStorageService
	queue       *inmemory.Queue
}

// New opens the configured store and, when REDIS_ADDR is set, the history
// cache and recalculation lease.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Log:    log,
		Store:  store,
		Jobs:   inmemory.NewStoreWithRetention(cfg.Queue.JobRetention),
	}

	aggregator := networth.NewAggregator(store, store, log)
	a.History = aggregator

	opts := gate.Options{Exclusive: cfg.Recalc.Exclusive, LeaseTTL: cfg.Recalc.LeaseTTL}

	if cfg.Redis.Addr != "" {
		a.cache = cache.NewCache(cfg.Redis.Addr, cfg.Redis.Password)
		if err := a.cache.Ping(ctx); err != nil {
			closeErr := a.Close()
			return nil, errors.Join(fmt.Errorf("New: connecting to redis: %w", err), closeErr)
		}

		a.invalidator = networth.NewCachedAggregator(aggregator, cache.NewHistoryCache(a.cache, cfg.Redis.TTL), log)
		a.History = a.invalidator
		if cfg.Recalc.Exclusive {
			opts.Locker = cache.NewLocker(a.cache)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("history cache enabled")
	}

	calc := ledger.NewCalculator(store, store, cfg.Recalc.BatchSize, log)
	g := gate.New(store, opts, log)
	if a.invalidator != nil {
		a.Service = ledger.NewService(store, g, calc, a.invalidator, log)
	} else {
		a.Service = ledger.NewService(store, g, calc, nil, log)
	}

	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		s, err := postgres.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, fmt.Errorf("New: opening postgres store: %w", err)
		}
		return s, nil
	case config.StoreBigQuery:
		s, err := infraBQ.NewStore(ctx, cfg.BQProject, cfg.BQDataset)
		if err != nil {
			return nil, fmt.Errorf("New: opening bigquery store: %w", err)
		}
		return s, nil
	default:
		return memory.NewStore(), nil
	}
}

// Publisher returns the job publisher for the configured queue driver.
func (a *App) Publisher() jobs.Publisher {
	if a.Config.Queue.Driver == config.QueueKafka {
		return kafka.NewPublisher(a.kafkaConfig(), a.Jobs)
	}
	return a.memoryQueue()
}

// Consumer returns the job consumer for the configured queue driver. A kafka
// consumer joins its group as soon as it is created, so only worker
// processes should ask for one.
func (a *App) Consumer() jobs.Consumer {
	if a.Config.Queue.Driver == config.QueueKafka {
		return kafka.NewConsumer(a.kafkaConfig(), a.Jobs, a.Log)
	}
	return a.memoryQueue()
}

func (a *App) kafkaConfig() kafka.Config {
	q := a.Config.Queue
	return kafka.Config{Brokers: q.KafkaBrokers, Topic: q.KafkaTopic, GroupID: q.KafkaGroupID}
}

// memoryQueue is shared by Publisher and Consumer.
func (a *App) memoryQueue() *inmemory.Queue {
	if a.queue == nil {
		q := a.Config.Queue
		a.queue = inmemory.NewQueue(q.WorkerCount, q.BufferSize, a.Jobs, a.Log)
	}
	return a.queue
}

// Handler returns the job handler that runs recalculations through Service.
func (a *App) Handler() jobs.JobHandler {
	return jobs.RecalculateHandler(a.Service)
}

// GCS returns a storage client, creating it on first use.
func (a *App) GCS(ctx context.Context) (*gcsuploader.GCSStorageService, error) {
	if a.gcs != nil {
		return a.gcs, nil
	}
	svc, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		return nil, fmt.Errorf("GCS: %w", err)
	}
	a.gcs = svc
	return svc, nil
}

// IngestPipeline builds the feed ingestion pipeline. A nil publisher leaves
// the enqueue step out; fetching from gs:// needs withGCS.
func (a *App) IngestPipeline(ctx context.Context, publisher jobs.Publisher, withGCS bool) (*pipeline.Pipeline, error) {
	deps := pipeline.Deps{Store: a.Store}
	if withGCS {
		svc, err := a.GCS(ctx)
		if err != nil {
			return nil, err
		}
		deps.Storage = svc
	}
	if a.invalidator != nil {
		deps.Cache = a.invalidator
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	return pipeline.NewFeedIngestionPipeline(deps), nil
}

// Close releases every client opened by New or GCS.
func (a *App) Close() error {
	var errs []error
	if a.gcs != nil {
		errs = append(errs, a.gcs.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
