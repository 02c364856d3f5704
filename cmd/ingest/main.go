package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/networth-tracker/internal/app"
	"github.com/dvloznov/networth-tracker/internal/config"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/gcsuploader"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/logger"
	"github.com/dvloznov/networth-tracker/internal/pipeline"
)

func main() {
	source := flag.String("source", "", "Feed location: local path or gs://bucket/object")
	enqueue := flag.Bool("enqueue", false, "Publish recalculation jobs instead of recalculating in-process")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if *source == "" {
		log.Fatal().Msg("Error: -source is required")
	}

	// Create context with timeout so the import doesn't hang
	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), 10*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise components")
	}
	defer a.Close()

	var publisher jobs.Publisher
	if *enqueue {
		if cfg.Queue.Driver == config.QueueMemory {
			log.Fatal().Msg("-enqueue needs QUEUE_DRIVER=kafka; in-memory jobs would be lost on exit")
		}
		publisher = a.Publisher()
		defer publisher.Close()
	}

	p, err := a.IngestPipeline(ctx, publisher, gcsuploader.IsURI(*source))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ingestion pipeline")
	}

	log.Info().Str("source", *source).Bool("enqueue", *enqueue).Msg("Starting ingestion")

	res, err := pipeline.IngestFeed(ctx, p, *source)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	if !*enqueue {
		for _, id := range res.AffectedAccounts {
			if _, err := a.Service.Recalculate(ctx, id); err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					continue
				}
				log.Fatal().Err(err).Str("account_id", id).Msg("Recalculation failed")
			}
		}
	}

	fmt.Printf("Ingested %d accounts and %d transactions from %s (%d accounts affected, %d jobs enqueued).\n",
		res.AccountsSynced, res.TransactionsUpserted, res.Source, len(res.AffectedAccounts), len(res.EnqueuedJobs))
}
