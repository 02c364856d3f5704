package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/networth-tracker/internal/app"
	"github.com/dvloznov/networth-tracker/internal/config"
	"github.com/dvloznov/networth-tracker/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.NewWithLevel(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise components")
	}
	defer a.Close()

	if cfg.Queue.Driver == config.QueueMemory {
		log.Warn().Msg("QUEUE_DRIVER=memory: this worker only sees jobs published in its own process; use kafka to share work")
	}

	consumer := a.Consumer()

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("queue", cfg.Queue.Driver).
		Bool("exclusive", cfg.Recalc.Exclusive).
		Msg("Starting worker service")

	if err := consumer.Start(ctx, a.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Stop waits for in-flight recalculations; their status revert runs on a
	// detached context so cancellation above does not leave accounts stuck.
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
