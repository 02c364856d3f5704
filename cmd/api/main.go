package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dvloznov/networth-tracker/internal/api"
	"github.com/dvloznov/networth-tracker/internal/app"
	"github.com/dvloznov/networth-tracker/internal/config"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/logger"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides SERVER_PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	log := logger.NewWithLevel(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise components")
	}
	defer a.Close()

	publisher := a.Publisher()

	// With the in-memory queue nothing else can drain jobs, so the API
	// process runs the workers itself.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	var consumer jobs.Consumer
	if cfg.Queue.Driver == config.QueueMemory {
		consumer = a.Consumer()
		log.Info().Int("workers", cfg.Queue.WorkerCount).Msg("Starting in-process job workers")
		if err := consumer.Start(workerCtx, a.Handler()); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job workers")
		}
	}

	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler: api.NewRouter(api.Deps{
			Store:     a.Store,
			History:   a.History,
			Publisher: publisher,
			Jobs:      a.Jobs,
			Log:       log,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info().
			Int("port", cfg.HTTP.Port).
			Str("store", cfg.Store.Driver).
			Str("queue", cfg.Queue.Driver).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	if consumer != nil {
		if err := consumer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job workers")
		}
	}
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job publisher")
	}

	log.Info().Msg("Server exited")
}
