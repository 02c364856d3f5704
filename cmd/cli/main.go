package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/networth-tracker/internal/app"
	"github.com/dvloznov/networth-tracker/internal/config"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/gcsuploader"
	"github.com/dvloznov/networth-tracker/internal/logger"
	"github.com/dvloznov/networth-tracker/internal/pipeline"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	switch os.Args[1] {
	case "recalculate":
		runRecalculate(cfg, log)
	case "history":
		runHistory(cfg, log)
	case "export":
		runExport(cfg, log)
	case "ingest":
		runIngest(cfg, log)
	case "status":
		runStatus(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Net Worth Tracker CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  recalculate  Recompute the running balances of an account")
	fmt.Println("  history      Print a user's net worth history")
	fmt.Println("  export       Upload a user's net worth history to GCS as JSON")
	fmt.Println("  ingest       Import an account feed from a file or gs:// URI")
	fmt.Println("  status       Show or change an account's link status")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// open builds the components and a context carrying the logger.
func open(cfg config.Config, log zerolog.Logger, timeout time.Duration) (context.Context, context.CancelFunc, *app.App) {
	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), timeout)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialise components")
	}
	return ctx, cancel, a
}

func runRecalculate(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("recalculate", flag.ExitOnError)
	accountID := fs.String("account", "", "Account ID to recalculate")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: -account is required")
	}

	ctx, cancel, a := open(cfg, log, 10*time.Minute)
	defer cancel()
	defer a.Close()

	res, err := a.Service.Recalculate(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Str("account_id", *accountID).Msg("Recalculation failed")
	}

	printJSON(os.Stdout, res)
}

func runHistory(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: -user is required")
	}

	ctx, cancel, a := open(cfg, log, 2*time.Minute)
	defer cancel()
	defer a.Close()

	history, err := a.History.ComputeHistory(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Str("user_id", *userID).Msg("Failed to compute history")
	}

	switch *format {
	case "json":
		printJSON(os.Stdout, history)
	default:
		printHistory(os.Stdout, history)
	}
}

// uploader is the subset of the GCS client export needs.
type uploader interface {
	Upload(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) (string, error)
}

// exportHistory writes history as JSON to the canonical object for asOf.
func exportHistory(ctx context.Context, up uploader, bucket string, history *domain.NetWorthHistory, asOf civil.Date) (string, error) {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return "", fmt.Errorf("exportHistory: encoding history: %w", err)
	}
	object := gcsuploader.HistoryObjectName(history.UserID, asOf)
	uri, err := up.Upload(ctx, bucket, object, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("exportHistory: %w", err)
	}
	return uri, nil
}

func runExport(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	bucket := fs.String("bucket", cfg.GCS.Bucket, "GCS bucket (or set GCS_BUCKET env)")
	date := fs.String("date", "", "Export date YYYY-MM-DD (defaults to today, UTC)")
	fs.Parse(os.Args[2:])

	if *userID == "" || *bucket == "" {
		log.Fatal().Msg("Usage: cli export -user ID -bucket NAME")
	}

	asOf := civil.DateOf(time.Now().UTC())
	if *date != "" {
		d, err := civil.ParseDate(*date)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -date")
		}
		asOf = d
	}

	ctx, cancel, a := open(cfg, log, 5*time.Minute)
	defer cancel()
	defer a.Close()

	history, err := a.History.ComputeHistory(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Str("user_id", *userID).Msg("Failed to compute history")
	}

	gcs, err := a.GCS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}

	uri, err := exportHistory(ctx, gcs, *bucket, history, asOf)
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}

	fmt.Printf("Exported %d points for %s to %s\n", len(history.Points), *userID, uri)
}

func runIngest(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", "", "Feed location: local path or gs://bucket/object")
	recalculate := fs.Bool("recalculate", true, "Recalculate affected linked accounts after the import")
	fs.Parse(os.Args[2:])

	if *source == "" {
		log.Fatal().Msg("Error: -source is required")
	}

	ctx, cancel, a := open(cfg, log, 10*time.Minute)
	defer cancel()
	defer a.Close()

	p, err := a.IngestPipeline(ctx, nil, gcsuploader.IsURI(*source))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ingestion pipeline")
	}

	res, err := pipeline.IngestFeed(ctx, p, *source)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	if *recalculate {
		for _, id := range res.AffectedAccounts {
			r, err := a.Service.Recalculate(ctx, id)
			switch {
			case errors.Is(err, domain.ErrInvalidTransition):
				log.Info().Str("account_id", id).Msg("Skipping account that is not linked")
			case err != nil:
				log.Fatal().Err(err).Str("account_id", id).Msg("Recalculation failed")
			default:
				log.Info().Str("account_id", id).Int("count", r.ProcessedTransactions).Msg("Recalculated")
			}
		}
	}

	printJSON(os.Stdout, res)
}

func runStatus(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	accountID := fs.String("account", "", "Account ID")
	set := fs.String("set", "", "New link status (pending, linked, failed, expired)")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: -account is required")
	}

	ctx, cancel, a := open(cfg, log, time.Minute)
	defer cancel()
	defer a.Close()

	acc, err := a.Store.GetAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get account")
	}

	if *set != "" {
		next, err := domain.ParseLinkStatus(*set)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -set")
		}
		if !acc.Status.CanTransitionTo(next) {
			log.Fatal().Str("from", string(acc.Status)).Str("to", string(next)).Msg("Transition not allowed")
		}
		if err := a.Store.UpdateAccountStatus(ctx, acc.ID, next); err != nil {
			log.Fatal().Err(err).Msg("Failed to update status")
		}
		if acc, err = a.Store.GetAccount(ctx, acc.ID); err != nil {
			log.Fatal().Err(err).Msg("Failed to reload account")
		}
	}

	printJSON(os.Stdout, acc)
}

func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
	}
}

func printHistory(w io.Writer, h *domain.NetWorthHistory) {
	fmt.Fprintf(w, "User:   %s\n", h.UserID)
	fmt.Fprintf(w, "Status: %s\n", h.Status)
	if h.LastCalculated != nil {
		fmt.Fprintf(w, "As of:  %s\n", h.LastCalculated)
	}
	if len(h.PendingAccounts) > 0 {
		fmt.Fprintf(w, "Pending accounts:     %v\n", h.PendingAccounts)
	}
	if len(h.CalculatingAccounts) > 0 {
		fmt.Fprintf(w, "Calculating accounts: %v\n", h.CalculatingAccounts)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nDATE\tNET WORTH")
	for _, p := range h.Points {
		fmt.Fprintf(tw, "%s\t%s\n", p.Date, p.Amount.StringFixed(2))
	}
	tw.Flush()
}
