package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dvloznov/networth-tracker/internal/config"
	"github.com/dvloznov/networth-tracker/internal/logger"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	Checksum  string
	AppliedBy string
}

// migrator is the driver-specific half of the tool.
type migrator interface {
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Execute(ctx context.Context, m Migration) error
	Record(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

var (
	driver        = flag.String("driver", "", "Database driver: postgres or bigquery (default STORE_DRIVER)")
	dbSource      = flag.String("db", "", "Postgres connection string (default DB_SOURCE)")
	projectID     = flag.String("project", "", "GCP project ID (default BQ_PROJECT)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (default BQ_DATASET)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (default migrations/<driver>)")
)

func main() {
	flag.Parse()

	log := logger.New()
	ctx := context.Background()

	// Flags may supply what the environment lacks, so an invalid
	// configuration is not fatal here.
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Configuration incomplete, relying on flags")
	}
	applyDefaults(cfg)

	m, err := openMigrator(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer m.Close()

	log.Info().Str("driver", *driver).Msg("Connected")

	if err := m.EnsureTable(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	migrations, err := readMigrations(*migrationsDir, placeholders())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Msgf("Found %d migration files", len(migrations))

	applied, err := m.Applied(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}
	log.Info().Msgf("Found %d already applied migrations", len(applied))

	appliedCount := 0
	for _, mig := range pending(migrations, applied) {
		log.Info().Msgf("  [RUN]  %04d_%s", mig.Version, mig.Name)

		if err := m.Execute(ctx, mig); err != nil {
			log.Fatal().Err(err).Msgf("Failed to execute migration %04d_%s", mig.Version, mig.Name)
		}
		if err := m.Record(ctx, mig, *appliedBy); err != nil {
			log.Fatal().Err(err).Msgf("Failed to record migration %04d_%s", mig.Version, mig.Name)
		}

		log.Info().Msgf("  [OK]   %04d_%s", mig.Version, mig.Name)
		appliedCount++
	}

	for _, w := range checksumDrift(migrations, applied) {
		log.Warn().Msg(w)
	}

	if appliedCount == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Msgf("Successfully applied %d migration(s)", appliedCount)
	}
}

// applyDefaults fills unset flags from configuration.
func applyDefaults(cfg config.Config) {
	if *driver == "" {
		*driver = cfg.Store.Driver
	}
	if *dbSource == "" {
		*dbSource = cfg.Store.DBSource
	}
	if *projectID == "" {
		*projectID = cfg.Store.BQProject
	}
	if *datasetID == "" {
		*datasetID = cfg.Store.BQDataset
	}
	if *migrationsDir == "" {
		*migrationsDir = filepath.Join("migrations", *driver)
	}
}

func openMigrator(ctx context.Context) (migrator, error) {
	switch *driver {
	case config.StorePostgres:
		if *dbSource == "" {
			return nil, errors.New("-db flag or DB_SOURCE is required for postgres")
		}
		return newPostgresMigrator(ctx, *dbSource)
	case config.StoreBigQuery:
		if *projectID == "" {
			return nil, errors.New("-project flag or BQ_PROJECT is required for bigquery")
		}
		return newBigQueryMigrator(ctx, *projectID, *datasetID)
	default:
		return nil, fmt.Errorf("unsupported driver %q: use postgres or bigquery", *driver)
	}
}

func placeholders() map[string]string {
	return map[string]string{
		"{{PROJECT_ID}}": *projectID,
		"{{DATASET_ID}}": *datasetID,
	}
}

// parseMigrationFilename extracts the version and name from 0001_name.sql.
func parseMigrationFilename(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// checksum is computed over the raw file so that placeholder values do not
// register as a change.
func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// readMigrations reads all migration files from dir, sorted by version.
func readMigrations(dir string, replacements map[string]string) ([]Migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Try from the repository root when run from cmd/migrate.
		dir = filepath.Join("..", "..", dir)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("migrations directory not found: %s", dir)
		}
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseMigrationFilename(file.Name())
		if !ok {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range replacements {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// pending returns the migrations whose version has not been applied.
func pending(migrations []Migration, applied []AppliedMigration) []Migration {
	done := make(map[int]bool, len(applied))
	for _, am := range applied {
		done[am.Version] = true
	}

	var out []Migration
	for _, m := range migrations {
		if !done[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// checksumDrift reports applied migrations whose file has since changed.
func checksumDrift(migrations []Migration, applied []AppliedMigration) []string {
	recorded := make(map[int]string, len(applied))
	for _, am := range applied {
		recorded[am.Version] = am.Checksum
	}

	var warnings []string
	for _, m := range migrations {
		sum, ok := recorded[m.Version]
		if ok && sum != "" && sum != m.Checksum {
			warnings = append(warnings, fmt.Sprintf("migration %s changed after it was applied", m.Filename))
		}
	}
	return warnings
}
