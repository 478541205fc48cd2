package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"pgward/internal/catalog"
	"pgward/internal/codec"
	"pgward/internal/config"
	"pgward/internal/orchestrator"
	"pgward/internal/source/postgres"
	"pgward/internal/storage"
	"pgward/internal/storage/local"
	s3backend "pgward/internal/storage/s3"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	switch os.Args[1] {
	case "run", "serve":
		runDaemon()
	case "backup":
		runBackupCLI()
	case "restore":
		runRestoreCLI()
	case "list":
		runListCLI()
	case "help", "--help", "-h":
		printUsage()
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: pgward [command]

Commands:
  run                     Run the scheduler daemon (and status API if listen is set)
  backup                  Run a one-shot backup for a target (or all targets)
  restore                 Restore a target from a cataloged backup
  list                    List cataloged backups for a target
  help                    Show this help message

Backup flags:
  --target <key>          Target to back up (defaults to all targets)
  --force                 Back up even when the catalog is current

Restore flags:
  --target <key>          Target to restore [required]
  --backup <object>       Backup object name to restore
  --latest                Restore the most recent backup

List flags:
  --target <key>          Target to list backups for [required]

Run flags:
  --listen <addr>         Status API listen address (overrides config)

Environment:
  PGWARD_CONFIG           Path to config file (default: /config/config.yml)

Examples:
  pgward run                                          # Start the scheduler
  pgward backup                                       # Back up every target now
  pgward backup --target sales                        # Back up one target
  pgward list --target sales                          # List sales backups
  pgward restore --target sales --latest
  pgward restore --target sales --backup sales-20240101T030000Z.sql.gz

Docker:
  docker run -v /path/to/config.yml:/config/config.yml pgward run
`)
}

// newLogger builds the process logger. PGWARD_LOG selects the level; the
// default is info.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("PGWARD_LOG"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// preflightCheck verifies that the external PostgreSQL tools are on PATH
// before any work begins, so a missing binary never surfaces mid-pipeline.
func preflightCheck(needDump, needRestore bool) error {
	var missing []string

	if needDump {
		if _, err := exec.LookPath("pg_dump"); err != nil {
			missing = append(missing, "pg_dump (required for backup)")
		}
	}
	if needRestore {
		if _, err := exec.LookPath("psql"); err != nil {
			missing = append(missing, "psql (required for queries and restore)")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required tools:\n  - %s", strings.Join(missing, "\n  - "))
	}
	return nil
}

func createSource(t config.TargetConfig) *postgres.Client {
	return postgres.New(t.TargetName(), postgres.Config{
		Host:              t.Connection.Host,
		Port:              t.Connection.Port,
		User:              t.Connection.User,
		Password:          t.Connection.Password,
		Database:          t.Connection.Database,
		LastModifiedQuery: t.Connection.LastModifiedQuery,
	})
}

func createBackend(ctx context.Context, sc *config.StorageConfig) (storage.Backend, error) {
	switch sc.Type {
	case "local":
		path := sc.Path
		if path == "" {
			path = "./backups"
		}
		return local.New(path), nil
	case "s3":
		return s3backend.New(ctx, s3backend.Config{
			Bucket:          sc.Bucket,
			Prefix:          sc.Prefix,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			StorageClass:    sc.StorageClass,
			ForcePathStyle:  sc.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sc.Type)
	}
}

// buildTarget wires one configured target end to end: source client, storage
// backend, refreshed catalog, and orchestrator.
func buildTarget(ctx context.Context, cfg config.Config, t config.TargetConfig, logger zerolog.Logger) (*orchestrator.Orchestrator, error) {
	backend, err := createBackend(ctx, cfg.EffectiveStorage(t))
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", t.Key, err)
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("target %q: prepare storage: %w", t.Key, err)
	}

	cat := catalog.New(t.Key, backend, logger)
	if err := cat.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("target %q: load catalog: %w", t.Key, err)
	}

	return orchestrator.New(t, createSource(t), cat, orchestrator.Options{
		Codec:      codec.Gzip{Level: cfg.CompressionLevel},
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	})
}

// findTarget looks up the target with the given key.
func findTarget(cfg config.Config, key string) (config.TargetConfig, error) {
	for _, t := range cfg.Targets {
		if t.Key == key {
			return t, nil
		}
	}
	keys := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		keys = append(keys, t.Key)
	}
	return config.TargetConfig{}, fmt.Errorf("target %q not found in config (available: %v)", key, keys)
}

func runBackupCLI() {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	targetKey := fs.String("target", "", "Target to back up (defaults to all targets)")
	force := fs.Bool("force", false, "Back up even when the catalog is current")
	fs.Parse(os.Args[2:])

	logger := newLogger()
	ctx := context.Background()

	cfg, err := config.Parse(config.Path())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := preflightCheck(true, true); err != nil {
		logger.Fatal().Err(err).Msg("preflight check failed")
	}

	targets := cfg.Targets
	if *targetKey != "" {
		t, err := findTarget(cfg, *targetKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("unknown target")
		}
		targets = []config.TargetConfig{t}
	}

	failed := false
	for _, t := range targets {
		orch, err := buildTarget(ctx, cfg, t, logger)
		if err != nil {
			logger.Error().Err(err).Str("target", t.Key).Msg("failed to set up target")
			failed = true
			continue
		}
		if err := orch.BackupNow(ctx, *force); err != nil {
			logger.Error().Err(err).Str("target", t.Key).Msg("backup failed")
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func runRestoreCLI() {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	targetKey := fs.String("target", "", "Target to restore")
	backupName := fs.String("backup", "", "Backup object name to restore")
	latest := fs.Bool("latest", false, "Restore the most recent backup")
	fs.Parse(os.Args[2:])

	if *targetKey == "" {
		fmt.Fprintln(os.Stderr, "Error: --target is required")
		fs.Usage()
		os.Exit(1)
	}
	if *backupName == "" && !*latest {
		fmt.Fprintln(os.Stderr, "Error: either --backup <object> or --latest is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := newLogger()
	ctx := context.Background()

	cfg, err := config.Parse(config.Path())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := preflightCheck(false, true); err != nil {
		logger.Fatal().Err(err).Msg("preflight check failed")
	}

	t, err := findTarget(cfg, *targetKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("unknown target")
	}

	orch, err := buildTarget(ctx, cfg, t, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up target")
	}

	name := *backupName
	if *latest {
		records := orch.Catalog().Snapshot()
		if len(records) == 0 {
			logger.Fatal().Str("target", t.Key).Msg("no backups in catalog")
		}
		name = records[0].StorageKey
		logger.Info().Str("object", name).Time("source_time", records[0].Timestamp).Msg("selected latest backup")
	}

	if err := orch.RestoreNow(ctx, name); err != nil {
		logger.Fatal().Err(err).Msg("restore failed")
	}
	logger.Info().Str("target", t.Key).Msg("restore complete")
}

func runListCLI() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	targetKey := fs.String("target", "", "Target to list backups for")
	fs.Parse(os.Args[2:])

	if *targetKey == "" {
		fmt.Fprintln(os.Stderr, "Error: --target is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := newLogger()
	ctx := context.Background()

	cfg, err := config.Parse(config.Path())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	t, err := findTarget(cfg, *targetKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("unknown target")
	}

	backend, err := createBackend(ctx, cfg.EffectiveStorage(t))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create storage backend")
	}
	cat := catalog.New(t.Key, backend, logger)
	if err := cat.Refresh(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load catalog")
	}

	records := cat.Snapshot()
	if len(records) == 0 {
		fmt.Printf("No backups found for %s\n", t.Key)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "OBJECT\tSIZE\tSOURCE TIME\n")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rec.StorageKey, formatSize(rec.SizeBytes), rec.Timestamp.Format(time.RFC3339))
	}
	w.Flush()
}

// formatSize returns a human-readable size string.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
