// Package cli provides the command-line interface for knowforge.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/knowforge-go/internal/config"
	"github.com/raphaelgruber/knowforge-go/internal/coordinator"
	"github.com/raphaelgruber/knowforge-go/internal/db"
	"github.com/raphaelgruber/knowforge-go/internal/ingest"
	"github.com/raphaelgruber/knowforge-go/internal/llm"
	"github.com/raphaelgruber/knowforge-go/internal/metrics"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/raphaelgruber/knowforge-go/internal/service"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and db client
	cfg       config.Config
	dbClient  *db.Client
	collector *metrics.Collector
	closeLog  func() error

	// Lazy-initialized pipeline service
	svc *service.Service
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "knowforge",
	Short: "Knowledge unit generation pipeline",
	Long: `Knowforge turns a set of knowledge-graph concepts into calibrated
learning units. For each concept it generates one unit per Bloom level
through an LLM batch provider, then judges relative difficulty by
comparing units in small groups, and finally consolidates everything
into scored final units.

Batch jobs run asynchronously: submit a batch, poll until the provider
finishes, then process the results. Every step is safe to re-run.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		// Load config
		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closer := config.SetupLogger(cfg.LogFile, level)
		closeLog = closer
		collector = metrics.NewCollector()

		// Connect to database
		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		var err error
		dbClient, err = db.NewClient(ctx, dbCfg, logger, collector)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		// Initialize schema
		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		// Wire the pipeline service
		batchClient, err := llm.NewBatchClient(ctx, cfg, logger, collector)
		if err != nil {
			return fmt.Errorf("init batch client: %w", err)
		}
		ingestor := ingest.New(dbClient, logger, collector)
		coord := coordinator.New(dbClient, batchClient, ingestor, logger)
		svc = service.New(dbClient, coord, cfg, logger)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Close database connection
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// parseBatchType resolves the batch type argument accepted by most
// commands. Both the short and the stored form are accepted.
func parseBatchType(arg string) (string, error) {
	switch arg {
	case "generation", models.BatchTypeGeneration:
		return models.BatchTypeGeneration, nil
	case "difficulty", models.BatchTypeDifficulty:
		return models.BatchTypeDifficulty, nil
	default:
		return "", fmt.Errorf("unknown batch type %q (expected generation or difficulty)", arg)
	}
}

// printOutcome renders a coordinator outcome to stdout.
func printOutcome(out coordinator.Outcome) {
	switch out.Kind {
	case coordinator.OutcomeSkipped:
		fmt.Printf("Skipped: %s\n", out.Reason)
	case coordinator.OutcomeFailed:
		fmt.Printf("Failed: %s\n", out.Reason)
	default:
		fmt.Printf("%s\n", capitalize(out.Kind))
	}
	if out.Job != nil {
		fmt.Printf("  Job status: %s (attempts: %d)\n", out.Job.Status, out.Job.Attempts)
		if out.Job.ProviderBatchID != nil {
			fmt.Printf("  Provider batch: %s\n", *out.Job.ProviderBatchID)
		}
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
