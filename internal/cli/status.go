package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusShowErrors bool

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a pipeline run's progress",
	Long: `Show a run's status, its batch jobs and record counts per phase.

Examples:
  knowforge status 2026-08-30
  knowforge status 2026-08-30 --errors`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusShowErrors, "errors", false, "list ingest errors")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	runID := args[0]
	ctx := context.Background()

	status, err := svc.Status(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", runID)
	fmt.Printf("  Status: %s\n", status.Run.Status)
	fmt.Printf("  Started: %s\n", status.Run.StartedAt.Format(time.RFC3339))
	if status.Run.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", status.Run.FinishedAt.Format(time.RFC3339))
	}

	fmt.Printf("\n  Origins: %d\n", status.Origins)
	fmt.Printf("  Generated units: %d\n", status.Units)
	fmt.Printf("  Comparison groups: %d\n", status.Groups)
	fmt.Printf("  Difficulty scores: %d\n", status.Scores)
	fmt.Printf("  Final units: %d\n", status.FinalUnits)
	fmt.Printf("  Ingest errors: %d\n", status.IngestErrors)

	if len(status.Jobs) > 0 {
		fmt.Printf("\n%-16s %-20s %-9s %s\n", "BATCH", "STATUS", "ATTEMPTS", "PROVIDER BATCH")
		fmt.Println("----------------------------------------------------------------------")
		for _, job := range status.Jobs {
			providerID := "-"
			if job.ProviderBatchID != nil {
				providerID = *job.ProviderBatchID
			}
			fmt.Printf("%-16s %-20s %-9d %s\n", job.BatchType, job.Status, job.Attempts, providerID)
			if job.LastError != nil && *job.LastError != "" {
				fmt.Printf("    last error: %s\n", *job.LastError)
			}
		}
	}

	if statusShowErrors && status.IngestErrors > 0 {
		ingestErrs, err := svc.IngestErrors(ctx, runID)
		if err != nil {
			return fmt.Errorf("list ingest errors: %w", err)
		}
		fmt.Printf("\nIngest errors (%d):\n", len(ingestErrs))
		for _, e := range ingestErrs {
			fmt.Printf("  [%s] line %d (%s): %s\n", e.BatchType, e.Line, e.RequestID, e.Reason)
		}
	}

	return nil
}
