package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var abandonReason string

var jobsCmd = &cobra.Command{
	Use:   "jobs <run-id>",
	Short: "List a run's batch jobs",
	Long: `List the batch jobs of a run with their provider state.

Examples:
  knowforge jobs 2026-08-30`,
	Args: cobra.ExactArgs(1),
	RunE: runListJobs,
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <run-id> <generation|difficulty>",
	Short: "Give up on a submitted batch job",
	Long: `Mark a submitted batch job as failed. Use this when a provider
batch is stuck and will not complete; a later submit then retries the
job with a fresh provider batch.

Examples:
  knowforge abandon 2026-08-30 generation --reason "provider batch stuck for 48h"`,
	Args: cobra.ExactArgs(2),
	RunE: runAbandon,
}

func init() {
	abandonCmd.Flags().StringVar(&abandonReason, "reason", "abandoned by operator", "reason recorded on the job")
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(abandonCmd)
}

func runListJobs(cmd *cobra.Command, args []string) error {
	jobs, err := svc.Jobs(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	for _, job := range jobs {
		fmt.Printf("Job: %s\n", job.BatchType)
		fmt.Printf("  Status: %s\n", job.Status)
		fmt.Printf("  Attempts: %d\n", job.Attempts)
		if job.ProviderBatchID != nil {
			fmt.Printf("  Provider batch: %s\n", *job.ProviderBatchID)
		}
		if job.OutputFileID != nil {
			fmt.Printf("  Output file: %s\n", *job.OutputFileID)
		}
		if job.ErrorFileID != nil {
			fmt.Printf("  Error file: %s\n", *job.ErrorFileID)
		}
		if job.LastError != nil && *job.LastError != "" {
			fmt.Printf("  Last error: %s\n", *job.LastError)
		}
		fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  Updated: %s\n", job.UpdatedAt.Format(time.RFC3339))
	}

	return nil
}

func runAbandon(cmd *cobra.Command, args []string) error {
	runID := args[0]
	batchType, err := parseBatchType(args[1])
	if err != nil {
		return err
	}

	out, err := svc.Abandon(context.Background(), runID, batchType, abandonReason)
	if err != nil {
		return fmt.Errorf("abandon %s: %w", batchType, err)
	}

	printOutcome(out)
	return nil
}
