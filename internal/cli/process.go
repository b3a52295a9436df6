package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/knowforge-go/internal/coordinator"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <run-id> <generation|difficulty>",
	Short: "Ingest a completed batch's result files",
	Long: `Download and ingest a completed batch's result files. Malformed
result lines are recorded as ingest errors without aborting the batch;
only a persistence failure leaves the job retryable.

Examples:
  knowforge process 2026-08-30 generation`,
	Args: cobra.ExactArgs(2),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	runID := args[0]
	batchType, err := parseBatchType(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	out, err := svc.Process(ctx, runID, batchType)
	if err != nil {
		return fmt.Errorf("process %s: %w", batchType, err)
	}

	printOutcome(out)
	if out.Kind != coordinator.OutcomeCompleted {
		return nil
	}

	status, err := svc.Status(ctx, runID)
	if err != nil {
		return fmt.Errorf("read run status: %w", err)
	}
	switch batchType {
	case models.BatchTypeGeneration:
		fmt.Printf("  Units ingested: %d\n", status.Units)
		fmt.Printf("\nNext: knowforge submit %s difficulty\n", runID)
	case models.BatchTypeDifficulty:
		fmt.Printf("  Scores ingested: %d\n", status.Scores)
		fmt.Printf("\nNext: knowforge finalize %s\n", runID)
	}
	if status.IngestErrors > 0 {
		fmt.Printf("  Ingest errors so far: %d (see: knowforge status %s --errors)\n", status.IngestErrors, runID)
	}
	return nil
}
