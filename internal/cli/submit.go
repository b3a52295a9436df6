package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/knowforge-go/internal/coordinator"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <run-id> <generation|difficulty>",
	Short: "Submit a batch of LLM requests to the provider",
	Long: `Submit a run's batch to the configured LLM provider.

The generation batch asks for one learning unit per Bloom level for
every origin. The difficulty batch schedules comparison groups over the
generated units and asks for relative difficulty scores.

Submitting is idempotent: if the batch was already submitted the
command reports the existing job instead of creating a duplicate.

Examples:
  knowforge submit 2026-08-30 generation
  knowforge submit 2026-08-30 difficulty`,
	Args: cobra.ExactArgs(2),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	runID := args[0]
	batchType, err := parseBatchType(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	out, err := submitBatch(ctx, runID, batchType)
	if err != nil {
		return fmt.Errorf("submit %s: %w", batchType, err)
	}

	printOutcome(out)
	if out.Kind == coordinator.OutcomeSubmitted {
		fmt.Printf("\nNext: knowforge poll %s %s\n", runID, args[1])
	}
	return nil
}

func submitBatch(ctx context.Context, runID, batchType string) (coordinator.Outcome, error) {
	switch batchType {
	case models.BatchTypeGeneration:
		return svc.SubmitGeneration(ctx, runID)
	default:
		return svc.SubmitDifficulty(ctx, runID)
	}
}
