package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/knowforge-go/internal/coordinator"
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll <run-id> <generation|difficulty>",
	Short: "Check a submitted batch against the provider",
	Long: `Poll the provider for a batch job's status. When the provider has
finished the batch, the job advances to pending processing and the
result file ids are recorded.

Examples:
  knowforge poll 2026-08-30 generation`,
	Args: cobra.ExactArgs(2),
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	runID := args[0]
	batchType, err := parseBatchType(args[1])
	if err != nil {
		return err
	}

	out, err := svc.Poll(context.Background(), runID, batchType)
	if err != nil {
		return fmt.Errorf("poll %s: %w", batchType, err)
	}

	printOutcome(out)
	switch out.Kind {
	case coordinator.OutcomeProcessing:
		fmt.Printf("\nNext: knowforge process %s %s\n", runID, args[1])
	case coordinator.OutcomeSubmitted:
		fmt.Println("\nBatch still running at the provider; poll again later.")
	}
	return nil
}
