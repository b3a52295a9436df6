package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var finalizeShowUnits bool

var finalizeCmd = &cobra.Command{
	Use:   "finalize <run-id>",
	Short: "Consolidate a run into scored final units",
	Long: `Join the run's generated units with their aggregated difficulty
scores and persist the final units. Units that never accumulated a
judgment are kept without a score. The run is marked successful once
finalization commits.

Finalizing an already-successful run returns the stored final units
without writing anything.

Examples:
  knowforge finalize 2026-08-30
  knowforge finalize 2026-08-30 --units`,
	Args: cobra.ExactArgs(1),
	RunE: runFinalize,
}

func init() {
	finalizeCmd.Flags().BoolVar(&finalizeShowUnits, "units", false, "print every final unit")
	rootCmd.AddCommand(finalizeCmd)
}

func runFinalize(cmd *cobra.Command, args []string) error {
	runID := args[0]

	units, err := svc.Finalize(context.Background(), runID)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}

	judged := 0
	for _, u := range units {
		if u.DifficultyScore != nil {
			judged++
		}
	}

	fmt.Printf("Finalized run %s\n", runID)
	fmt.Printf("  Final units: %d\n", len(units))
	fmt.Printf("  With difficulty score: %d\n", judged)
	if unjudged := len(units) - judged; unjudged > 0 {
		fmt.Printf("  Without score: %d\n", unjudged)
	}

	if finalizeShowUnits {
		fmt.Println()
		for _, u := range units {
			score := "-"
			if u.DifficultyScore != nil {
				score = fmt.Sprintf("%d (%d evaluations)", *u.DifficultyScore, u.EvaluationCount)
			}
			fmt.Printf("%s / %s\n", u.OriginID, u.BloomLevel)
			fmt.Printf("  Score: %s\n", score)
			fmt.Printf("  %s\n", u.Text)
		}
	}

	return nil
}
