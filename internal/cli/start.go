package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/spf13/cobra"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

var (
	startOriginsFile string
	startTrigger     string
)

var startCmd = &cobra.Command{
	Use:   "start <run-id>",
	Short: "Start a pipeline run from an origins file",
	Long: `Start a new pipeline run. The origins file is a JSON array of the
concepts to generate learning units for:

  [
    {"id": "algebra-linear", "origin_type": "entity", "title": "Álgebra Linear",
     "level": 1, "parent_id": "matematica", "context": "..."}
  ]

Examples:
  knowforge start 2026-08-30 --origins origins.json
  knowforge start smoke-1 --origins origins.json --trigger manual`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startOriginsFile, "origins", "o", "", "path to the origins JSON file (required)")
	startCmd.Flags().StringVar(&startTrigger, "trigger", "", "trigger source recorded on the run")
	_ = startCmd.MarkFlagRequired("origins")
	rootCmd.AddCommand(startCmd)
}

// originInput is the file format for one origin. The id is the bare graph
// id; the record id is built from it.
type originInput struct {
	ID         string  `json:"id"`
	OriginType string  `json:"origin_type"`
	Title      string  `json:"title"`
	Level      int     `json:"level"`
	ParentID   *string `json:"parent_id,omitempty"`
	Context    *string `json:"context,omitempty"`
}

func runStart(cmd *cobra.Command, args []string) error {
	runID := args[0]
	ctx := context.Background()

	origins, err := loadOriginsFile(startOriginsFile)
	if err != nil {
		return err
	}
	if len(origins) == 0 {
		return fmt.Errorf("origins file %s contains no origins", startOriginsFile)
	}

	var trigger *string
	if startTrigger != "" {
		trigger = &startTrigger
	}

	run, err := svc.StartRun(ctx, runID, origins, trigger)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	fmt.Printf("Started run %s (%d origins)\n", runID, len(origins))
	fmt.Printf("  Status: %s\n", run.Status)
	fmt.Printf("\nNext: knowforge submit %s generation\n", runID)
	return nil
}

func loadOriginsFile(path string) ([]models.Origin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read origins file: %w", err)
	}

	var inputs []originInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse origins file: %w", err)
	}

	origins := make([]models.Origin, 0, len(inputs))
	for i, in := range inputs {
		if in.ID == "" {
			return nil, fmt.Errorf("origin %d has no id", i)
		}
		if in.Title == "" {
			return nil, fmt.Errorf("origin %s has no title", in.ID)
		}
		switch in.OriginType {
		case models.OriginTypeEntity, models.OriginTypeCommunity:
		case "":
			in.OriginType = models.OriginTypeEntity
		default:
			return nil, fmt.Errorf("origin %s has unknown type %q", in.ID, in.OriginType)
		}

		origins = append(origins, models.Origin{
			ID:         surrealmodels.NewRecordID("origin", in.ID),
			OriginType: in.OriginType,
			Title:      in.Title,
			Level:      in.Level,
			ParentID:   in.ParentID,
			Context:    in.Context,
		})
	}
	return origins, nil
}
