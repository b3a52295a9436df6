package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups <run-id>",
	Short: "List a run's comparison groups",
	Long: `List the comparison groups scheduled for the difficulty batch,
grouped by Bloom level. The seed member is marked with an asterisk.

Examples:
  knowforge groups 2026-08-30`,
	Args: cobra.ExactArgs(1),
	RunE: runGroups,
}

func init() {
	rootCmd.AddCommand(groupsCmd)
}

func runGroups(cmd *cobra.Command, args []string) error {
	groups, err := svc.Groups(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	if len(groups) == 0 {
		fmt.Println("No comparison groups scheduled yet")
		return nil
	}

	byLevel := make(map[string][]models.ComparisonGroup)
	for _, g := range groups {
		byLevel[g.BloomLevel] = append(byLevel[g.BloomLevel], g)
	}

	for _, level := range models.BloomOrder {
		levelGroups, ok := byLevel[level]
		if !ok {
			continue
		}
		fmt.Printf("%s (%d groups)\n", level, len(levelGroups))
		for _, g := range levelGroups {
			members := make([]string, 0, len(g.Members))
			for _, m := range g.Members {
				name := m.OriginID
				if m.Seed {
					name += "*"
				}
				members = append(members, name)
			}
			fmt.Printf("  [%s] %s\n", g.Coherence, strings.Join(members, ", "))
		}
	}

	return nil
}
