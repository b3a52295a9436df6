package ingest

import (
	"math"
	"strings"

	"github.com/raphaelgruber/knowforge-go/internal/models"
)

// Aggregated is one unit's representative difficulty across all the groups
// it was judged in.
type Aggregated struct {
	Score           int
	Justification   string
	EvaluationCount int
}

// AggregatePolicy reduces a unit's judgments to one representative score.
// The slice is never empty.
type AggregatePolicy func(scores []models.DifficultyScore) Aggregated

// MeanPolicy is the default policy: rounded arithmetic mean of the scores,
// justifications concatenated in judgment order.
func MeanPolicy(scores []models.DifficultyScore) Aggregated {
	sum := 0
	justifications := make([]string, 0, len(scores))
	for _, s := range scores {
		sum += s.Score
		if s.Justification != "" {
			justifications = append(justifications, s.Justification)
		}
	}
	if len(justifications) == 0 {
		justifications = []string{"N/A"}
	}
	return Aggregated{
		Score:           int(math.Round(float64(sum) / float64(len(scores)))),
		Justification:   strings.Join(justifications, " | "),
		EvaluationCount: len(scores),
	}
}

// AggregateByUnit groups judgments by knowledge unit and applies the policy
// to each. Units with no judgments are simply absent from the result.
func AggregateByUnit(scores []models.DifficultyScore, policy AggregatePolicy) map[string]Aggregated {
	if policy == nil {
		policy = MeanPolicy
	}
	byUnit := make(map[string][]models.DifficultyScore)
	for _, s := range scores {
		byUnit[s.UnitID] = append(byUnit[s.UnitID], s)
	}
	result := make(map[string]Aggregated, len(byUnit))
	for unitID, unitScores := range byUnit {
		result[unitID] = policy(unitScores)
	}
	return result
}
