package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/raphaelgruber/knowforge-go/internal/coordinator"
	"github.com/raphaelgruber/knowforge-go/internal/ingest"
	"github.com/raphaelgruber/knowforge-go/internal/llm"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/raphaelgruber/knowforge-go/internal/prompts"
	"github.com/raphaelgruber/knowforge-go/internal/scheduler"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SubmitGeneration builds one generation request per origin and submits the
// generation batch. Safe to re-invoke: the coordinator absorbs duplicates.
func (s *Service) SubmitGeneration(ctx context.Context, runID string) (coordinator.Outcome, error) {
	origins, err := s.store.LoadOrigins(ctx, runID)
	if err != nil {
		return coordinator.Outcome{}, err
	}

	prompt, err := prompts.Load(prompts.UCGeneration)
	if err != nil {
		return coordinator.Outcome{}, err
	}

	requests := make([]llm.BatchRequest, 0, len(origins))
	for _, origin := range origins {
		contextText := "N/A"
		if origin.Context != nil && *origin.Context != "" {
			contextText = *origin.Context
		}
		user, err := prompt.RenderUser(map[string]any{
			"concept_title": origin.Title,
			"context":       contextText,
		})
		if err != nil {
			return coordinator.Outcome{}, err
		}
		requests = append(requests, llm.BatchRequest{
			CustomID:     models.GenerationRequestID(origin.Key()),
			SystemPrompt: prompt.System,
			UserPrompt:   user,
			Temperature:  s.cfg.TemperatureGeneration,
		})
	}

	return s.coord.Submit(ctx, runID, models.BatchTypeGeneration, requests)
}

// SubmitDifficulty schedules comparison groups over the generated units and
// submits the difficulty batch, one request per group. Groups are scheduled
// and persisted once; a re-invocation reuses the stored groups so the
// request payload is stable across retries.
func (s *Service) SubmitDifficulty(ctx context.Context, runID string) (coordinator.Outcome, error) {
	units, err := s.store.ListGeneratedUnits(ctx, runID)
	if err != nil {
		return coordinator.Outcome{}, err
	}
	if len(units) == 0 {
		return coordinator.Outcome{}, fmt.Errorf("run %s has no generated units to judge", runID)
	}

	groups, err := s.ensureComparisonGroups(ctx, runID, units)
	if err != nil {
		return coordinator.Outcome{}, err
	}

	prompt, err := prompts.Load(prompts.UCDifficulty)
	if err != nil {
		return coordinator.Outcome{}, err
	}

	// unit lookup: origin -> bloom level -> unit
	unitsByOrigin := make(map[string]map[string]models.GeneratedUnit)
	for _, u := range units {
		if unitsByOrigin[u.OriginID] == nil {
			unitsByOrigin[u.OriginID] = make(map[string]models.GeneratedUnit)
		}
		unitsByOrigin[u.OriginID][u.BloomLevel] = u
	}

	requests := make([]llm.BatchRequest, 0, len(groups))
	for _, group := range groups {
		batchText, ok := s.formatGroupUnits(group, unitsByOrigin)
		if !ok {
			continue
		}
		user, err := prompt.RenderUser(map[string]any{"batch_of_ucs": batchText})
		if err != nil {
			return coordinator.Outcome{}, err
		}
		requests = append(requests, llm.BatchRequest{
			CustomID:     models.DifficultyRequestID(models.MustRecordIDString(group.ID)),
			SystemPrompt: prompt.System,
			UserPrompt:   user,
			Temperature:  s.cfg.TemperatureDifficulty,
		})
	}

	return s.coord.Submit(ctx, runID, models.BatchTypeDifficulty, requests)
}

// ensureComparisonGroups returns the run's stored groups, scheduling and
// persisting them on first call. One scheduling pass runs per bloom level
// over the origins that actually produced a unit at that level.
func (s *Service) ensureComparisonGroups(ctx context.Context, runID string, units []models.GeneratedUnit) ([]models.ComparisonGroup, error) {
	existing, err := s.store.ListComparisonGroups(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	origins, err := s.store.LoadOrigins(ctx, runID)
	if err != nil {
		return nil, err
	}
	originByKey := make(map[string]models.Origin, len(origins))
	for _, o := range origins {
		originByKey[o.Key()] = o
	}

	// origins with a unit at each bloom level
	originsByLevel := make(map[string][]models.Origin)
	seen := make(map[string]bool)
	for _, u := range units {
		key := u.BloomLevel + "/" + u.OriginID
		if seen[key] {
			continue
		}
		seen[key] = true
		if origin, ok := originByKey[u.OriginID]; ok {
			originsByLevel[u.BloomLevel] = append(originsByLevel[u.BloomLevel], origin)
		}
	}

	params := scheduler.Params{
		GroupSize:         s.cfg.GroupSize,
		TargetComparisons: s.cfg.TargetComparisons,
		MaxFailedAttempts: s.cfg.MaxFailedAttempts,
	}

	var groups []models.ComparisonGroup
	for _, level := range models.BloomOrder {
		levelOrigins := originsByLevel[level]
		if len(levelOrigins) == 0 {
			continue
		}
		result, err := scheduler.Schedule(levelOrigins, params)
		if err != nil {
			return nil, fmt.Errorf("schedule %s groups: %w", level, err)
		}
		if len(result.Uncovered) > 0 {
			s.logger.Warn("Some origins could not reach the comparison target",
				slog.String("run_id", runID),
				slog.String("bloom_level", level),
				slog.Int("uncovered", len(result.Uncovered)))
		}
		for _, g := range result.Groups {
			groups = append(groups, models.ComparisonGroup{
				ID:         surrealmodels.NewRecordID("comparison_group", uuid.New().String()),
				RunID:      runID,
				BloomLevel: level,
				Coherence:  g.Coherence,
				Members:    g.Members,
			})
		}
	}

	if err := s.store.SaveComparisonGroups(ctx, groups); err != nil {
		return nil, fmt.Errorf("persist comparison groups: %w", err)
	}
	s.logger.Info("Scheduled comparison groups",
		slog.String("run_id", runID),
		slog.Int("groups", len(groups)))
	return groups, nil
}

// formatGroupUnits renders a group's units as the judging payload. A group
// whose member has no unit at the group's level is skipped entirely so the
// judge always sees a full group.
func (s *Service) formatGroupUnits(group models.ComparisonGroup, unitsByOrigin map[string]map[string]models.GeneratedUnit) (string, bool) {
	var b strings.Builder
	for _, member := range group.Members {
		unit, ok := unitsByOrigin[member.OriginID][group.BloomLevel]
		if !ok {
			s.logger.Warn("Comparison group member has no unit at group level, skipping group",
				slog.String("group_id", models.MustRecordIDString(group.ID)),
				slog.String("origin_id", member.OriginID),
				slog.String("bloom_level", group.BloomLevel))
			return "", false
		}
		fmt.Fprintf(&b, "- ID: %s\n  Texto: %s\n", models.MustRecordIDString(unit.ID), unit.Text)
	}
	return strings.TrimRight(b.String(), "\n"), true
}

// Poll forwards a poll trigger for one batch job.
func (s *Service) Poll(ctx context.Context, runID, batchType string) (coordinator.Outcome, error) {
	return s.coord.Poll(ctx, runID, batchType)
}

// Process forwards a process trigger for one batch job.
func (s *Service) Process(ctx context.Context, runID, batchType string) (coordinator.Outcome, error) {
	return s.coord.Process(ctx, runID, batchType)
}

// Abandon gives up on a stuck submitted batch.
func (s *Service) Abandon(ctx context.Context, runID, batchType, reason string) (coordinator.Outcome, error) {
	return s.coord.Abandon(ctx, runID, batchType, reason)
}

// Finalize joins generated units with their aggregated difficulty scores
// and closes the run. Units that never accumulated a judgment keep a nil
// score. Finalizing an already-successful run is a no-op.
func (s *Service) Finalize(ctx context.Context, runID string) ([]models.FinalUnit, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if run.Status == models.RunStatusSuccess {
		return s.store.ListFinalUnits(ctx, runID)
	}

	units, err := s.store.ListGeneratedUnits(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("run %s has no generated units to finalize", runID)
	}
	scores, err := s.store.ListDifficultyScores(ctx, runID)
	if err != nil {
		return nil, err
	}

	aggregated := ingest.AggregateByUnit(scores, s.aggregate)

	finalUnits := make([]models.FinalUnit, 0, len(units))
	judged := 0
	for _, u := range units {
		fu := models.FinalUnit{
			ID:         surrealmodels.NewRecordID("final_unit", uuid.New().String()),
			RunID:      runID,
			OriginID:   u.OriginID,
			BloomLevel: u.BloomLevel,
			Text:       u.Text,
		}
		if agg, ok := aggregated[models.MustRecordIDString(u.ID)]; ok {
			score := agg.Score
			justification := agg.Justification
			fu.DifficultyScore = &score
			fu.Justification = &justification
			fu.EvaluationCount = agg.EvaluationCount
			judged++
		}
		finalUnits = append(finalUnits, fu)
	}

	if err := s.store.FinalizeRun(ctx, runID, finalUnits); err != nil {
		if statusErr := s.store.UpdateRunStatus(ctx, runID, models.RunStatusFinalizeFailed); statusErr != nil {
			s.logger.Error("Could not mark run finalize_failed",
				slog.String("run_id", runID),
				slog.String("error", statusErr.Error()))
		}
		return nil, fmt.Errorf("finalize run %s: %w", runID, err)
	}

	s.logger.Info("Finalized pipeline run",
		slog.String("run_id", runID),
		slog.Int("units", len(finalUnits)),
		slog.Int("judged", judged))
	return finalUnits, nil
}
