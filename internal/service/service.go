// Package service implements the pipeline operations the CLI exposes:
// run management, batch submission, polling, processing and finalization.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/knowforge-go/internal/config"
	"github.com/raphaelgruber/knowforge-go/internal/coordinator"
	"github.com/raphaelgruber/knowforge-go/internal/ingest"
	"github.com/raphaelgruber/knowforge-go/internal/models"
)

// Store is the persistence surface the service needs beyond what the
// coordinator already owns.
type Store interface {
	CreateRun(ctx context.Context, runID string, triggerSource *string) (*models.PipelineRun, error)
	GetRun(ctx context.Context, runID string) (*models.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, runID, status string) error

	InsertOrigins(ctx context.Context, origins []models.Origin) error
	LoadOrigins(ctx context.Context, runID string) ([]models.Origin, error)

	SaveComparisonGroups(ctx context.Context, groups []models.ComparisonGroup) error
	ListComparisonGroups(ctx context.Context, runID string) ([]models.ComparisonGroup, error)

	ListJobs(ctx context.Context, runID string) ([]models.BatchJob, error)
	ListGeneratedUnits(ctx context.Context, runID string) ([]models.GeneratedUnit, error)
	ListDifficultyScores(ctx context.Context, runID string) ([]models.DifficultyScore, error)
	ListIngestErrors(ctx context.Context, runID string) ([]models.IngestError, error)

	FinalizeRun(ctx context.Context, runID string, units []models.FinalUnit) error
	ListFinalUnits(ctx context.Context, runID string) ([]models.FinalUnit, error)
}

// Service wires the pipeline together.
type Service struct {
	store     Store
	coord     *coordinator.Coordinator
	cfg       config.Config
	logger    *slog.Logger
	aggregate ingest.AggregatePolicy
}

// New creates a service. The aggregation policy defaults to the rounded
// mean when nil.
func New(store Store, coord *coordinator.Coordinator, cfg config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     store,
		coord:     coord,
		cfg:       cfg,
		logger:    log,
		aggregate: ingest.MeanPolicy,
	}
}

// StartRun creates a pipeline run and registers its origins. MaxOrigins,
// when set, trims the origin set for smoke runs before anything is
// persisted.
func (s *Service) StartRun(ctx context.Context, runID string, origins []models.Origin, triggerSource *string) (*models.PipelineRun, error) {
	if existing, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}

	if s.cfg.MaxOrigins > 0 && len(origins) > s.cfg.MaxOrigins {
		s.logger.Warn("Trimming origin set",
			slog.String("run_id", runID),
			slog.Int("total", len(origins)),
			slog.Int("limit", s.cfg.MaxOrigins))
		origins = origins[:s.cfg.MaxOrigins]
	}
	for i := range origins {
		origins[i].RunID = runID
	}

	run, err := s.store.CreateRun(ctx, runID, triggerSource)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertOrigins(ctx, origins); err != nil {
		return nil, fmt.Errorf("register origins: %w", err)
	}

	s.logger.Info("Started pipeline run",
		slog.String("run_id", runID),
		slog.Int("origins", len(origins)))
	return run, nil
}

// RunStatus is a run snapshot for status reporting.
type RunStatus struct {
	Run          *models.PipelineRun
	Jobs         []models.BatchJob
	Origins      int
	Groups       int
	Units        int
	Scores       int
	FinalUnits   int
	IngestErrors int
}

// Status collects a run's current state across every table.
func (s *Service) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	jobs, err := s.store.ListJobs(ctx, runID)
	if err != nil {
		return nil, err
	}
	origins, err := s.store.LoadOrigins(ctx, runID)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.ListComparisonGroups(ctx, runID)
	if err != nil {
		return nil, err
	}
	units, err := s.store.ListGeneratedUnits(ctx, runID)
	if err != nil {
		return nil, err
	}
	scores, err := s.store.ListDifficultyScores(ctx, runID)
	if err != nil {
		return nil, err
	}
	finalUnits, err := s.store.ListFinalUnits(ctx, runID)
	if err != nil {
		return nil, err
	}
	ingestErrs, err := s.store.ListIngestErrors(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &RunStatus{
		Run:          run,
		Jobs:         jobs,
		Origins:      len(origins),
		Groups:       len(groups),
		Units:        len(units),
		Scores:       len(scores),
		FinalUnits:   len(finalUnits),
		IngestErrors: len(ingestErrs),
	}, nil
}

// Jobs lists the run's batch jobs.
func (s *Service) Jobs(ctx context.Context, runID string) ([]models.BatchJob, error) {
	return s.store.ListJobs(ctx, runID)
}

// Groups lists the run's comparison groups.
func (s *Service) Groups(ctx context.Context, runID string) ([]models.ComparisonGroup, error) {
	return s.store.ListComparisonGroups(ctx, runID)
}

// IngestErrors lists the failure records collected while processing the
// run's result files.
func (s *Service) IngestErrors(ctx context.Context, runID string) ([]models.IngestError, error) {
	return s.store.ListIngestErrors(ctx, runID)
}

// FinalUnits lists the run's consolidated output.
func (s *Service) FinalUnits(ctx context.Context, runID string) ([]models.FinalUnit, error) {
	return s.store.ListFinalUnits(ctx, runID)
}
