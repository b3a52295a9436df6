package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/knowforge-go/internal/metrics"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// query runs a typed SurrealQL query with timing and error wrapping.
func query[T any](ctx context.Context, c *Client, sql string, vars map[string]any) (*[]surrealdb.QueryResult[T], error) {
	start := time.Now()
	res, err := surrealdb.Query[T](ctx, c.db, sql, vars)
	c.metrics.Record(metrics.OpDBQuery, time.Since(start), err)
	return res, wrapQueryError(err)
}

// first extracts the first record of the first result set, or nil.
func first[T any](res *[]surrealdb.QueryResult[[]T]) *T {
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil
	}
	return &(*res)[0].Result[0]
}

// all extracts the first result set as a slice, never nil.
func all[T any](res *[]surrealdb.QueryResult[[]T]) []T {
	if res == nil || len(*res) == 0 {
		return []T{}
	}
	return (*res)[0].Result
}

// =============================================================================
// PIPELINE RUNS
// =============================================================================

// CreateRun creates a pipeline run in status "running".
func (c *Client) CreateRun(ctx context.Context, runID string, triggerSource *string) (*models.PipelineRun, error) {
	res, err := query[[]models.PipelineRun](ctx, c, `
		CREATE type::record("pipeline_run", $id) CONTENT {
			status: "running",
			trigger_source: $trigger
		}
	`, map[string]any{"id": runID, "trigger": triggerSource})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run := first(res)
	if run == nil {
		return nil, fmt.Errorf("create run: empty result")
	}
	return run, nil
}

// GetRun retrieves a pipeline run by ID. Returns nil if not found.
func (c *Client) GetRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	res, err := query[[]models.PipelineRun](ctx, c, `
		SELECT * FROM type::record("pipeline_run", $id)
	`, map[string]any{"id": runID})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return first(res), nil
}

// UpdateRunStatus sets a run's lifecycle status; terminal statuses also set
// finished_at.
func (c *Client) UpdateRunStatus(ctx context.Context, runID, status string) error {
	sql := `UPDATE type::record("pipeline_run", $id) SET status = $status`
	if status != models.RunStatusRunning {
		sql += `, finished_at = time::now()`
	}
	_, err := query[any](ctx, c, sql, map[string]any{"id": runID, "status": status})
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// =============================================================================
// BATCH JOBS
// =============================================================================

// CreateOrGetJob atomically creates the (run, batchType) job in
// PENDING_SUBMISSION or returns the existing one. The unique index on
// (pipeline_run_id, batch_type) arbitrates concurrent callers: the loser's
// CREATE fails and it reads the winner's row. Returns created=true only for
// the caller whose insert won.
func (c *Client) CreateOrGetJob(ctx context.Context, runID, batchType string) (*models.BatchJob, bool, error) {
	res, err := query[[]models.BatchJob](ctx, c, `
		CREATE type::record("batch_job", $id) CONTENT {
			pipeline_run_id: $run,
			batch_type: $type,
			status: $status,
			attempts: 0
		}
	`, map[string]any{
		"id":     uuid.New().String(),
		"run":    runID,
		"type":   batchType,
		"status": string(models.JobStatusPendingSubmission),
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			job, getErr := c.GetJob(ctx, runID, batchType)
			if getErr != nil {
				return nil, false, getErr
			}
			if job == nil {
				return nil, false, fmt.Errorf("create or get job: %w", ErrNotFound)
			}
			return job, false, nil
		}
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	job := first(res)
	if job == nil {
		return nil, false, fmt.Errorf("create job: empty result")
	}
	return job, true, nil
}

// GetJob retrieves the job for (run, batchType). Returns nil if not found.
func (c *Client) GetJob(ctx context.Context, runID, batchType string) (*models.BatchJob, error) {
	res, err := query[[]models.BatchJob](ctx, c, `
		SELECT * FROM batch_job WHERE pipeline_run_id = $run AND batch_type = $type LIMIT 1
	`, map[string]any{"run": runID, "type": batchType})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return first(res), nil
}

// ListJobs returns all jobs for a run, newest first.
func (c *Client) ListJobs(ctx context.Context, runID string) ([]models.BatchJob, error) {
	res, err := query[[]models.BatchJob](ctx, c, `
		SELECT * FROM batch_job WHERE pipeline_run_id = $run ORDER BY created_at DESC
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return all(res), nil
}

// JobFields carries the optional fields a status transition writes along
// with the new status.
type JobFields struct {
	ProviderBatchID   *string
	OutputFileID      *string
	ErrorFileID       *string
	LastError         *string
	IncrementAttempts bool
}

// CASUpdateJobStatus applies a conditional status transition: the update only
// lands if the persisted status still equals expected. On a precondition
// mismatch it returns the current row together with ErrConcurrencyConflict so
// callers can observe who won.
func (c *Client) CASUpdateJobStatus(
	ctx context.Context,
	jobID string,
	expected, next models.JobStatus,
	fields JobFields,
) (*models.BatchJob, error) {
	set := []string{"status = $next", "updated_at = time::now()"}
	vars := map[string]any{
		"id":       jobID,
		"expected": string(expected),
		"next":     string(next),
	}
	if fields.ProviderBatchID != nil {
		set = append(set, "provider_batch_id = $provider_batch_id")
		vars["provider_batch_id"] = *fields.ProviderBatchID
	}
	if fields.OutputFileID != nil {
		set = append(set, "output_file_id = $output_file_id")
		vars["output_file_id"] = *fields.OutputFileID
	}
	if fields.ErrorFileID != nil {
		set = append(set, "error_file_id = $error_file_id")
		vars["error_file_id"] = *fields.ErrorFileID
	}
	if fields.LastError != nil {
		set = append(set, "last_error = $last_error")
		vars["last_error"] = *fields.LastError
	}
	if fields.IncrementAttempts {
		set = append(set, "attempts += 1")
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("batch_job", $id) SET %s WHERE status = $expected RETURN AFTER
	`, strings.Join(set, ", "))

	res, err := query[[]models.BatchJob](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("cas update job: %w", err)
	}
	if job := first(res); job != nil {
		return job, nil
	}

	// Zero rows: either the job is gone or someone else moved it first.
	cur, err := query[[]models.BatchJob](ctx, c, `
		SELECT * FROM type::record("batch_job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("cas update job re-read: %w", err)
	}
	job := first(cur)
	if job == nil {
		return nil, fmt.Errorf("cas update job: %w", ErrNotFound)
	}
	return job, fmt.Errorf("%w: expected %q, found %q", ErrConcurrencyConflict, expected, job.Status)
}

// =============================================================================
// ORIGINS
// =============================================================================

// InsertOrigins bulk-inserts origins for a run in one transaction.
func (c *Client) InsertOrigins(ctx context.Context, origins []models.Origin) error {
	if len(origins) == 0 {
		return nil
	}
	_, err := query[any](ctx, c, `
		BEGIN TRANSACTION;
		INSERT INTO origin $origins;
		COMMIT TRANSACTION;
	`, map[string]any{"origins": origins})
	if err != nil {
		return fmt.Errorf("insert origins: %w", err)
	}
	return nil
}

// LoadOrigins returns all origins for a run in stable id order, the ordering
// the comparison scheduler's determinism depends on.
func (c *Client) LoadOrigins(ctx context.Context, runID string) ([]models.Origin, error) {
	res, err := query[[]models.Origin](ctx, c, `
		SELECT * FROM origin WHERE pipeline_run_id = $run ORDER BY id
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("load origins: %w", err)
	}
	return all(res), nil
}

// =============================================================================
// COMPARISON GROUPS
// =============================================================================

// SaveComparisonGroups persists a scheduler output as one transaction.
// Groups are immutable after this point.
func (c *Client) SaveComparisonGroups(ctx context.Context, groups []models.ComparisonGroup) error {
	if len(groups) == 0 {
		return nil
	}
	_, err := query[any](ctx, c, `
		BEGIN TRANSACTION;
		INSERT INTO comparison_group $groups;
		COMMIT TRANSACTION;
	`, map[string]any{"groups": groups})
	if err != nil {
		return fmt.Errorf("save comparison groups: %w", err)
	}
	return nil
}

// ListComparisonGroups returns all comparison groups for a run.
func (c *Client) ListComparisonGroups(ctx context.Context, runID string) ([]models.ComparisonGroup, error) {
	res, err := query[[]models.ComparisonGroup](ctx, c, `
		SELECT * FROM comparison_group WHERE pipeline_run_id = $run ORDER BY id
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list comparison groups: %w", err)
	}
	return all(res), nil
}

// =============================================================================
// BATCH RESULTS
// =============================================================================

// SaveGeneratedUnits persists one generation batch's parsed units plus its
// per-line ingestion errors atomically: a crash mid-ingestion leaves neither.
func (c *Client) SaveGeneratedUnits(ctx context.Context, units []models.GeneratedUnit, ingestErrs []models.IngestError) error {
	if len(units) == 0 && len(ingestErrs) == 0 {
		return nil
	}
	stmts := []string{"BEGIN TRANSACTION;"}
	vars := map[string]any{}
	if len(units) > 0 {
		stmts = append(stmts, "INSERT INTO generated_unit $units;")
		vars["units"] = units
	}
	if len(ingestErrs) > 0 {
		stmts = append(stmts, "INSERT INTO ingest_error $errs;")
		vars["errs"] = ingestErrs
	}
	stmts = append(stmts, "COMMIT TRANSACTION;")

	_, err := query[any](ctx, c, strings.Join(stmts, "\n"), vars)
	if err != nil {
		return fmt.Errorf("save generated units: %w", err)
	}
	return nil
}

// SaveDifficultyScores persists one difficulty batch's parsed scores plus its
// per-line ingestion errors atomically.
func (c *Client) SaveDifficultyScores(ctx context.Context, scores []models.DifficultyScore, ingestErrs []models.IngestError) error {
	if len(scores) == 0 && len(ingestErrs) == 0 {
		return nil
	}
	stmts := []string{"BEGIN TRANSACTION;"}
	vars := map[string]any{}
	if len(scores) > 0 {
		stmts = append(stmts, "INSERT INTO difficulty_score $scores;")
		vars["scores"] = scores
	}
	if len(ingestErrs) > 0 {
		stmts = append(stmts, "INSERT INTO ingest_error $errs;")
		vars["errs"] = ingestErrs
	}
	stmts = append(stmts, "COMMIT TRANSACTION;")

	_, err := query[any](ctx, c, strings.Join(stmts, "\n"), vars)
	if err != nil {
		return fmt.Errorf("save difficulty scores: %w", err)
	}
	return nil
}

// ListGeneratedUnits returns all raw generated units for a run.
func (c *Client) ListGeneratedUnits(ctx context.Context, runID string) ([]models.GeneratedUnit, error) {
	res, err := query[[]models.GeneratedUnit](ctx, c, `
		SELECT * FROM generated_unit WHERE pipeline_run_id = $run ORDER BY id
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list generated units: %w", err)
	}
	return all(res), nil
}

// ListDifficultyScores returns all raw difficulty judgments for a run.
func (c *Client) ListDifficultyScores(ctx context.Context, runID string) ([]models.DifficultyScore, error) {
	res, err := query[[]models.DifficultyScore](ctx, c, `
		SELECT * FROM difficulty_score WHERE pipeline_run_id = $run ORDER BY id
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list difficulty scores: %w", err)
	}
	return all(res), nil
}

// ListIngestErrors returns recorded per-line ingestion errors for a run.
func (c *Client) ListIngestErrors(ctx context.Context, runID string) ([]models.IngestError, error) {
	res, err := query[[]models.IngestError](ctx, c, `
		SELECT * FROM ingest_error WHERE pipeline_run_id = $run ORDER BY line
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list ingest errors: %w", err)
	}
	return all(res), nil
}

// =============================================================================
// FINALIZATION
// =============================================================================

// FinalizeRun writes the final units and flips the run to "success" in one
// transaction, so a half-finalized run can never look complete.
func (c *Client) FinalizeRun(ctx context.Context, runID string, units []models.FinalUnit) error {
	stmts := []string{"BEGIN TRANSACTION;"}
	vars := map[string]any{"run": runID}
	if len(units) > 0 {
		stmts = append(stmts, "INSERT INTO final_unit $units;")
		vars["units"] = units
	}
	stmts = append(stmts,
		`UPDATE type::record("pipeline_run", $run) SET status = "success", finished_at = time::now();`,
		"COMMIT TRANSACTION;")

	_, err := query[any](ctx, c, strings.Join(stmts, "\n"), vars)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return nil
}

// ListFinalUnits returns the finalized units for a run.
func (c *Client) ListFinalUnits(ctx context.Context, runID string) ([]models.FinalUnit, error) {
	res, err := query[[]models.FinalUnit](ctx, c, `
		SELECT * FROM final_unit WHERE pipeline_run_id = $run ORDER BY origin_id, bloom_level
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list final units: %w", err)
	}
	return all(res), nil
}
