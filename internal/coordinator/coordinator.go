// Package coordinator drives provider batch jobs through their lifecycle:
// submit, poll, process. Every state transition is a conditional update
// against the store, so concurrent triggers race safely: one wins, the
// others observe the new state and report Skipped.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/knowforge-go/internal/db"
	"github.com/raphaelgruber/knowforge-go/internal/llm"
	"github.com/raphaelgruber/knowforge-go/internal/models"
)

// Store is the persistence surface the coordinator needs.
type Store interface {
	CreateOrGetJob(ctx context.Context, runID, batchType string) (*models.BatchJob, bool, error)
	GetJob(ctx context.Context, runID, batchType string) (*models.BatchJob, error)
	CASUpdateJobStatus(ctx context.Context, jobID string, expected, next models.JobStatus, fields db.JobFields) (*models.BatchJob, error)
}

// Ingestor turns downloaded result files into persisted domain records.
type Ingestor interface {
	Ingest(ctx context.Context, runID, batchType string, output, errorFile []byte) error
}

// Coordinator implements the batch job lifecycle. It owns no timers and
// holds no authoritative state between calls; an external caller invokes
// its operations on whatever cadence it likes.
type Coordinator struct {
	store    Store
	client   llm.BatchClient
	ingestor Ingestor
	logger   *slog.Logger
}

// New creates a coordinator.
func New(store Store, client llm.BatchClient, ingestor Ingestor, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: store, client: client, ingestor: ingestor, logger: log}
}

// Submit creates (or finds) the job for (run, batchType) and, if it is
// pending submission or failed a previous submission, uploads the requests
// and creates the provider batch. Re-invocations after a successful submit
// return Skipped with the already-recorded provider batch id and never
// touch the provider again.
func (c *Coordinator) Submit(ctx context.Context, runID, batchType string, requests []llm.BatchRequest) (Outcome, error) {
	job, created, err := c.store.CreateOrGetJob(ctx, runID, batchType)
	if err != nil {
		return Outcome{}, fmt.Errorf("submit %s/%s: %w", runID, batchType, err)
	}

	if !created && job.Status != models.JobStatusPendingSubmission && job.Status != models.JobStatusSubmissionFailed {
		return skipped(job, fmt.Sprintf("job already %s", job.Status)), nil
	}
	if len(requests) == 0 {
		return skipped(job, "nothing to submit"), nil
	}

	log := c.logger.With(
		slog.String("run_id", runID),
		slog.String("batch_type", batchType))

	fileID, err := c.client.UploadBatchFile(ctx, requests)
	if err != nil {
		return c.failSubmission(ctx, job, fmt.Errorf("upload batch file: %w", llm.WrapFatalError(err)))
	}

	batchID, err := c.client.CreateBatch(ctx, fileID)
	if err != nil {
		return c.failSubmission(ctx, job, fmt.Errorf("create batch: %w", llm.WrapFatalError(err)))
	}

	updated, err := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(job.ID),
		job.Status, models.JobStatusSubmitted,
		db.JobFields{ProviderBatchID: &batchID, IncrementAttempts: true})
	if errors.Is(err, db.ErrConcurrencyConflict) {
		// A concurrent submit won the transition; its batch is authoritative.
		log.Warn("Lost submit race, discarding duplicate provider batch",
			slog.String("duplicate_batch_id", batchID))
		return skipped(updated, "job state changed concurrently"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("submit %s/%s: %w", runID, batchType, err)
	}

	log.Info("Submitted provider batch",
		slog.String("provider_batch_id", batchID),
		slog.Int("requests", len(requests)))
	return submitted(updated), nil
}

// failSubmission records a submission failure. No provider artifact exists
// to retry against, so the job only moves again on an explicit re-submit.
func (c *Coordinator) failSubmission(ctx context.Context, job *models.BatchJob, cause error) (Outcome, error) {
	reason := cause.Error()
	updated, err := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(job.ID),
		job.Status, models.JobStatusSubmissionFailed,
		db.JobFields{LastError: &reason, IncrementAttempts: true})
	if errors.Is(err, db.ErrConcurrencyConflict) {
		return skipped(updated, "job state changed concurrently"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("record submission failure: %w (original: %s)", err, reason)
	}
	c.logger.Error("Batch submission failed",
		slog.String("run_id", job.RunID),
		slog.String("batch_type", job.BatchType),
		slog.String("error", reason))
	return failed(updated, reason), nil
}

// Poll queries the provider for a submitted job's status. A job in any
// other state maps to the matching outcome without touching the provider,
// so callers can poll blindly.
func (c *Coordinator) Poll(ctx context.Context, runID, batchType string) (Outcome, error) {
	job, err := c.store.GetJob(ctx, runID, batchType)
	if err != nil {
		return Outcome{}, fmt.Errorf("poll %s/%s: %w", runID, batchType, err)
	}
	if job == nil {
		return Outcome{}, fmt.Errorf("poll %s/%s: %w", runID, batchType, db.ErrNotFound)
	}

	switch job.Status {
	case models.JobStatusSubmitted:
		// fall through to the provider query below
	case models.JobStatusPendingSubmission:
		return skipped(job, "job not submitted yet"), nil
	case models.JobStatusPendingProcessing, models.JobStatusProcessing:
		return processing(job), nil
	case models.JobStatusCompleted:
		return completed(job), nil
	default:
		return failed(job, lastError(job)), nil
	}

	if job.ProviderBatchID == nil {
		return Outcome{}, fmt.Errorf("poll %s/%s: submitted job has no provider batch id", runID, batchType)
	}

	status, err := c.client.GetBatchStatus(ctx, *job.ProviderBatchID)
	if err != nil {
		// Transient: leave the job untouched, the caller polls again later.
		return failed(job, err.Error()), fmt.Errorf("poll %s/%s: %w", runID, batchType, err)
	}

	c.logger.Info("Polled provider batch",
		slog.String("run_id", runID),
		slog.String("batch_type", batchType),
		slog.String("provider_status", status.Status))

	switch {
	case status.Status == llm.BatchStatusCompleted:
		updated, casErr := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(job.ID),
			models.JobStatusSubmitted, models.JobStatusPendingProcessing,
			db.JobFields{OutputFileID: status.OutputFileID, ErrorFileID: status.ErrorFileID})
		if errors.Is(casErr, db.ErrConcurrencyConflict) {
			return skipped(updated, "job state changed concurrently"), nil
		}
		if casErr != nil {
			return Outcome{}, fmt.Errorf("poll %s/%s: %w", runID, batchType, casErr)
		}
		return processing(updated), nil

	case status.Done():
		reason := fmt.Sprintf("provider reported %s", status.Status)
		updated, casErr := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(job.ID),
			models.JobStatusSubmitted, models.JobStatusSubmissionFailed,
			db.JobFields{LastError: &reason})
		if errors.Is(casErr, db.ErrConcurrencyConflict) {
			return skipped(updated, "job state changed concurrently"), nil
		}
		if casErr != nil {
			return Outcome{}, fmt.Errorf("poll %s/%s: %w", runID, batchType, casErr)
		}
		return failed(updated, reason), nil

	default:
		// validating / in_progress / finalizing: poll again later.
		return submitted(job), nil
	}
}

// Process downloads a finished job's result files and hands them to the
// ingestor. A completed job returns Skipped without any writes; a failed
// processing attempt keeps the file references so the retry does not
// re-poll the provider.
func (c *Coordinator) Process(ctx context.Context, runID, batchType string) (Outcome, error) {
	job, err := c.store.GetJob(ctx, runID, batchType)
	if err != nil {
		return Outcome{}, fmt.Errorf("process %s/%s: %w", runID, batchType, err)
	}
	if job == nil {
		return Outcome{}, fmt.Errorf("process %s/%s: %w", runID, batchType, db.ErrNotFound)
	}

	switch job.Status {
	case models.JobStatusCompleted:
		return skipped(job, "job already completed"), nil
	case models.JobStatusPendingProcessing, models.JobStatusProcessingFailed:
		// eligible
	default:
		return skipped(job, fmt.Sprintf("job is %s, not ready for processing", job.Status)), nil
	}

	claimed, err := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(job.ID),
		job.Status, models.JobStatusProcessing, db.JobFields{})
	if errors.Is(err, db.ErrConcurrencyConflict) {
		return skipped(claimed, "job state changed concurrently"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("process %s/%s: %w", runID, batchType, err)
	}

	if claimed.OutputFileID == nil {
		return c.failProcessing(ctx, claimed, fmt.Errorf("job has no output file id"))
	}

	output, err := c.client.ReadFile(ctx, *claimed.OutputFileID)
	if err != nil {
		return c.failProcessing(ctx, claimed, fmt.Errorf("read output file: %w", err))
	}

	var errorFile []byte
	if claimed.ErrorFileID != nil {
		errorFile, err = c.client.ReadFile(ctx, *claimed.ErrorFileID)
		if err != nil {
			// Provider error files are advisory; the output file is the
			// authoritative result set.
			c.logger.Warn("Could not read batch error file",
				slog.String("run_id", runID),
				slog.String("error_file_id", *claimed.ErrorFileID),
				slog.String("error", err.Error()))
			errorFile = nil
		}
	}

	if err := c.ingestor.Ingest(ctx, runID, batchType, output, errorFile); err != nil {
		return c.failProcessing(ctx, claimed, fmt.Errorf("ingest results: %w", err))
	}

	updated, err := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(claimed.ID),
		models.JobStatusProcessing, models.JobStatusCompleted, db.JobFields{})
	if errors.Is(err, db.ErrConcurrencyConflict) {
		return skipped(updated, "job state changed concurrently"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("process %s/%s: %w", runID, batchType, err)
	}

	c.logger.Info("Processed batch results",
		slog.String("run_id", runID),
		slog.String("batch_type", batchType))
	return completed(updated), nil
}

// failProcessing records a retryable processing failure. File references
// stay on the job, so re-invoking Process retries from the download step.
func (c *Coordinator) failProcessing(ctx context.Context, job *models.BatchJob, cause error) (Outcome, error) {
	reason := cause.Error()
	updated, err := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(job.ID),
		models.JobStatusProcessing, models.JobStatusProcessingFailed,
		db.JobFields{LastError: &reason, IncrementAttempts: true})
	if errors.Is(err, db.ErrConcurrencyConflict) {
		return skipped(updated, "job state changed concurrently"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("record processing failure: %w (original: %s)", err, reason)
	}
	c.logger.Error("Batch processing failed",
		slog.String("run_id", job.RunID),
		slog.String("batch_type", job.BatchType),
		slog.String("error", reason))
	return failed(updated, reason), nil
}

// Abandon moves a stuck SUBMITTED job to SUBMISSION_FAILED. The provider
// offers no cancel primitive, so giving up on a batch is an explicit caller
// decision, typically after a long timeout.
func (c *Coordinator) Abandon(ctx context.Context, runID, batchType, reason string) (Outcome, error) {
	job, err := c.store.GetJob(ctx, runID, batchType)
	if err != nil {
		return Outcome{}, fmt.Errorf("abandon %s/%s: %w", runID, batchType, err)
	}
	if job == nil {
		return Outcome{}, fmt.Errorf("abandon %s/%s: %w", runID, batchType, db.ErrNotFound)
	}
	if job.Status != models.JobStatusSubmitted {
		return skipped(job, fmt.Sprintf("job is %s, only submitted jobs can be abandoned", job.Status)), nil
	}

	updated, err := c.store.CASUpdateJobStatus(ctx, models.MustRecordIDString(job.ID),
		models.JobStatusSubmitted, models.JobStatusSubmissionFailed,
		db.JobFields{LastError: &reason})
	if errors.Is(err, db.ErrConcurrencyConflict) {
		return skipped(updated, "job state changed concurrently"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("abandon %s/%s: %w", runID, batchType, err)
	}

	c.logger.Warn("Abandoned submitted batch",
		slog.String("run_id", runID),
		slog.String("batch_type", batchType),
		slog.String("reason", reason))
	return failed(updated, reason), nil
}

func lastError(job *models.BatchJob) string {
	if job.LastError != nil {
		return *job.LastError
	}
	return string(job.Status)
}
