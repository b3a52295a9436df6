package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobStatus is the batch job state-machine field. Transitions move forward
// only, and every transition is applied as a conditional update against the
// store (see db.CASUpdateJobStatus).
type JobStatus string

const (
	JobStatusPendingSubmission JobStatus = "pending_submission"
	JobStatusSubmitted         JobStatus = "submitted"
	JobStatusPendingProcessing JobStatus = "pending_processing"
	JobStatusProcessing        JobStatus = "processing"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusSubmissionFailed  JobStatus = "submission_failed"
	JobStatusProcessingFailed  JobStatus = "processing_failed"
)

// Terminal reports whether no further transitions are expected from s.
// PROCESSING_FAILED is not terminal: process may be re-invoked against the
// already-recorded output files.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusSubmissionFailed
}

// Batch types, one job per (run, type).
const (
	BatchTypeGeneration = "uc_generation"
	BatchTypeDifficulty = "uc_difficulty"
)

// BatchJob tracks one provider batch job through submit/poll/process.
// (pipeline_run_id, batch_type) is unique in the store.
type BatchJob struct {
	ID              surrealmodels.RecordID `json:"id"`
	RunID           string                 `json:"pipeline_run_id"`
	BatchType       string                 `json:"batch_type"`
	Status          JobStatus              `json:"status"`
	ProviderBatchID *string                `json:"provider_batch_id,omitempty"`
	OutputFileID    *string                `json:"output_file_id,omitempty"`
	ErrorFileID     *string                `json:"error_file_id,omitempty"`
	LastError       *string                `json:"last_error,omitempty"`
	Attempts        int                    `json:"attempts"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}
