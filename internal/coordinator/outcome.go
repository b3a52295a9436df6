package coordinator

import "github.com/raphaelgruber/knowforge-go/internal/models"

// Outcome kinds. Every coordinator operation reports one explicitly;
// Skipped is a success variant so retriggered callers stay idempotent.
const (
	OutcomeSubmitted  = "submitted"
	OutcomeSkipped    = "skipped"
	OutcomeProcessing = "processing"
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
)

// Outcome is the result of one coordinator operation. Job carries the state
// observed after the operation, so callers never need a follow-up read.
type Outcome struct {
	Kind   string
	Reason string
	Job    *models.BatchJob
}

func submitted(job *models.BatchJob) Outcome {
	return Outcome{Kind: OutcomeSubmitted, Job: job}
}

func skipped(job *models.BatchJob, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason, Job: job}
}

func processing(job *models.BatchJob) Outcome {
	return Outcome{Kind: OutcomeProcessing, Job: job}
}

func completed(job *models.BatchJob) Outcome {
	return Outcome{Kind: OutcomeCompleted, Job: job}
}

func failed(job *models.BatchJob, reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Job: job}
}
