// Package models defines data structures for the Knowforge pipeline.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Pipeline run lifecycle statuses.
const (
	RunStatusRunning        = "running"
	RunStatusSuccess        = "success"
	RunStatusFinalizeFailed = "finalize_failed"
)

// PipelineRun scopes every other record: origins, jobs, groups, units and
// scores all carry its run id.
type PipelineRun struct {
	ID            surrealmodels.RecordID `json:"id"`
	Status        string                 `json:"status"`
	TriggerSource *string                `json:"trigger_source,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}
