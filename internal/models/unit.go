package models

import (
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// GeneratedUnit is one raw learning unit produced by the generation batch:
// one per (origin, bloom level).
type GeneratedUnit struct {
	ID         surrealmodels.RecordID `json:"id"`
	RunID      string                 `json:"pipeline_run_id"`
	OriginID   string                 `json:"origin_id"`
	BloomLevel string                 `json:"bloom_level"`
	Text       string                 `json:"uc_text"`
}

// DifficultyScore is one judged score for a unit within a comparison group,
// produced by the difficulty batch. One row per (unit, group) judgment.
type DifficultyScore struct {
	ID            surrealmodels.RecordID `json:"id"`
	RunID         string                 `json:"pipeline_run_id"`
	GroupID       string                 `json:"comparison_group_id"`
	UnitID        string                 `json:"knowledge_unit_id"`
	Score         int                    `json:"difficulty_score"`
	Justification string                 `json:"justification"`
}

// FinalUnit is a generated unit joined with its aggregated difficulty score
// at finalization. Units that never accumulated a judgment keep a nil score.
type FinalUnit struct {
	ID              surrealmodels.RecordID `json:"id"`
	RunID           string                 `json:"pipeline_run_id"`
	OriginID        string                 `json:"origin_id"`
	BloomLevel      string                 `json:"bloom_level"`
	Text            string                 `json:"uc_text"`
	DifficultyScore *int                   `json:"difficulty_score,omitempty"`
	Justification   *string                `json:"difficulty_justification,omitempty"`
	EvaluationCount int                    `json:"evaluation_count"`
}

// IngestError records one output/error line that failed correlation or
// validation during result ingestion. Lines are skipped, never fatal.
type IngestError struct {
	ID        surrealmodels.RecordID `json:"id"`
	RunID     string                 `json:"pipeline_run_id"`
	BatchType string                 `json:"batch_type"`
	RequestID string                 `json:"request_id"`
	Line      int                    `json:"line"`
	Reason    string                 `json:"reason"`
}
