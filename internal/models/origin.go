package models

import (
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Origin types. An origin is the graph entity or community a learning unit
// is generated about.
const (
	OriginTypeEntity    = "entity"
	OriginTypeCommunity = "community"
)

// Origin is a knowledge-unit origin extracted from the source graph.
// Immutable once created.
type Origin struct {
	ID         surrealmodels.RecordID `json:"id"`
	RunID      string                 `json:"pipeline_run_id"`
	OriginType string                 `json:"origin_type"`
	Title      string                 `json:"title"`
	Level      int                    `json:"level"`
	ParentID   *string                `json:"parent_id,omitempty"`
	Context    *string                `json:"context,omitempty"`
}

// Key returns the origin's string id, used as the stable ordering key by the
// comparison scheduler.
func (o Origin) Key() string {
	return MustRecordIDString(o.ID)
}
