package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Coherence levels for a comparison group: whether its members share the
// seed's parent or were drawn run-wide.
const (
	CoherenceSibling = "sibling"
	CoherenceGlobal  = "global"
)

// GroupMember is one origin inside a comparison group. Exactly one member
// per group carries the seed flag.
type GroupMember struct {
	OriginID string `json:"origin_id"`
	Seed     bool   `json:"seed"`
}

// ComparisonGroup is a bounded set of origins judged together for relative
// difficulty at one bloom level. Membership is fixed at creation.
type ComparisonGroup struct {
	ID         surrealmodels.RecordID `json:"id"`
	RunID      string                 `json:"pipeline_run_id"`
	BloomLevel string                 `json:"bloom_level"`
	Coherence  string                 `json:"coherence_level"`
	Members    []GroupMember          `json:"members"`
	CreatedAt  time.Time              `json:"created_at"`
}
