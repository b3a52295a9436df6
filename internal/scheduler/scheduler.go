// Package scheduler partitions knowledge-unit origins into bounded
// comparison groups for relative difficulty judging. The pass is pure and
// deterministic: same origins and parameters always produce the same groups.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/raphaelgruber/knowforge-go/internal/models"
)

// Params bound one scheduling pass.
type Params struct {
	GroupSize         int // members per committed group
	TargetComparisons int // committed groups each origin should appear in
	MaxFailedAttempts int // seed attempts before an origin is given up on
}

func (p Params) validate() error {
	if p.GroupSize < 2 {
		return fmt.Errorf("group size must be at least 2, got %d", p.GroupSize)
	}
	if p.TargetComparisons < 1 {
		return fmt.Errorf("target comparisons must be at least 1, got %d", p.TargetComparisons)
	}
	if p.MaxFailedAttempts < 1 {
		return fmt.Errorf("max failed attempts must be at least 1, got %d", p.MaxFailedAttempts)
	}
	return nil
}

// Group is one committed comparison group: the seed first, then its chosen
// neighbors, in selection order.
type Group struct {
	Members   []models.GroupMember
	Coherence string
}

// Result is the outcome of one pass. ComparisonCount and FailedAttempts
// expose the per-origin counters so callers can report coverage;
// Uncovered lists origins that exhausted their seed attempts before
// reaching the comparison target.
type Result struct {
	Groups          []Group
	ComparisonCount map[string]int
	FailedAttempts  map[string]int
	Uncovered       []string
}

// passState carries the mutable counters for one pass. It is created at the
// start of Schedule and discarded with it; nothing here outlives the call.
type passState struct {
	comparisonCount map[string]int
	failedAttempts  map[string]int
}

// Schedule runs one scheduling pass over the given origins, which are
// expected to all belong to the same bloom level. It terminates for any
// finite origin set: every round either commits a group (raising member
// comparison counts) or burns a seed attempt, and both counters are capped.
func Schedule(origins []models.Origin, params Params) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}

	// Stable ordering: all tie-breaks below fall back to origin id.
	ordered := make([]models.Origin, len(origins))
	copy(ordered, origins)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Key() < ordered[j].Key()
	})

	state := passState{
		comparisonCount: make(map[string]int, len(ordered)),
		failedAttempts:  make(map[string]int, len(ordered)),
	}

	var groups []Group
	for {
		seed, ok := selectSeed(ordered, state, params)
		if !ok {
			break
		}

		members, coherence := gatherGroup(seed, ordered, state, params)
		if members == nil {
			state.failedAttempts[seed.Key()]++
			continue
		}

		groups = append(groups, Group{Members: members, Coherence: coherence})
		for _, m := range members {
			state.comparisonCount[m.OriginID]++
		}
	}

	result := &Result{
		Groups:          groups,
		ComparisonCount: state.comparisonCount,
		FailedAttempts:  state.failedAttempts,
	}
	for _, o := range ordered {
		if state.comparisonCount[o.Key()] < params.TargetComparisons {
			result.Uncovered = append(result.Uncovered, o.Key())
		}
	}
	return result, nil
}

// selectSeed picks the eligible origin with the lowest comparison count,
// ties broken by the stable id order baked into origins.
func selectSeed(origins []models.Origin, state passState, params Params) (models.Origin, bool) {
	var seed models.Origin
	found := false
	for _, o := range origins {
		key := o.Key()
		if state.comparisonCount[key] >= params.TargetComparisons {
			continue
		}
		if state.failedAttempts[key] >= params.MaxFailedAttempts {
			continue
		}
		if !found || state.comparisonCount[key] < state.comparisonCount[seed.Key()] {
			seed = o
			found = true
		}
	}
	return seed, found
}

// gatherGroup assembles a full group around the seed, siblings first, then
// any same-type same-level origin run-wide. Returns nil members when fewer
// than GroupSize-1 distinct neighbors exist.
func gatherGroup(seed models.Origin, origins []models.Origin, state passState, params Params) ([]models.GroupMember, string) {
	var siblings, globals []models.Origin
	for _, o := range origins {
		if o.Key() == seed.Key() {
			continue
		}
		if o.OriginType != seed.OriginType || o.Level != seed.Level {
			continue
		}
		if sharesParent(seed, o) {
			siblings = append(siblings, o)
		} else {
			globals = append(globals, o)
		}
	}
	sortByCount(siblings, state)
	sortByCount(globals, state)

	need := params.GroupSize - 1
	if len(siblings)+len(globals) < need {
		return nil, ""
	}

	members := []models.GroupMember{{OriginID: seed.Key(), Seed: true}}
	coherence := models.CoherenceSibling
	for _, o := range append(siblings, globals...) {
		if len(members) == params.GroupSize {
			break
		}
		members = append(members, models.GroupMember{OriginID: o.Key()})
	}
	if len(siblings) < need {
		coherence = models.CoherenceGlobal
	}
	return members, coherence
}

// sharesParent reports whether two origins have the same non-empty parent.
func sharesParent(a, b models.Origin) bool {
	if a.ParentID == nil || b.ParentID == nil {
		return false
	}
	return *a.ParentID == *b.ParentID
}

// sortByCount orders candidates by ascending comparison count, then id.
func sortByCount(candidates []models.Origin, state passState) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci := state.comparisonCount[candidates[i].Key()]
		cj := state.comparisonCount[candidates[j].Key()]
		if ci != cj {
			return ci < cj
		}
		return candidates[i].Key() < candidates[j].Key()
	})
}
