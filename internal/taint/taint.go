// Package taint propagates per-fill attribution decisions into a per-
// lifecycle boolean flag: a lifecycle is tainted the moment any fill that
// contributed an effect to it is unattributed or simply missing an
// attribution row. Unlike a proportional (haircut) model, this is an
// all-or-nothing poison model — taint has exactly one cause worth naming,
// not a ratio worth computing.
package taint

import (
	"fmt"
	"sort"

	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/pkg/ledger"
)

// Computer recomputes lifecycle taint from a fill-key→lifecycle-ids map
// (derived from a batch of newly emitted effects) and the attribution rows
// for those fill keys.
type Computer struct{}

func New() *Computer { return &Computer{} }

// Recompute returns one LifecycleTaintUpdate per distinct lifecycle id
// touched by fillLifecycles. A lifecycle is tainted if any of its
// contributing fills is unattributed or has no attribution row at all.
//
// prior carries each touched lifecycle's persisted taint as of the last
// write. Taint only ever upgrades from clean to tainted here: a lifecycle
// already tainted by a fill outside the current batch (e.g. one compiled
// in an earlier run, now out of view) stays tainted even though this
// batch's own fills are all clean.
func (c *Computer) Recompute(fillLifecycles map[string][]int64, attrs map[string]ledger.Attribution, prior map[int64]repository.LifecycleTaintState) []repository.LifecycleTaintUpdate {
	type state struct {
		tainted bool
		reason  string
	}
	perLifecycle := make(map[int64]*state)

	seed := func(lcID int64) *state {
		st, ok := perLifecycle[lcID]
		if ok {
			return st
		}
		st = &state{}
		if p, ok := prior[lcID]; ok && p.IsTainted {
			st.tainted = true
			if p.TaintReason != nil {
				st.reason = *p.TaintReason
			}
		}
		perLifecycle[lcID] = st
		return st
	}

	// Deterministic iteration order so "the first offending fill" in the
	// reason string is reproducible across runs on the same input.
	fillKeys := make([]string, 0, len(fillLifecycles))
	for k := range fillLifecycles {
		fillKeys = append(fillKeys, k)
	}
	sort.Strings(fillKeys)

	for _, fillKey := range fillKeys {
		a, hasAttribution := attrs[fillKey]
		bad := !hasAttribution || !a.Attributed
		if !bad {
			for _, lcID := range fillLifecycles[fillKey] {
				seed(lcID)
			}
			continue
		}
		reason := offendingReason(fillKey, a, hasAttribution)
		for _, lcID := range fillLifecycles[fillKey] {
			st := seed(lcID)
			if !st.tainted {
				st.tainted = true
				st.reason = reason
			}
		}
	}

	lcIDs := make([]int64, 0, len(perLifecycle))
	for id := range perLifecycle {
		lcIDs = append(lcIDs, id)
	}
	sort.Slice(lcIDs, func(i, j int) bool { return lcIDs[i] < lcIDs[j] })

	updates := make([]repository.LifecycleTaintUpdate, 0, len(lcIDs))
	for _, id := range lcIDs {
		st := perLifecycle[id]
		u := repository.LifecycleTaintUpdate{LifecycleID: id, IsTainted: st.tainted}
		if st.tainted {
			reason := st.reason
			u.TaintReason = &reason
		}
		updates = append(updates, u)
	}
	return updates
}

func offendingReason(fillKey string, a ledger.Attribution, hasAttribution bool) string {
	if !hasAttribution {
		return fmt.Sprintf("fill %s has no attribution row", fillKey)
	}
	return fmt.Sprintf("fill %s not attributed (mode=%s)", fillKey, a.Mode)
}
