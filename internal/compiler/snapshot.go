// Package compiler drives incremental compilation of raw fills into
// lifecycles, snapshots, and effects via the tracker state machine,
// resuming from a persisted watermark instead of replaying full history.
package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/rawblock/ledger-engine/internal/tracker"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// snapshotBlob is the on-disk JSON form of tracker.State, stored opaquely
// in compile_state.tracker_snapshot. Field names are part of the wire
// contract for any already-persisted row, so they are fixed independent
// of tracker.State's Go field names.
type snapshotBlob struct {
	HasPosition     bool          `json:"hasPosition"`
	NetSize         money.Decimal `json:"netSize"`
	AvgEntryPx      money.Decimal `json:"avgEntryPx"`
	LifecycleID     int64         `json:"lifecycleId"`
	NextLifecycleID int64         `json:"nextLifecycleId"`
}

// EncodeState serializes a tracker.State for persistence.
func EncodeState(st tracker.State) ([]byte, error) {
	blob := snapshotBlob{
		HasPosition:     st.HasPosition,
		NetSize:         st.NetSize,
		AvgEntryPx:      st.AvgEntryPx,
		LifecycleID:     st.LifecycleID,
		NextLifecycleID: st.NextLifecycleID,
	}
	b, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("compiler: encode tracker snapshot: %w", err)
	}
	return b, nil
}

// DecodeState deserializes a persisted tracker snapshot. A nil or empty
// blob decodes to the flat (never-traded) state, which is what a
// (user, coin) pair with no compile_state row should resume from.
func DecodeState(b []byte) (tracker.State, error) {
	if len(b) == 0 {
		return tracker.State{NextLifecycleID: 1}, nil
	}
	var blob snapshotBlob
	if err := json.Unmarshal(b, &blob); err != nil {
		return tracker.State{}, fmt.Errorf("compiler: decode tracker snapshot: %w", err)
	}
	return tracker.State{
		HasPosition:     blob.HasPosition,
		NetSize:         blob.NetSize,
		AvgEntryPx:      blob.AvgEntryPx,
		LifecycleID:     blob.LifecycleID,
		NextLifecycleID: blob.NextLifecycleID,
	}, nil
}
