package query

import (
	"context"
	"sort"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// PositionSnapshot is one row of the /v1/positions/history response.
type PositionSnapshot struct {
	TimeMs      money.TimeMs
	Coin        money.Coin
	NetSize     money.Decimal
	AvgEntryPx  money.Decimal
	LifecycleID int64
	IsTainted   bool
}

// Positions answers GET /v1/positions/history, dropping snapshots whose
// lifecycle is tainted and reporting whether any were dropped.
func (a *Aggregator) Positions(ctx context.Context, w Window, builderOnly bool) ([]PositionSnapshot, bool, error) {
	if err := w.validate(); err != nil {
		return nil, false, err
	}
	if err := a.orc.EnsureCompiled(ctx, w.User, w.Coin, w.From, w.To); err != nil {
		return nil, false, err
	}

	snaps, err := a.repo.QuerySnapshots(ctx, w.User, w.Coin, w.From, w.To)
	if err != nil {
		return nil, false, ledger.Internal("query snapshots", err)
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snapshotLess(snaps[i], snaps[j]) })

	if !builderOnly {
		out := make([]PositionSnapshot, len(snaps))
		for i, s := range snaps {
			out[i] = toPositionSnapshot(s)
		}
		return out, false, nil
	}

	ids := make([]int64, len(snaps))
	for i, s := range snaps {
		ids[i] = s.LifecycleID
	}
	tainted, err := a.repo.QueryTaintedLifecycleIDs(ctx, ids)
	if err != nil {
		return nil, false, ledger.Internal("query tainted lifecycle ids", err)
	}

	var out []PositionSnapshot
	excluded := false
	for _, s := range snaps {
		if tainted[s.LifecycleID] {
			excluded = true
			continue
		}
		out = append(out, toPositionSnapshot(s))
	}
	return out, excluded, nil
}

func toPositionSnapshot(s ledger.Snapshot) PositionSnapshot {
	return PositionSnapshot{TimeMs: s.TimeMs, Coin: s.Coin, NetSize: s.NetSize, AvgEntryPx: s.AvgEntryPx, LifecycleID: s.LifecycleID, IsTainted: s.IsTainted}
}

func snapshotLess(a, b ledger.Snapshot) bool {
	if a.TimeMs != b.TimeMs {
		return a.TimeMs < b.TimeMs
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if a.Coin != b.Coin {
		return a.Coin < b.Coin
	}
	return a.LifecycleID < b.LifecycleID
}
