// Package equity resolves a user's equity at a point in time, caching the
// result so repeated lookups for the same (user, time) are O(1).
package equity

import (
	"context"

	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Resolver computes equity as deposits plus realized PnL up to a point in
// time. Unrealized PnL and funding are deliberately omitted — equity here
// backs the returnPct metric, not a margin/liquidation calculation.
type Resolver struct {
	repo repository.Repository
}

func New(repo repository.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the user's equity at atMs, reading a cached snapshot
// when one exists at or before atMs, and otherwise computing and caching
// deposits_up_to + realized_pnl_before.
func (r *Resolver) Resolve(ctx context.Context, user money.Address, atMs money.TimeMs) (money.Decimal, error) {
	if snap, err := r.repo.GetEquitySnapshotAtOrBefore(ctx, user, atMs); err != nil {
		return money.Zero, ledger.Internal("load equity snapshot", err)
	} else if snap != nil {
		return snap.Equity, nil
	}

	deposits, err := r.repo.SumDepositsUpTo(ctx, user, atMs)
	if err != nil {
		return money.Zero, ledger.Internal("sum deposits up to", err)
	}
	realized, err := r.repo.SumRealizedPnlBefore(ctx, user, atMs)
	if err != nil {
		return money.Zero, ledger.Internal("sum realized pnl before", err)
	}
	equity := deposits.Add(realized)

	if err := r.repo.UpsertEquitySnapshot(ctx, ledger.EquitySnapshot{User: user, TimeMs: atMs, Equity: equity}); err != nil {
		return money.Zero, ledger.Internal("cache equity snapshot", err)
	}
	return equity, nil
}
