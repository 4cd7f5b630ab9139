// Package query derives the four read-side responses (trades, positions
// history, PnL, deposits) and the leaderboard from repository rows,
// applying the builderOnly taint filter each response shares.
package query

import (
	"context"
	"sort"

	"github.com/rawblock/ledger-engine/internal/orchestrator"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Window is the common (user, coin?, fromMs?, toMs?) query filter.
type Window struct {
	User money.Address
	Coin *money.Coin
	From *money.TimeMs
	To   *money.TimeMs
}

func (w Window) validate() error {
	if w.From != nil && w.To != nil && *w.From > *w.To {
		return ledger.BadRequest("fromMs must not be greater than toMs")
	}
	return nil
}

// Trade is one row of the /v1/trades response.
type Trade struct {
	TimeMs    money.TimeMs
	Coin      money.Coin
	Side      money.Side
	Px        money.Decimal
	Sz        money.Decimal
	Fee       money.Decimal
	ClosedPnl money.Decimal
	Builder   *money.Address
}

// Aggregator bundles the collaborators every query operation needs:
// compilation-on-read via the orchestrator, then repository reads.
type Aggregator struct {
	orc  *orchestrator.Orchestrator
	repo repository.Repository
}

func New(orc *orchestrator.Orchestrator, repo repository.Repository) *Aggregator {
	return &Aggregator{orc: orc, repo: repo}
}

// Trades answers GET /v1/trades. Only fills with a true attribution are
// kept when builderOnly is set; tainted reports whether any fill in the
// window was excluded by that filter.
func (a *Aggregator) Trades(ctx context.Context, w Window, builderOnly bool) ([]Trade, bool, error) {
	if err := w.validate(); err != nil {
		return nil, false, err
	}
	if err := a.orc.EnsureCompiled(ctx, w.User, w.Coin, w.From, w.To); err != nil {
		return nil, false, err
	}

	fills, err := a.repo.QueryFills(ctx, w.User, w.Coin, w.From, w.To)
	if err != nil {
		return nil, false, ledger.Internal("query fills", err)
	}
	sort.SliceStable(fills, func(i, j int) bool { return fillLess(fills[i], fills[j]) })

	fillKeys := make([]string, len(fills))
	for i, f := range fills {
		fillKeys[i] = f.FillKey
	}
	attrs, err := a.repo.QueryAttributionsFull(ctx, fillKeys)
	if err != nil {
		return nil, false, ledger.Internal("query attributions", err)
	}

	var trades []Trade
	excluded := false
	for _, f := range fills {
		if !builderOnly {
			trades = append(trades, toTrade(f, attrs[f.FillKey]))
			continue
		}
		attr, ok := attrs[f.FillKey]
		if !ok || !attr.Attributed {
			excluded = true
			continue
		}
		trades = append(trades, toTrade(f, attr))
	}
	return trades, excluded, nil
}

func toTrade(f ledger.Fill, a ledger.Attribution) Trade {
	t := Trade{TimeMs: f.TimeMs, Coin: f.Coin, Side: f.Side, Px: f.Px, Sz: f.Sz, Fee: f.Fee, ClosedPnl: f.ClosedPnl}
	// The service only names a builder it actually matched via logs; a
	// Heuristic "yes" is not proof of identity (see §4.5).
	if a.Mode == ledger.ModeLogs {
		t.Builder = a.Builder
	}
	return t
}

func fillLess(a, b ledger.Fill) bool {
	if a.TimeMs != b.TimeMs {
		return a.TimeMs < b.TimeMs
	}
	if cmp := strPtrCompare(a.Tid, b.Tid); cmp != 0 {
		return cmp < 0
	}
	if cmp := strPtrCompare(a.Oid, b.Oid); cmp != 0 {
		return cmp < 0
	}
	return a.FillKey < b.FillKey
}

func strPtrCompare(a, b *string) int {
	av, bv := "", ""
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}
