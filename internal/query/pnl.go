package query

import (
	"context"

	"github.com/rawblock/ledger-engine/internal/equity"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// PnlMode selects whether fees are subtracted from realized PnL.
type PnlMode string

const (
	PnlGross PnlMode = "gross"
	PnlNet   PnlMode = "net"
)

// PnlResult is the /v1/pnl response body.
type PnlResult struct {
	RealizedPnl money.Decimal
	ReturnPct   money.Decimal
	FeesPaid    money.Decimal
	TradeCount  int
	Tainted     bool
}

// Pnl answers GET /v1/pnl: realized PnL (gross or net of fees) over the
// window, plus returnPct relative to either an explicit maxStartCapital
// or the resolved equity at the window start.
func (a *Aggregator) Pnl(ctx context.Context, w Window, builderOnly bool, mode PnlMode, maxStartCapital *money.Decimal, equityResolver *equity.Resolver) (PnlResult, error) {
	if err := w.validate(); err != nil {
		return PnlResult{}, err
	}
	if err := a.orc.EnsureCompiled(ctx, w.User, w.Coin, w.From, w.To); err != nil {
		return PnlResult{}, err
	}

	effects, err := a.repo.QueryEffects(ctx, w.User, w.Coin, w.From, w.To)
	if err != nil {
		return PnlResult{}, ledger.Internal("query effects", err)
	}

	closes := make([]ledger.Effect, 0, len(effects))
	for _, e := range effects {
		if e.Kind == ledger.EffectClose {
			closes = append(closes, e)
		}
	}

	tainted := false
	if builderOnly {
		ids := make([]int64, len(closes))
		for i, e := range closes {
			ids[i] = e.LifecycleID
		}
		taintedIDs, err := a.repo.QueryTaintedLifecycleIDs(ctx, ids)
		if err != nil {
			return PnlResult{}, ledger.Internal("query tainted lifecycle ids", err)
		}
		kept := closes[:0:0]
		for _, e := range closes {
			if taintedIDs[e.LifecycleID] {
				tainted = true
				continue
			}
			kept = append(kept, e)
		}
		closes = kept
	}

	pnls := make([]money.Decimal, len(closes))
	fees := make([]money.Decimal, len(closes))
	for i, e := range closes {
		pnls[i] = e.ClosedPnl
		fees[i] = e.Fee
	}
	realized := money.Sum(pnls)
	feesPaid := money.Sum(fees)
	if mode == PnlNet {
		realized = realized.Sub(feesPaid)
	}

	startCapital := money.Zero
	if maxStartCapital != nil {
		startCapital = *maxStartCapital
	} else if equityResolver != nil {
		atMs := money.TimeMs(0)
		if w.From != nil {
			atMs = *w.From
		}
		startCapital, err = equityResolver.Resolve(ctx, w.User, atMs)
		if err != nil {
			return PnlResult{}, err
		}
	}

	returnPct := money.Zero
	if startCapital.IsPositive() {
		returnPct = realized.Div(startCapital, 18).Mul(money.NewFromInt(100))
	}

	return PnlResult{
		RealizedPnl: realized,
		ReturnPct:   returnPct,
		FeesPaid:    feesPaid,
		TradeCount:  len(closes),
		Tainted:     tainted,
	}, nil
}
