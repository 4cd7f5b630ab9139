package query

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/ledger-engine/internal/equity"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// maxConcurrentLeaderboardUsers bounds the errgroup fan-out across the
// configured leaderboard participants.
const maxConcurrentLeaderboardUsers = 8

// Metric selects the leaderboard ranking value.
type Metric string

const (
	MetricVolume    Metric = "volume"
	MetricPnl       Metric = "pnl"
	MetricReturnPct Metric = "returnPct"
)

// LeaderboardRow is one ranked entry of the /v1/leaderboard response.
type LeaderboardRow struct {
	Rank        int
	User        money.Address
	MetricValue money.Decimal
	TradeCount  int
	Tainted     bool
}

// Leaderboard computes the ranked metric for every configured user
// concurrently, then sorts by (metric desc, trade_count desc, address asc).
func (a *Aggregator) Leaderboard(ctx context.Context, users []money.Address, coin *money.Coin, from, to *money.TimeMs,
	builderOnly bool, metric Metric, maxStartCapital *money.Decimal, resolver *equity.Resolver) ([]LeaderboardRow, error) {
	if metric != MetricVolume && metric != MetricPnl && metric != MetricReturnPct {
		return nil, ledger.BadRequest(fmt.Sprintf("unknown leaderboard metric %q", metric))
	}

	rows := make([]LeaderboardRow, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLeaderboardUsers)
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			row, err := a.leaderboardRowFor(gctx, u, coin, from, to, builderOnly, metric, maxStartCapital, resolver)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].MetricValue.Equal(rows[j].MetricValue) {
			return rows[i].MetricValue.GreaterThan(rows[j].MetricValue)
		}
		if rows[i].TradeCount != rows[j].TradeCount {
			return rows[i].TradeCount > rows[j].TradeCount
		}
		return rows[i].User < rows[j].User
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

func (a *Aggregator) leaderboardRowFor(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs,
	builderOnly bool, metric Metric, maxStartCapital *money.Decimal, resolver *equity.Resolver) (LeaderboardRow, error) {
	w := Window{User: user, Coin: coin, From: from, To: to}

	switch metric {
	case MetricVolume:
		trades, tainted, err := a.Trades(ctx, w, builderOnly)
		if err != nil {
			return LeaderboardRow{}, err
		}
		notionals := make([]money.Decimal, len(trades))
		for i, t := range trades {
			notionals[i] = t.Px.Mul(t.Sz)
		}
		return LeaderboardRow{User: user, MetricValue: money.Sum(notionals), TradeCount: len(trades), Tainted: tainted}, nil

	case MetricPnl:
		pnl, err := a.Pnl(ctx, w, builderOnly, PnlGross, maxStartCapital, resolver)
		if err != nil {
			return LeaderboardRow{}, err
		}
		return LeaderboardRow{User: user, MetricValue: pnl.RealizedPnl, TradeCount: pnl.TradeCount, Tainted: pnl.Tainted}, nil

	case MetricReturnPct:
		pnl, err := a.Pnl(ctx, w, builderOnly, PnlGross, maxStartCapital, resolver)
		if err != nil {
			return LeaderboardRow{}, err
		}
		return LeaderboardRow{User: user, MetricValue: pnl.ReturnPct, TradeCount: pnl.TradeCount, Tainted: pnl.Tainted}, nil
	}
	return LeaderboardRow{}, ledger.Internal("unreachable metric branch", nil)
}
