package api

import (
	"github.com/rawblock/ledger-engine/internal/query"
	"github.com/rawblock/ledger-engine/pkg/money"
)

type tradeDTO struct {
	TimeMs    money.TimeMs   `json:"timeMs"`
	Coin      money.Coin     `json:"coin"`
	Side      money.Side     `json:"side"`
	Px        money.Decimal  `json:"px"`
	Sz        money.Decimal  `json:"sz"`
	Fee       money.Decimal  `json:"fee"`
	ClosedPnl money.Decimal  `json:"closedPnl"`
	Builder   *money.Address `json:"builder,omitempty"`
}

type tradesResponse struct {
	Trades  []tradeDTO `json:"trades"`
	Tainted bool       `json:"tainted,omitempty"`
}

func toTradesResponse(trades []query.Trade, tainted bool) tradesResponse {
	out := make([]tradeDTO, len(trades))
	for i, t := range trades {
		out[i] = tradeDTO{TimeMs: t.TimeMs, Coin: t.Coin, Side: t.Side, Px: t.Px, Sz: t.Sz, Fee: t.Fee, ClosedPnl: t.ClosedPnl, Builder: t.Builder}
	}
	return tradesResponse{Trades: out, Tainted: tainted}
}

type positionSnapshotDTO struct {
	TimeMs      money.TimeMs  `json:"timeMs"`
	Coin        money.Coin    `json:"coin"`
	NetSize     money.Decimal `json:"netSize"`
	AvgEntryPx  money.Decimal `json:"avgEntryPx"`
	LifecycleID int64         `json:"lifecycleId"`
	Tainted     bool          `json:"tainted,omitempty"`
}

type positionsResponse struct {
	Snapshots []positionSnapshotDTO `json:"snapshots"`
	Tainted   bool                  `json:"tainted,omitempty"`
}

func toPositionsResponse(snaps []query.PositionSnapshot, tainted bool) positionsResponse {
	out := make([]positionSnapshotDTO, len(snaps))
	for i, s := range snaps {
		out[i] = positionSnapshotDTO{TimeMs: s.TimeMs, Coin: s.Coin, NetSize: s.NetSize, AvgEntryPx: s.AvgEntryPx, LifecycleID: s.LifecycleID, Tainted: s.IsTainted}
	}
	return positionsResponse{Snapshots: out, Tainted: tainted}
}

type pnlResponse struct {
	RealizedPnl money.Decimal `json:"realizedPnl"`
	ReturnPct   money.Decimal `json:"returnPct"`
	FeesPaid    money.Decimal `json:"feesPaid"`
	TradeCount  int           `json:"tradeCount"`
	Tainted     bool          `json:"tainted,omitempty"`
}

func toPnlResponse(r query.PnlResult) pnlResponse {
	return pnlResponse{RealizedPnl: r.RealizedPnl, ReturnPct: r.ReturnPct, FeesPaid: r.FeesPaid, TradeCount: r.TradeCount, Tainted: r.Tainted}
}

type depositRowDTO struct {
	TimeMs money.TimeMs  `json:"timeMs"`
	Amount money.Decimal `json:"amount"`
	TxHash *string       `json:"txHash,omitempty"`
}

type depositsResponse struct {
	TotalDeposits money.Decimal   `json:"totalDeposits"`
	DepositCount  int             `json:"depositCount"`
	Deposits      []depositRowDTO `json:"deposits"`
}

func toDepositsResponse(r query.DepositsResult) depositsResponse {
	out := make([]depositRowDTO, len(r.Deposits))
	for i, d := range r.Deposits {
		out[i] = depositRowDTO{TimeMs: d.TimeMs, Amount: d.Amount, TxHash: d.TxHash}
	}
	return depositsResponse{TotalDeposits: r.TotalDeposits, DepositCount: r.DepositCount, Deposits: out}
}

type leaderboardRowDTO struct {
	Rank        int           `json:"rank"`
	User        money.Address `json:"user"`
	MetricValue money.Decimal `json:"metricValue"`
	TradeCount  int           `json:"tradeCount"`
	Tainted     bool          `json:"tainted,omitempty"`
}

func toLeaderboardResponse(rows []query.LeaderboardRow) []leaderboardRowDTO {
	out := make([]leaderboardRowDTO, len(rows))
	for i, r := range rows {
		out[i] = leaderboardRowDTO{Rank: r.Rank, User: r.User, MetricValue: r.MetricValue, TradeCount: r.TradeCount, Tainted: r.Tainted}
	}
	return out
}
