// Package ingest pulls raw fills and deposits from the upstream exchange
// and persists them idempotently. The transport and retry policy live in
// the DataSource collaborator; this package only orchestrates the fetch
// window and the repository write.
package ingest

import (
	"context"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// DataSource is the upstream exchange contract. A production HTTP-backed
// implementation (pagination, retry/backoff) is an external collaborator
// out of scope here; FakeDataSource below is the deterministic test double.
type DataSource interface {
	FetchFills(ctx context.Context, user money.Address, coin string, fromMs, toMs money.TimeMs) ([]ledger.Fill, error)
	FetchDeposits(ctx context.Context, user money.Address, fromMs, toMs money.TimeMs) ([]ledger.Deposit, error)
	FetchEquity(ctx context.Context, user money.Address, atMs money.TimeMs) (*money.Decimal, error)
}

// FakeDataSource is a deterministic in-memory DataSource for tests: it
// returns canned results per call, recording every call it receives.
type FakeDataSource struct {
	Fills    []ledger.Fill
	Deposits []ledger.Deposit
	Equity   *money.Decimal
	Calls    []FetchCall
}

// FetchCall records one FetchFills invocation for assertions in tests.
type FetchCall struct {
	User           money.Address
	Coin           string
	FromMs, ToMs   money.TimeMs
}

func (f *FakeDataSource) FetchFills(ctx context.Context, user money.Address, coin string, fromMs, toMs money.TimeMs) ([]ledger.Fill, error) {
	f.Calls = append(f.Calls, FetchCall{User: user, Coin: coin, FromMs: fromMs, ToMs: toMs})
	var out []ledger.Fill
	for _, fl := range f.Fills {
		if fl.User != user || fl.TimeMs < fromMs || fl.TimeMs > toMs {
			continue
		}
		if coin != "" && string(fl.Coin) != coin {
			continue
		}
		out = append(out, fl)
	}
	return out, nil
}

func (f *FakeDataSource) FetchDeposits(ctx context.Context, user money.Address, fromMs, toMs money.TimeMs) ([]ledger.Deposit, error) {
	var out []ledger.Deposit
	for _, d := range f.Deposits {
		if d.User == user && d.TimeMs >= fromMs && d.TimeMs <= toMs {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *FakeDataSource) FetchEquity(ctx context.Context, user money.Address, atMs money.TimeMs) (*money.Decimal, error) {
	return f.Equity, nil
}
