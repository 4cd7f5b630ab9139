package query

import (
	"context"
	"sort"

	"github.com/rawblock/ledger-engine/internal/ingest"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// DepositRow is one row of the /v1/deposits response.
type DepositRow struct {
	TimeMs money.TimeMs
	Amount money.Decimal
	TxHash *string
}

// DepositsResult is the /v1/deposits response body.
type DepositsResult struct {
	TotalDeposits money.Decimal
	DepositCount  int
	Deposits      []DepositRow
}

// Deposits answers GET /v1/deposits. Deposits need no derived tables, so
// this only needs ensure_ingested, not the full compile pipeline.
func (a *Aggregator) Deposits(ctx context.Context, ingestor *ingest.Ingestor, user money.Address, from, to *money.TimeMs) (DepositsResult, error) {
	w := Window{User: user, From: from, To: to}
	if err := w.validate(); err != nil {
		return DepositsResult{}, err
	}
	if _, err := ingestor.EnsureDepositsIngested(ctx, user, from, to); err != nil {
		return DepositsResult{}, err
	}

	deposits, err := a.repo.QueryDeposits(ctx, user, from, to)
	if err != nil {
		return DepositsResult{}, ledger.Internal("query deposits", err)
	}
	sort.SliceStable(deposits, func(i, j int) bool {
		if deposits[i].TimeMs != deposits[j].TimeMs {
			return deposits[i].TimeMs < deposits[j].TimeMs
		}
		return deposits[i].EventKey < deposits[j].EventKey
	})

	amounts := make([]money.Decimal, len(deposits))
	rows := make([]DepositRow, len(deposits))
	for i, d := range deposits {
		amounts[i] = d.Amount
		rows[i] = DepositRow{TimeMs: d.TimeMs, Amount: d.Amount, TxHash: d.TxHash}
	}

	return DepositsResult{
		TotalDeposits: money.Sum(amounts),
		DepositCount:  len(deposits),
		Deposits:      rows,
	}, nil
}
