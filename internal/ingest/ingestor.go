package ingest

import (
	"context"
	"time"

	"github.com/rawblock/ledger-engine/internal/identity"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// defaultLookbackMs is the default re-fetch window: recently-arrived fills can be
// delivered late or amended by the upstream exchange, so every ingest call
// re-pulls a trailing window even when the caller only asked for new data.
const defaultLookbackMs = 24 * 60 * 60 * 1000

// Result reports what one EnsureIngested call fetched and wrote.
type Result struct {
	FillsFetched int
	FillsNew     int
	FetchFromMs  money.TimeMs
	FetchToMs    money.TimeMs
}

// Ingestor pulls fills from an upstream DataSource and writes them
// idempotently into the Repository.
type Ingestor struct {
	source     DataSource
	repo       repository.Repository
	lookbackMs int64
}

func New(source DataSource, repo repository.Repository, lookbackMs int64) *Ingestor {
	if lookbackMs <= 0 {
		lookbackMs = defaultLookbackMs
	}
	return &Ingestor{source: source, repo: repo, lookbackMs: lookbackMs}
}

// EnsureIngested fetches fills for user (all coins if coin is nil) over
// [from, to], widened on the left by the configured lookback window, and
// inserts them idempotently. Duplicate fills (same fill_key) are silently
// dropped by the repository's insert conflict handling.
func (g *Ingestor) EnsureIngested(ctx context.Context, user money.Address, coin *string, from, to *money.TimeMs) (Result, error) {
	fetchTo := money.TimeMs(time.Now().UnixMilli())
	if to != nil {
		fetchTo = *to
	}
	fetchFrom := money.TimeMs(0)
	if from != nil {
		fetchFrom = *from
	}
	fetchFrom -= money.TimeMs(g.lookbackMs)
	if fetchFrom < 0 {
		fetchFrom = 0
	}

	coinStr := ""
	if coin != nil {
		coinStr = *coin
	}

	fills, err := g.source.FetchFills(ctx, user, coinStr, fetchFrom, fetchTo)
	if err != nil {
		return Result{}, ledger.Ingestion("fetch fills from upstream", err)
	}
	for i := range fills {
		fills[i].FillKey = identity.FillKeyForFill(fills[i])
	}

	newCount, err := g.repo.InsertFillsBatch(ctx, fills)
	if err != nil {
		return Result{}, ledger.Ingestion("insert fetched fills", err)
	}

	return Result{
		FillsFetched: len(fills),
		FillsNew:     newCount,
		FetchFromMs:  fetchFrom,
		FetchToMs:    fetchTo,
	}, nil
}

// EnsureDepositsIngested fetches and idempotently stores deposits over the
// given window, with the same lookback widening as fills.
func (g *Ingestor) EnsureDepositsIngested(ctx context.Context, user money.Address, from, to *money.TimeMs) (int, error) {
	fetchTo := money.TimeMs(time.Now().UnixMilli())
	if to != nil {
		fetchTo = *to
	}
	fetchFrom := money.TimeMs(0)
	if from != nil {
		fetchFrom = *from
	}
	fetchFrom -= money.TimeMs(g.lookbackMs)
	if fetchFrom < 0 {
		fetchFrom = 0
	}

	deposits, err := g.source.FetchDeposits(ctx, user, fetchFrom, fetchTo)
	if err != nil {
		return 0, ledger.Ingestion("fetch deposits from upstream", err)
	}
	for i := range deposits {
		deposits[i].EventKey = identity.DepositKeyForDeposit(deposits[i])
	}
	newCount, err := g.repo.InsertDeposits(ctx, deposits)
	if err != nil {
		return 0, ledger.Ingestion("insert fetched deposits", err)
	}
	return newCount, nil
}
