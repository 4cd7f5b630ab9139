package ingest

import (
	"context"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// HTTPDataSource is the placeholder DataSource wired into the running
// binary. Pagination, retry/backoff, and the actual upstream wire format
// are exchange-specific and live outside this repository; operators
// deploying against a real exchange supply their own DataSource here.
type HTTPDataSource struct {
	baseURL string
}

func NewHTTPDataSource(baseURL string) *HTTPDataSource {
	return &HTTPDataSource{baseURL: baseURL}
}

func (h *HTTPDataSource) FetchFills(ctx context.Context, user money.Address, coin string, fromMs, toMs money.TimeMs) ([]ledger.Fill, error) {
	return nil, ledger.Ingestion("upstream fill fetch not configured; supply a DataSource implementation", nil)
}

func (h *HTTPDataSource) FetchDeposits(ctx context.Context, user money.Address, fromMs, toMs money.TimeMs) ([]ledger.Deposit, error) {
	return nil, ledger.Ingestion("upstream deposit fetch not configured; supply a DataSource implementation", nil)
}

func (h *HTTPDataSource) FetchEquity(ctx context.Context, user money.Address, atMs money.TimeMs) (*money.Decimal, error) {
	return nil, nil
}
