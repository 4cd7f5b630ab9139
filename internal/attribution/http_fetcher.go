package attribution

import (
	"context"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// HTTPLogFetcher is the placeholder LogFetcher wired into the running
// binary. The real builder-logs endpoint shape is documented (see the
// builder-logs contract in SPEC_FULL.md §6) but the HTTP client itself
// is an external collaborator operators supply.
type HTTPLogFetcher struct {
	baseURL string
}

func NewHTTPLogFetcher(baseURL string) *HTTPLogFetcher {
	return &HTTPLogFetcher{baseURL: baseURL}
}

func (f *HTTPLogFetcher) FetchAndParseDay(ctx context.Context, builder money.Address, yyyymmdd string) ([]BuilderLogFill, error) {
	return nil, ledger.BuilderLogs("builder log fetch not configured; supply a LogFetcher implementation", nil)
}
