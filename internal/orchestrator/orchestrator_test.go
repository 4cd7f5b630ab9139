package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/ledger-engine/internal/attribution"
	"github.com/rawblock/ledger-engine/internal/compiler"
	"github.com/rawblock/ledger-engine/internal/ingest"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/internal/taint"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

var testUser = money.Address("0x8888888888888888888888888888888888888888")

func newOrchestrator(t *testing.T, fills []ledger.Fill) (*Orchestrator, *repository.SQLiteStore) {
	t.Helper()
	repo, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	source := &ingest.FakeDataSource{Fills: fills}
	ing := ingest.New(source, repo, 0)
	matcher := attribution.New(attribution.ModeHeuristic, "", nil, logrus.New())
	comp := compiler.New(repo, matcher, taint.New())
	return New(ing, comp, repo), repo
}

func TestEnsureCompiledCompilesEachTouchedCoin(t *testing.T) {
	fills := []ledger.Fill{
		{FillKey: "f1", User: testUser, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("1"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f2", User: testUser, Coin: "ETH", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("1"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
	}
	orc, repo := newOrchestrator(t, fills)

	to := money.TimeMs(2000)
	if err := orc.EnsureCompiled(context.Background(), testUser, nil, nil, &to); err != nil {
		t.Fatalf("ensure compiled: %v", err)
	}

	for _, coin := range []money.Coin{"BTC", "ETH"} {
		cs, err := repo.GetCompileState(context.Background(), testUser, coin)
		if err != nil || cs == nil {
			t.Fatalf("expected compile state for %s: %v", coin, err)
		}
	}
}

func TestConcurrentEnsureCompiledForSamePairDoesNotCorruptWatermark(t *testing.T) {
	fills := []ledger.Fill{
		{FillKey: "f1", User: testUser, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("1"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
	}
	orc, repo := newOrchestrator(t, fills)
	coin := money.Coin("BTC")
	to := money.TimeMs(2000)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = orc.EnsureCompiled(context.Background(), testUser, &coin, nil, &to)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("concurrent ensure compiled failed: %v", err)
		}
	}

	snaps, err := repo.QuerySnapshots(context.Background(), testUser, nil, nil, nil)
	if err != nil {
		t.Fatalf("query snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected exactly 1 snapshot despite concurrent callers, got %d", len(snaps))
	}
}
