package equity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

var testUser = money.Address("0x9999999999999999999999999999999999999999")

func newRepo(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	r, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolveComputesFromDepositsAndRealizedPnlWhenUncached(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if _, err := repo.InsertDeposits(ctx, []ledger.Deposit{{EventKey: "d1", User: testUser, TimeMs: 1000, Amount: money.MustParse("1000")}}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	// Realized PnL is summed through raw_fills, which carry the user and time.
	if _, err := repo.InsertFillsBatch(ctx, []ledger.Fill{
		{FillKey: "f1", User: testUser, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("50000"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f2", User: testUser, Coin: "BTC", TimeMs: 1500, Side: money.Sell, Px: money.MustParse("51000"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.MustParse("1000")},
	}); err != nil {
		t.Fatalf("seed fills: %v", err)
	}
	lcs := []ledger.Lifecycle{{ID: 1, User: testUser, Coin: "BTC", StartTimeMs: 1000}}
	effs := []ledger.Effect{
		{FillKey: "f1", LifecycleID: 1, Kind: ledger.EffectOpen, Qty: money.MustParse("1"), Notional: money.MustParse("50000"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f2", LifecycleID: 1, Kind: ledger.EffectClose, Qty: money.MustParse("1"), Notional: money.MustParse("51000"), Fee: money.Zero, ClosedPnl: money.MustParse("1000")},
	}
	if err := repo.InsertDerivedTablesAtomic(ctx, testUser, "BTC", lcs, nil, effs); err != nil {
		t.Fatalf("seed effects: %v", err)
	}

	r := New(repo)
	eq, err := r.Resolve(ctx, testUser, 2000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !eq.Equal(money.MustParse("2000")) {
		t.Errorf("equity = %s, want 2000 (1000 deposit + 1000 realized pnl)", eq)
	}
}

func TestResolveCachesAndReusesSnapshot(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	r := New(repo)

	if _, err := repo.InsertDeposits(ctx, []ledger.Deposit{{EventKey: "d1", User: testUser, TimeMs: 1000, Amount: money.MustParse("500")}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	first, err := r.Resolve(ctx, testUser, 1500)
	if err != nil || !first.Equal(money.MustParse("500")) {
		t.Fatalf("first resolve: %s, err=%v", first, err)
	}

	// A later deposit must not change the cached snapshot at an earlier time.
	if _, err := repo.InsertDeposits(ctx, []ledger.Deposit{{EventKey: "d2", User: testUser, TimeMs: 1400, Amount: money.MustParse("999")}}); err != nil {
		t.Fatalf("seed second: %v", err)
	}
	second, err := r.Resolve(ctx, testUser, 1500)
	if err != nil || !second.Equal(money.MustParse("500")) {
		t.Fatalf("expected cached snapshot to win: %s, err=%v", second, err)
	}
}
