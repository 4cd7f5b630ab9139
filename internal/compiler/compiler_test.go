package compiler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/ledger-engine/internal/attribution"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/internal/taint"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

func newStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	s, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newCompiler(store *repository.SQLiteStore) *Compiler {
	matcher := attribution.New(attribution.ModeHeuristic, "", nil, logrus.New())
	return New(store, matcher, taint.New())
}

var user = money.Address("0x4444444444444444444444444444444444444444")

func TestCompileIsIncrementalAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := newCompiler(store)

	fills := []ledger.Fill{
		{FillKey: "f1", User: user, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("50000"), Sz: money.MustParse("1"), Fee: money.MustParse("5"), ClosedPnl: money.Zero},
	}
	if _, err := store.InsertFillsBatch(ctx, fills); err != nil {
		t.Fatalf("seed: %v", err)
	}
	n, err := c.Compile(ctx, user, "BTC")
	if err != nil || n != 1 {
		t.Fatalf("first compile: n=%d err=%v", n, err)
	}

	// Nothing new: second compile is a no-op.
	n, err = c.Compile(ctx, user, "BTC")
	if err != nil || n != 0 {
		t.Fatalf("second compile should be a no-op: n=%d err=%v", n, err)
	}

	more := []ledger.Fill{
		{FillKey: "f2", User: user, Coin: "BTC", TimeMs: 2000, Side: money.Sell, Px: money.MustParse("51000"), Sz: money.MustParse("1"), Fee: money.MustParse("5"), ClosedPnl: money.MustParse("1000")},
	}
	if _, err := store.InsertFillsBatch(ctx, more); err != nil {
		t.Fatalf("seed more: %v", err)
	}
	n, err = c.Compile(ctx, user, "BTC")
	if err != nil || n != 1 {
		t.Fatalf("incremental compile: n=%d err=%v", n, err)
	}

	snaps, err := store.QuerySnapshots(ctx, user, nil, nil, nil)
	if err != nil || len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots after both compiles, got %d (err=%v)", len(snaps), err)
	}
}

func TestFullReplayMatchesIncrementalResult(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := newCompiler(store)

	fills := []ledger.Fill{
		{FillKey: "f1", User: user, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("50000"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f2", User: user, Coin: "BTC", TimeMs: 2000, Side: money.Buy, Px: money.MustParse("51000"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f3", User: user, Coin: "BTC", TimeMs: 3000, Side: money.Sell, Px: money.MustParse("52000"), Sz: money.MustParse("2"), Fee: money.Zero, ClosedPnl: money.MustParse("3000")},
	}
	if _, err := store.InsertFillsBatch(ctx, fills[:2]); err != nil {
		t.Fatalf("seed first: %v", err)
	}
	if _, err := c.Compile(ctx, user, "BTC"); err != nil {
		t.Fatalf("compile first: %v", err)
	}
	if _, err := store.InsertFillsBatch(ctx, fills[2:]); err != nil {
		t.Fatalf("seed second: %v", err)
	}
	if _, err := c.Compile(ctx, user, "BTC"); err != nil {
		t.Fatalf("compile second: %v", err)
	}

	incremental, err := store.QuerySnapshots(ctx, user, nil, nil, nil)
	if err != nil {
		t.Fatalf("query incremental snapshots: %v", err)
	}

	replay, err := FullReplay(ctx, store, user, "BTC")
	if err != nil {
		t.Fatalf("full replay: %v", err)
	}
	if len(incremental) != len(replay.Snapshots) {
		t.Fatalf("incremental snapshot count %d != replay count %d", len(incremental), len(replay.Snapshots))
	}
	last := incremental[len(incremental)-1]
	lastReplay := replay.Snapshots[len(replay.Snapshots)-1]
	if !last.NetSize.Equal(lastReplay.NetSize) || !last.AvgEntryPx.Equal(lastReplay.AvgEntryPx) {
		t.Errorf("incremental vs replay mismatch: %+v vs %+v", last, lastReplay)
	}
}

// A lifecycle tainted by an unattributed fill in one compile batch must
// stay tainted even when a later batch only adds attributed fills to it;
// taint recomputation is scoped to the fills each batch touches and must
// never read that as "clean" for fills outside its view.
func TestTaintPersistsAcrossCompileBatches(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := newCompiler(store)

	opening := []ledger.Fill{
		{FillKey: "f1", User: user, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("50000"), Sz: money.MustParse("1"), Fee: money.MustParse("5"), ClosedPnl: money.Zero},
	}
	if _, err := store.InsertFillsBatch(ctx, opening); err != nil {
		t.Fatalf("seed opening fill: %v", err)
	}
	if _, err := c.Compile(ctx, user, "BTC"); err != nil {
		t.Fatalf("first compile: %v", err)
	}

	lifecycles, err := store.QuerySnapshots(ctx, user, nil, nil, nil)
	if err != nil || len(lifecycles) == 0 {
		t.Fatalf("expected at least one snapshot after first compile: %v", err)
	}
	lcID := lifecycles[0].LifecycleID
	lc, err := store.QueryLifecycle(ctx, lcID)
	if err != nil || lc == nil || !lc.IsTainted {
		t.Fatalf("lifecycle should be tainted by the unattributed opening fill: %+v err=%v", lc, err)
	}

	builderFee := money.MustParse("0.1")
	increase := []ledger.Fill{
		{FillKey: "f2", User: user, Coin: "BTC", TimeMs: 2000, Side: money.Buy, Px: money.MustParse("51000"), Sz: money.MustParse("1"), Fee: money.MustParse("5"), ClosedPnl: money.Zero, BuilderFee: &builderFee},
	}
	if _, err := store.InsertFillsBatch(ctx, increase); err != nil {
		t.Fatalf("seed increase fill: %v", err)
	}
	if _, err := c.Compile(ctx, user, "BTC"); err != nil {
		t.Fatalf("second compile: %v", err)
	}

	lc, err = store.QueryLifecycle(ctx, lcID)
	if err != nil || lc == nil || !lc.IsTainted {
		t.Fatalf("lifecycle must stay tainted after a later, fully-attributed batch: %+v err=%v", lc, err)
	}
}
