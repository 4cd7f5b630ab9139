package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testUser = money.Address("0x2222222222222222222222222222222222222222")

func TestInsertFillIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := ledger.Fill{
		FillKey: "f1", User: testUser, Coin: "BTC", TimeMs: 1000, Side: money.Buy,
		Px: money.MustParse("50000"), Sz: money.MustParse("1"),
		Fee: money.MustParse("5"), ClosedPnl: money.Zero,
	}
	inserted, err := s.InsertFill(ctx, f)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = s.InsertFill(ctx, f)
	if err != nil || inserted {
		t.Fatalf("second insert should be a no-op: inserted=%v err=%v", inserted, err)
	}

	fills, err := s.QueryFills(ctx, testUser, nil, nil, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill stored, got %d", len(fills))
	}
	if !fills[0].Px.Equal(money.MustParse("50000")) {
		t.Errorf("px round-trip = %s, want 50000", fills[0].Px)
	}
}

func TestInsertFillsBatchCountsOnlyNewRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fills := []ledger.Fill{
		{FillKey: "f1", User: testUser, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("1"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f2", User: testUser, Coin: "BTC", TimeMs: 2000, Side: money.Sell, Px: money.MustParse("1"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
	}
	n, err := s.InsertFillsBatch(ctx, fills)
	if err != nil || n != 2 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	n, err = s.InsertFillsBatch(ctx, fills)
	if err != nil || n != 0 {
		t.Fatalf("repeat batch should add nothing: n=%d err=%v", n, err)
	}
}

func TestQueryFillsAfterWatermarkExcludesWatermarkFill(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fills := []ledger.Fill{
		{FillKey: "f1", User: testUser, Coin: "BTC", TimeMs: 1000, Side: money.Buy, Px: money.MustParse("1"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f2", User: testUser, Coin: "BTC", TimeMs: 2000, Side: money.Buy, Px: money.MustParse("1"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero},
		{FillKey: "f3", User: testUser, Coin: "BTC", TimeMs: 3000, Side: money.Sell, Px: money.MustParse("1"), Sz: money.MustParse("2"), Fee: money.Zero, ClosedPnl: money.Zero},
	}
	if _, err := s.InsertFillsBatch(ctx, fills); err != nil {
		t.Fatalf("seed: %v", err)
	}
	wm := "f1"
	after, err := s.QueryFillsAfterWatermark(ctx, testUser, "BTC", &wm)
	if err != nil {
		t.Fatalf("query after watermark: %v", err)
	}
	if len(after) != 2 || after[0].FillKey != "f2" || after[1].FillKey != "f3" {
		t.Fatalf("unexpected tail: %+v", after)
	}
}

func TestDerivedTablesAndCompileStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	lcs := []ledger.Lifecycle{{ID: 1, User: testUser, Coin: "BTC", StartTimeMs: 1000}}
	snaps := []ledger.Snapshot{{User: testUser, Coin: "BTC", TimeMs: 1000, Seq: 0, NetSize: money.MustParse("1"), AvgEntryPx: money.MustParse("50000"), LifecycleID: 1}}
	effs := []ledger.Effect{{FillKey: "f1", LifecycleID: 1, Kind: ledger.EffectOpen, Qty: money.MustParse("1"), Notional: money.MustParse("50000"), Fee: money.Zero, ClosedPnl: money.Zero}}

	// QueryEffects reads the user and time of an effect from its raw fill.
	if _, err := s.InsertFill(ctx, ledger.Fill{
		FillKey: "f1", User: testUser, Coin: "BTC", TimeMs: 1000, Side: money.Buy,
		Px: money.MustParse("50000"), Sz: money.MustParse("1"), Fee: money.Zero, ClosedPnl: money.Zero,
	}); err != nil {
		t.Fatalf("seed fill: %v", err)
	}
	if err := s.InsertDerivedTablesAtomic(ctx, testUser, "BTC", lcs, snaps, effs); err != nil {
		t.Fatalf("insert derived: %v", err)
	}

	gotSnaps, err := s.QuerySnapshots(ctx, testUser, nil, nil, nil)
	if err != nil || len(gotSnaps) != 1 {
		t.Fatalf("query snapshots: %v, %d rows", err, len(gotSnaps))
	}
	gotEffs, err := s.QueryEffects(ctx, testUser, nil, nil, nil)
	if err != nil || len(gotEffs) != 1 {
		t.Fatalf("query effects: %v, %d rows", err, len(gotEffs))
	}

	if err := s.StoreCompileState(ctx, testUser, "BTC", 1000, "f1", []byte(`{"netSize":"1"}`)); err != nil {
		t.Fatalf("store compile state: %v", err)
	}
	cs, err := s.GetCompileState(ctx, testUser, "BTC")
	if err != nil || cs == nil {
		t.Fatalf("get compile state: %v", err)
	}
	if *cs.LastCompiledFillKey != "f1" || cs.CompileVersion != 1 {
		t.Errorf("unexpected compile state: %+v", cs)
	}

	if err := s.StoreCompileState(ctx, testUser, "BTC", 2000, "f2", []byte(`{"netSize":"0"}`)); err != nil {
		t.Fatalf("store compile state v2: %v", err)
	}
	cs2, _ := s.GetCompileState(ctx, testUser, "BTC")
	if cs2.CompileVersion != 2 {
		t.Errorf("compile version = %d, want 2", cs2.CompileVersion)
	}
}

func TestAttributionsAndTaintChunking(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	builder, _ := money.ParseAddress("0x3333333333333333333333333333333333333333")
	attrs := []ledger.Attribution{
		{FillKey: "f1", Attributed: true, Mode: ledger.ModeLogs, Confidence: ledger.ConfidenceExact, Builder: &builder},
		{FillKey: "f2", Attributed: false, Mode: ledger.ModeHeuristic, Confidence: ledger.ConfidenceLow},
	}
	if err := s.UpsertAttributionsFull(ctx, attrs); err != nil {
		t.Fatalf("upsert attributions: %v", err)
	}
	got, err := s.QueryAttributionsFull(ctx, []string{"f1", "f2", "missing"})
	if err != nil {
		t.Fatalf("query attributions: %v", err)
	}
	if len(got) != 2 || got["f1"].Builder == nil || *got["f1"].Builder != builder {
		t.Fatalf("unexpected attributions: %+v", got)
	}

	lcs := []ledger.Lifecycle{{ID: 1, User: testUser, Coin: "BTC", StartTimeMs: 1000}}
	if err := s.InsertDerivedTablesAtomic(ctx, testUser, "BTC", lcs, nil, nil); err != nil {
		t.Fatalf("seed lifecycle: %v", err)
	}
	if err := s.UpdateLifecycleTaints(ctx, []LifecycleTaintUpdate{{LifecycleID: 1, IsTainted: true}}); err != nil {
		t.Fatalf("update taint: %v", err)
	}
	tainted, err := s.QueryTaintedLifecycleIDs(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("query tainted: %v", err)
	}
	if !tainted[1] {
		t.Errorf("lifecycle 1 should be tainted")
	}

	reason := "fill f2 not attributed"
	if err := s.UpdateLifecycleTaints(ctx, []LifecycleTaintUpdate{{LifecycleID: 1, IsTainted: true, TaintReason: &reason}}); err != nil {
		t.Fatalf("update taint with reason: %v", err)
	}
	states, err := s.QueryLifecycleTaintStates(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("query lifecycle taint states: %v", err)
	}
	if !states[1].IsTainted || states[1].TaintReason == nil || *states[1].TaintReason != reason {
		t.Fatalf("expected lifecycle 1 taint state with reason preserved, got %+v", states[1])
	}
	if states[2].IsTainted {
		t.Errorf("lifecycle 2 was never touched and should report clean")
	}
}

func TestEquityAndDepositSums(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	deposits := []ledger.Deposit{
		{EventKey: "d1", User: testUser, TimeMs: 1000, Amount: money.MustParse("100")},
		{EventKey: "d2", User: testUser, TimeMs: 2000, Amount: money.MustParse("50")},
	}
	if _, err := s.InsertDeposits(ctx, deposits); err != nil {
		t.Fatalf("insert deposits: %v", err)
	}
	sum, err := s.SumDepositsUpTo(ctx, testUser, 1500)
	if err != nil || !sum.Equal(money.MustParse("100")) {
		t.Fatalf("sum deposits up to 1500 = %s, want 100 (err=%v)", sum, err)
	}

	if err := s.UpsertEquitySnapshot(ctx, ledger.EquitySnapshot{User: testUser, TimeMs: 1000, Equity: money.MustParse("1000")}); err != nil {
		t.Fatalf("upsert equity: %v", err)
	}
	snap, err := s.GetEquitySnapshotAtOrBefore(ctx, testUser, 1999)
	if err != nil || snap == nil || !snap.Equity.Equal(money.MustParse("1000")) {
		t.Fatalf("equity lookup: %+v, err=%v", snap, err)
	}
}
