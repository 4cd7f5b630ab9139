package tracker

import (
	"testing"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

var user = money.Address("0x1111111111111111111111111111111111111111")

func fill(key string, t int64, side money.Side, px, sz, fee, pnl string) ledger.Fill {
	return ledger.Fill{
		FillKey: key, User: user, Coin: "BTC", TimeMs: money.TimeMs(t), Side: side,
		Px: money.MustParse(px), Sz: money.MustParse(sz),
		Fee: money.MustParse(fee), ClosedPnl: money.MustParse(pnl),
	}
}

// S1. Simple open/close, gross PnL.
func TestSimpleOpenClose(t *testing.T) {
	fills := []ledger.Fill{
		fill("f1", 1000, money.Buy, "50000", "1", "5", "0"),
		fill("f2", 2000, money.Sell, "51000", "1", "5", "1000"),
	}
	res := NewFlat(user, "BTC").Run(fills)

	if len(res.Lifecycles) != 1 {
		t.Fatalf("expected 1 lifecycle row set (open+close merged by id), got %d entries", len(res.Lifecycles))
	}
	if len(res.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(res.Snapshots))
	}
	if !res.Snapshots[0].NetSize.Equal(money.MustParse("1")) {
		t.Errorf("snapshot 0 net size = %s, want 1", res.Snapshots[0].NetSize)
	}
	if !res.Snapshots[1].NetSize.IsZero() {
		t.Errorf("snapshot 1 net size = %s, want 0", res.Snapshots[1].NetSize)
	}
	if len(res.Effects) != 2 {
		t.Fatalf("expected 2 effects, got %d", len(res.Effects))
	}
	if res.Effects[0].Kind != ledger.EffectOpen || res.Effects[1].Kind != ledger.EffectClose {
		t.Errorf("effect kinds = %v, %v; want Open, Close", res.Effects[0].Kind, res.Effects[1].Kind)
	}
	if !res.Effects[1].ClosedPnl.Equal(money.MustParse("1000")) {
		t.Errorf("close effect closedPnl = %s, want 1000", res.Effects[1].ClosedPnl)
	}
	if res.State.HasPosition {
		t.Errorf("expected flat final state")
	}
}

// S2. Flip.
func TestFlip(t *testing.T) {
	fills := []ledger.Fill{
		fill("f1", 1000, money.Buy, "50000", "1", "0", "0"),
		fill("f2", 2000, money.Sell, "55000", "2", "10", "5000"),
	}
	res := NewFlat(user, "BTC").Run(fills)

	if len(res.Lifecycles) != 2 {
		t.Fatalf("expected 2 lifecycle entries (1 opened at f1 and closed at f2, 2 opened at f2), got %d", len(res.Lifecycles))
	}
	if len(res.Snapshots) != 3 {
		t.Fatalf("expected 3 snapshots total, got %d", len(res.Snapshots))
	}
	// snapshots at f2 share time_ms and are seq 0 then seq 1.
	s1, s2 := res.Snapshots[1], res.Snapshots[2]
	if s1.TimeMs != s2.TimeMs {
		t.Errorf("flip snapshots should share time_ms: %d != %d", s1.TimeMs, s2.TimeMs)
	}
	if s1.Seq != 0 || s2.Seq != 1 {
		t.Errorf("flip snapshot seqs = %d, %d; want 0, 1", s1.Seq, s2.Seq)
	}
	if !s1.NetSize.IsZero() {
		t.Errorf("flip close snapshot net size = %s, want 0", s1.NetSize)
	}
	if !s2.NetSize.Equal(money.MustParse("-1")) {
		t.Errorf("flip open snapshot net size = %s, want -1", s2.NetSize)
	}

	if len(res.Effects) != 3 {
		t.Fatalf("expected 3 effects total, got %d", len(res.Effects))
	}
	closeEff, openEff := res.Effects[1], res.Effects[2]
	if closeEff.Kind != ledger.EffectClose || openEff.Kind != ledger.EffectOpen {
		t.Fatalf("flip effect kinds wrong: %v, %v", closeEff.Kind, openEff.Kind)
	}
	// Flip decomposition invariant (property 4).
	if !closeEff.Qty.Add(openEff.Qty).Equal(money.MustParse("2")) {
		t.Errorf("close+open qty = %s, want 2", closeEff.Qty.Add(openEff.Qty))
	}
	if !closeEff.Qty.Equal(money.MustParse("1")) {
		t.Errorf("close qty = %s, want 1 (= |old|)", closeEff.Qty)
	}
	if !closeEff.Fee.Add(openEff.Fee).Equal(money.MustParse("10")) {
		t.Errorf("close fee + open fee = %s, want 10 (exact)", closeEff.Fee.Add(openEff.Fee))
	}
	if !closeEff.ClosedPnl.Equal(money.MustParse("5000")) {
		t.Errorf("entire closed_pnl should land on the close effect, got %s", closeEff.ClosedPnl)
	}
	if !openEff.ClosedPnl.IsZero() {
		t.Errorf("open effect from a flip should have zero closed_pnl, got %s", openEff.ClosedPnl)
	}
}

func TestIncreaseWeightedAverage(t *testing.T) {
	fills := []ledger.Fill{
		fill("f1", 1000, money.Buy, "100", "1", "0", "0"),
		fill("f2", 2000, money.Buy, "200", "1", "0", "0"),
	}
	res := NewFlat(user, "BTC").Run(fills)
	last := res.Snapshots[len(res.Snapshots)-1]
	if !last.AvgEntryPx.Equal(money.MustParse("150")) {
		t.Errorf("weighted avg entry = %s, want 150", last.AvgEntryPx)
	}
	if !last.NetSize.Equal(money.MustParse("2")) {
		t.Errorf("net size = %s, want 2", last.NetSize)
	}
}

func TestPartialCloseKeepsAvgEntry(t *testing.T) {
	fills := []ledger.Fill{
		fill("f1", 1000, money.Buy, "100", "2", "0", "0"),
		fill("f2", 2000, money.Sell, "150", "1", "0", "50"),
	}
	res := NewFlat(user, "BTC").Run(fills)
	last := res.Snapshots[len(res.Snapshots)-1]
	if !last.AvgEntryPx.Equal(money.MustParse("100")) {
		t.Errorf("avg entry after partial close = %s, want unchanged 100", last.AvgEntryPx)
	}
	if !last.NetSize.Equal(money.MustParse("1")) {
		t.Errorf("net size after partial close = %s, want 1", last.NetSize)
	}
}

// Property 3: running the tracker twice on the same input yields equal
// lifecycles, snapshots, and effects, including lifecycle IDs.
func TestRoundTripDeterminism(t *testing.T) {
	fills := []ledger.Fill{
		fill("f1", 1000, money.Buy, "50000", "1", "5", "0"),
		fill("f2", 1500, money.Buy, "51000", "1", "5", "0"),
		fill("f3", 2000, money.Sell, "52000", "3", "10", "2000"),
	}
	r1 := NewFlat(user, "BTC").Run(fills)
	r2 := NewFlat(user, "BTC").Run(fills)

	if len(r1.Lifecycles) != len(r2.Lifecycles) || len(r1.Snapshots) != len(r2.Snapshots) || len(r1.Effects) != len(r2.Effects) {
		t.Fatalf("differing output lengths between runs")
	}
	for i := range r1.Lifecycles {
		if r1.Lifecycles[i].ID != r2.Lifecycles[i].ID {
			t.Errorf("lifecycle id mismatch at %d: %d != %d", i, r1.Lifecycles[i].ID, r2.Lifecycles[i].ID)
		}
	}
	for i := range r1.Snapshots {
		if !r1.Snapshots[i].NetSize.Equal(r2.Snapshots[i].NetSize) || r1.Snapshots[i].Seq != r2.Snapshots[i].Seq {
			t.Errorf("snapshot mismatch at %d", i)
		}
	}
	for i := range r1.Effects {
		if !r1.Effects[i].Qty.Equal(r2.Effects[i].Qty) || r1.Effects[i].Kind != r2.Effects[i].Kind {
			t.Errorf("effect mismatch at %d", i)
		}
	}
}

func TestResumeFromSnapshotMatchesFullReplay(t *testing.T) {
	fills := []ledger.Fill{
		fill("f1", 1000, money.Buy, "50000", "1", "5", "0"),
		fill("f2", 1500, money.Buy, "51000", "1", "5", "0"),
		fill("f3", 2000, money.Sell, "52000", "3", "10", "2000"),
	}

	full := NewFlat(user, "BTC").Run(fills)

	partial := NewFlat(user, "BTC").Run(fills[:2])
	resumed := New(user, "BTC", partial.State).Run(fills[2:])

	if full.State.NetSize.String() != resumed.State.NetSize.String() {
		t.Errorf("resumed net size = %s, want %s", resumed.State.NetSize, full.State.NetSize)
	}
	if full.State.NextLifecycleID != resumed.State.NextLifecycleID {
		t.Errorf("resumed next lifecycle id = %d, want %d", resumed.State.NextLifecycleID, full.State.NextLifecycleID)
	}
}

// A corrupted resumed State (net size nonzero but HasPosition false) must
// be treated as a fatal invariant violation rather than silently patched up.
func TestCorruptedStateClosePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for close-without-open on corrupted state")
		}
	}()
	bad := State{HasPosition: false, NetSize: money.MustParse("1"), NextLifecycleID: 2}
	fills := []ledger.Fill{
		fill("f1", 1000, money.Sell, "50000", "1", "0", "0"),
	}
	New(user, "BTC", bad).Run(fills)
}

func TestNonPositiveSizePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-positive size")
		}
	}()
	bad := fill("f1", 1000, money.Buy, "50000", "0", "0", "0")
	NewFlat(user, "BTC").Run([]ledger.Fill{bad})
}
