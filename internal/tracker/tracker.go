// Package tracker implements the pure position-lifecycle state machine:
// given a canonically ordered sequence of fills for one (user, coin) pair,
// it derives lifecycles, snapshots, and per-fill effects. The tracker never
// performs I/O and never suspends — it is deterministic by construction, so
// replaying the same fills through a fresh Tracker always reproduces the
// same lifecycle IDs, snapshots, and effects.
package tracker

import (
	"fmt"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// State is the tracker's resumable position state for one (user, coin)
// pair: net size, average entry price, the current lifecycle (if any),
// and the next lifecycle ID to assign. It is exactly what CompileState's
// tracker_snapshot blob serializes.
type State struct {
	HasPosition     bool
	NetSize         money.Decimal
	AvgEntryPx      money.Decimal
	LifecycleID     int64
	NextLifecycleID int64
}

// flat is the initial state for a (user, coin) pair that has never traded.
func flat() State {
	return State{
		NetSize:         money.Zero,
		AvgEntryPx:      money.Zero,
		NextLifecycleID: 1,
	}
}

// Result bundles the three output sequences of one Run, plus the resulting
// resumable State.
type Result struct {
	Lifecycles []ledger.Lifecycle
	Snapshots  []ledger.Snapshot
	Effects    []ledger.Effect
	State      State
}

// Tracker drives the state machine described in §4.4 over a canonically
// ordered fill sequence, starting from a given (possibly flat) State.
type Tracker struct {
	user money.Address
	coin money.Coin
	st   State
}

// New creates a Tracker resuming from st for the given (user, coin) pair.
// Pass tracker.flat()-equivalent via NewFlat for a never-before-seen pair.
func New(user money.Address, coin money.Coin, st State) *Tracker {
	return &Tracker{user: user, coin: coin, st: st}
}

// NewFlat creates a Tracker with no prior position.
func NewFlat(user money.Address, coin money.Coin) *Tracker {
	return New(user, coin, flat())
}

// invariantViolation panics with a descriptive message. The tracker treats
// out-of-order fills and close-without-open as fatal invariant violations:
// the repository is responsible for delivering fills in canonical order,
// and a violation here means that contract was broken upstream.
func invariantViolation(format string, args ...any) {
	panic(fmt.Sprintf("tracker: invariant violation: "+format, args...))
}

// Run processes fills, which must already be sorted by the canonical order
// (time_ms asc, tid asc, oid asc, fill_key asc), and returns the derived
// lifecycles, snapshots, and effects plus the tracker's resulting State.
func (t *Tracker) Run(fills []ledger.Fill) Result {
	var res Result

	for _, f := range fills {
		if f.Sz.Sign() <= 0 {
			invariantViolation("fill %s has non-positive size %s", f.FillKey, f.Sz)
		}
		if f.Px.Sign() <= 0 {
			invariantViolation("fill %s has non-positive price %s", f.FillKey, f.Px)
		}

		old := t.st.NetSize
		signed := money.SignedQty(f.Side, f.Sz)
		newSize := old.Add(signed)

		switch {
		case old.IsZero() && !newSize.IsZero():
			t.openFromFlat(f, newSize, &res)

		case !old.IsZero() && newSize.IsZero():
			t.closeToFlat(f, &res)

		case !old.IsZero() && !newSize.IsZero() && old.Sign() != newSize.Sign():
			t.flip(f, old, newSize, &res)

		case old.Sign() == newSize.Sign() && newSize.Abs().GreaterThan(old.Abs()):
			t.increase(f, old, newSize, &res)

		case old.Sign() == newSize.Sign() && newSize.Abs().LessThan(old.Abs()):
			t.partialClose(f, &res)

		default:
			// old == new can only happen for a zero-size fill, already
			// rejected above, so this branch is unreachable in practice.
			invariantViolation("fill %s produced no net size change (old=%s new=%s)", f.FillKey, old, newSize)
		}
	}

	res.State = t.st
	return res
}

func (t *Tracker) openFromFlat(f ledger.Fill, newSize money.Decimal, res *Result) {
	lcID := t.st.NextLifecycleID
	t.st.NextLifecycleID++
	t.st.HasPosition = true
	t.st.LifecycleID = lcID
	t.st.NetSize = newSize
	t.st.AvgEntryPx = f.Px

	res.Lifecycles = append(res.Lifecycles, ledger.Lifecycle{
		ID: lcID, User: t.user, Coin: t.coin, StartTimeMs: f.TimeMs,
	})
	res.Effects = append(res.Effects, ledger.Effect{
		FillKey: f.FillKey, LifecycleID: lcID, Kind: ledger.EffectOpen,
		Qty: f.Sz, Notional: f.Px.Mul(f.Sz), Fee: f.Fee, ClosedPnl: f.ClosedPnl,
	})
	res.Snapshots = append(res.Snapshots, ledger.Snapshot{
		User: t.user, Coin: t.coin, TimeMs: f.TimeMs, Seq: 0,
		NetSize: newSize, AvgEntryPx: f.Px, LifecycleID: lcID,
	})
}

func (t *Tracker) closeToFlat(f ledger.Fill, res *Result) {
	if !t.st.HasPosition {
		invariantViolation("close-without-open for fill %s", f.FillKey)
	}
	lcID := t.st.LifecycleID

	t.endLifecycle(res, lcID, f.TimeMs)
	res.Effects = append(res.Effects, ledger.Effect{
		FillKey: f.FillKey, LifecycleID: lcID, Kind: ledger.EffectClose,
		Qty: f.Sz, Notional: f.Px.Mul(f.Sz), Fee: f.Fee, ClosedPnl: f.ClosedPnl,
	})
	res.Snapshots = append(res.Snapshots, ledger.Snapshot{
		User: t.user, Coin: t.coin, TimeMs: f.TimeMs, Seq: 0,
		NetSize: money.Zero, AvgEntryPx: money.Zero, LifecycleID: lcID,
	})

	t.st.HasPosition = false
	t.st.NetSize = money.Zero
	t.st.AvgEntryPx = money.Zero
}

// endLifecycle sets the end time on lifecycle id's entry in res when this
// Run opened it; a lifecycle opened before this Run gets an entry that
// carries only its end time.
func (t *Tracker) endLifecycle(res *Result, id int64, end money.TimeMs) {
	for i := range res.Lifecycles {
		if res.Lifecycles[i].ID == id {
			res.Lifecycles[i].EndTimeMs = &end
			return
		}
	}
	res.Lifecycles = append(res.Lifecycles, ledger.Lifecycle{ID: id, User: t.user, Coin: t.coin, EndTimeMs: &end})
}

func (t *Tracker) flip(f ledger.Fill, old, newSize money.Decimal, res *Result) {
	if !t.st.HasPosition {
		invariantViolation("flip-without-open for fill %s", f.FillKey)
	}
	oldLcID := t.st.LifecycleID
	closeQty := old.Abs()
	openQty := newSize.Abs()
	total := f.Sz

	// The fee is apportioned by quantity; the fill's entire closed_pnl
	// stays on the Close effect and the Open effect carries zero.
	closeFee := f.Fee.Mul(closeQty).Div(total, 18)
	openFee := f.Fee.Sub(closeFee)

	t.endLifecycle(res, oldLcID, f.TimeMs)
	res.Effects = append(res.Effects, ledger.Effect{
		FillKey: f.FillKey, LifecycleID: oldLcID, Kind: ledger.EffectClose,
		Qty: closeQty, Notional: f.Px.Mul(closeQty), Fee: closeFee, ClosedPnl: f.ClosedPnl,
	})
	res.Snapshots = append(res.Snapshots, ledger.Snapshot{
		User: t.user, Coin: t.coin, TimeMs: f.TimeMs, Seq: 0,
		NetSize: money.Zero, AvgEntryPx: money.Zero, LifecycleID: oldLcID,
	})

	newLcID := t.st.NextLifecycleID
	t.st.NextLifecycleID++
	res.Lifecycles = append(res.Lifecycles, ledger.Lifecycle{
		ID: newLcID, User: t.user, Coin: t.coin, StartTimeMs: f.TimeMs,
	})
	res.Effects = append(res.Effects, ledger.Effect{
		FillKey: f.FillKey, LifecycleID: newLcID, Kind: ledger.EffectOpen,
		Qty: openQty, Notional: f.Px.Mul(openQty), Fee: openFee, ClosedPnl: money.Zero,
	})
	res.Snapshots = append(res.Snapshots, ledger.Snapshot{
		User: t.user, Coin: t.coin, TimeMs: f.TimeMs, Seq: 1,
		NetSize: newSize, AvgEntryPx: f.Px, LifecycleID: newLcID,
	})

	t.st.LifecycleID = newLcID
	t.st.NetSize = newSize
	t.st.AvgEntryPx = f.Px
}

func (t *Tracker) increase(f ledger.Fill, old, newSize money.Decimal, res *Result) {
	if !t.st.HasPosition {
		invariantViolation("increase-without-open for fill %s", f.FillKey)
	}
	addedQty := newSize.Abs().Sub(old.Abs())
	weighted := old.Abs().Mul(t.st.AvgEntryPx).Add(addedQty.Mul(f.Px))
	newAvg := weighted.Div(newSize.Abs(), 18)

	lcID := t.st.LifecycleID
	res.Effects = append(res.Effects, ledger.Effect{
		FillKey: f.FillKey, LifecycleID: lcID, Kind: ledger.EffectOpen,
		Qty: f.Sz, Notional: f.Px.Mul(f.Sz), Fee: f.Fee, ClosedPnl: f.ClosedPnl,
	})
	res.Snapshots = append(res.Snapshots, ledger.Snapshot{
		User: t.user, Coin: t.coin, TimeMs: f.TimeMs, Seq: 0,
		NetSize: newSize, AvgEntryPx: newAvg, LifecycleID: lcID,
	})

	t.st.NetSize = newSize
	t.st.AvgEntryPx = newAvg
}

func (t *Tracker) partialClose(f ledger.Fill, res *Result) {
	if !t.st.HasPosition {
		invariantViolation("partial-close-without-open for fill %s", f.FillKey)
	}
	lcID := t.st.LifecycleID
	newSize := t.st.NetSize.Add(money.SignedQty(f.Side, f.Sz))

	res.Effects = append(res.Effects, ledger.Effect{
		FillKey: f.FillKey, LifecycleID: lcID, Kind: ledger.EffectClose,
		Qty: f.Sz, Notional: f.Px.Mul(f.Sz), Fee: f.Fee, ClosedPnl: f.ClosedPnl,
	})
	res.Snapshots = append(res.Snapshots, ledger.Snapshot{
		User: t.user, Coin: t.coin, TimeMs: f.TimeMs, Seq: 0,
		NetSize: newSize, AvgEntryPx: t.st.AvgEntryPx, LifecycleID: lcID,
	})

	t.st.NetSize = newSize
}
