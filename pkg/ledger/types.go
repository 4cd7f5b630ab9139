// Package ledger holds the data-model types shared by every stage of the
// ingest→compile→attribute→query pipeline: raw events, derived rows, and
// the small enums that tag them.
package ledger

import "github.com/rawblock/ledger-engine/pkg/money"

// Fill is a single raw trade execution reported by the upstream exchange.
// Fills are immutable once inserted; FillKey is a pure function of the
// content (see the identity package).
type Fill struct {
	FillKey    string
	User       money.Address
	Coin       money.Coin
	TimeMs     money.TimeMs
	Side       money.Side
	Px         money.Decimal
	Sz         money.Decimal
	Fee        money.Decimal
	ClosedPnl  money.Decimal
	BuilderFee *money.Decimal
	Tid        *string
	Oid        *string
}

// Deposit is a signed balance movement, immutable once inserted.
type Deposit struct {
	EventKey string
	User     money.Address
	TimeMs   money.TimeMs
	Amount   money.Decimal
	TxHash   *string
}

// Lifecycle is the interval during which a user held a non-zero net
// position in a coin.
type Lifecycle struct {
	ID          int64
	User        money.Address
	Coin        money.Coin
	StartTimeMs money.TimeMs
	EndTimeMs   *money.TimeMs
	IsTainted   bool
	TaintReason *string
}

// EffectKind distinguishes an Open contribution from a Close contribution.
type EffectKind string

const (
	EffectOpen  EffectKind = "Open"
	EffectClose EffectKind = "Close"
)

// Effect is the contribution of one fill to one lifecycle. A flip fill
// produces two Effects: a Close against the old lifecycle and an Open
// against the new one. The flip fill's entire ClosedPnl goes on the Close
// effect; the Open effect's ClosedPnl is zero.
type Effect struct {
	FillKey     string
	LifecycleID int64
	Kind        EffectKind
	Qty         money.Decimal // absolute value
	Notional    money.Decimal // Px * Qty
	Fee         money.Decimal // possibly apportioned, on a flip
	ClosedPnl   money.Decimal
}

// Snapshot is the position state after a specific fill. Seq disambiguates
// the two snapshots a flip emits at the same TimeMs.
type Snapshot struct {
	User        money.Address
	Coin        money.Coin
	TimeMs      money.TimeMs
	Seq         int
	NetSize     money.Decimal // signed
	AvgEntryPx  money.Decimal
	LifecycleID int64
	IsTainted   bool
}

// AttributionMode records which mechanism produced an Attribution decision.
type AttributionMode string

const (
	ModeHeuristic AttributionMode = "Heuristic"
	ModeLogs      AttributionMode = "Logs"
)

// Confidence grades how certain an Attribution decision is.
type Confidence string

const (
	ConfidenceExact Confidence = "Exact"
	ConfidenceFuzzy Confidence = "Fuzzy"
	ConfidenceLow   Confidence = "Low"
)

// Attribution is the per-fill builder-attribution decision. It is an
// explicit tagged value (Mode decides which fields are meaningful) rather
// than a subclass hierarchy, so all mode-specific behavior lives in the
// matcher that produces it.
type Attribution struct {
	FillKey     string
	Attributed  bool
	Mode        AttributionMode
	Confidence  Confidence
	Builder     *money.Address
}

// CompileState is the per-(user, coin) watermark plus the serialized
// tracker state needed to resume compilation without a full replay.
type CompileState struct {
	User                 money.Address
	Coin                 money.Coin
	LastCompiledTimeMs   *money.TimeMs
	LastCompiledFillKey  *string
	TrackerSnapshot      []byte // opaque to everything but the tracker package
	CompileVersion       int64
}

// EquitySnapshot is a cached equity value at a point in time.
type EquitySnapshot struct {
	User   money.Address
	TimeMs money.TimeMs
	Equity money.Decimal
}
