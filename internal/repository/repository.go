// Package repository is the durable store of raw fills, deposits,
// lifecycles, snapshots, effects, attributions, compile watermarks, and
// equity snapshots. The interface defined here is the contract every other
// component depends on; sqlite.go is the one concrete (SQLite) backend.
package repository

import (
	"context"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Repository is the full persistence contract described in §4.3.
type Repository interface {
	// Fills
	InsertFill(ctx context.Context, f ledger.Fill) (inserted bool, err error)
	InsertFillsBatch(ctx context.Context, fills []ledger.Fill) (newCount int, err error)
	QueryFills(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) ([]ledger.Fill, error)
	QueryFillsAfterWatermark(ctx context.Context, user money.Address, coin money.Coin, afterFillKey *string) ([]ledger.Fill, error)
	QueryDistinctCoins(ctx context.Context, user money.Address, from, to *money.TimeMs) ([]money.Coin, error)

	// Deposits
	InsertDeposits(ctx context.Context, deposits []ledger.Deposit) (newCount int, err error)
	QueryDeposits(ctx context.Context, user money.Address, from, to *money.TimeMs) ([]ledger.Deposit, error)

	// Derived tables
	InsertDerivedTablesAtomic(ctx context.Context, user money.Address, coin money.Coin,
		lifecycles []ledger.Lifecycle, snapshots []ledger.Snapshot, effects []ledger.Effect) error
	UpdateLifecycleTaints(ctx context.Context, updates []LifecycleTaintUpdate) error
	UpsertAttributionsFull(ctx context.Context, attrs []ledger.Attribution) error
	QueryAttributionsFull(ctx context.Context, fillKeys []string) (map[string]ledger.Attribution, error)
	QueryTaintedLifecycleIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	QueryLifecycleTaintStates(ctx context.Context, ids []int64) (map[int64]LifecycleTaintState, error)
	QuerySnapshots(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) ([]ledger.Snapshot, error)
	QueryEffects(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) ([]ledger.Effect, error)
	QueryLifecycle(ctx context.Context, id int64) (*ledger.Lifecycle, error)

	// Compile state
	StoreCompileState(ctx context.Context, user money.Address, coin money.Coin, timeMs money.TimeMs, fillKey string, trackerSnapshot []byte) error
	GetCompileState(ctx context.Context, user money.Address, coin money.Coin) (*ledger.CompileState, error)

	// Equity
	SumDepositsUpTo(ctx context.Context, user money.Address, at money.TimeMs) (money.Decimal, error)
	SumRealizedPnlBefore(ctx context.Context, user money.Address, at money.TimeMs) (money.Decimal, error)
	GetEquitySnapshotAtOrBefore(ctx context.Context, user money.Address, at money.TimeMs) (*ledger.EquitySnapshot, error)
	UpsertEquitySnapshot(ctx context.Context, snap ledger.EquitySnapshot) error

	// Shadow compiler
	InsertShadowDivergence(ctx context.Context, user money.Address, coin money.Coin, detectedAtMs money.TimeMs, detail string) error

	Close() error
}

// LifecycleTaintUpdate is one row of the taint-recomputation write-back.
type LifecycleTaintUpdate struct {
	LifecycleID int64
	IsTainted   bool
	TaintReason *string
}

// LifecycleTaintState is a lifecycle's persisted taint as of the last
// write, used to seed a new taint recomputation so it can only ever
// upgrade a lifecycle from clean to tainted, never the reverse.
type LifecycleTaintState struct {
	IsTainted   bool
	TaintReason *string
}
