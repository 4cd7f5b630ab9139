package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/rawblock/ledger-engine/internal/attribution"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/internal/taint"
	"github.com/rawblock/ledger-engine/internal/tracker"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Compiler turns newly ingested fills for a (user, coin) pair into derived
// lifecycles, snapshots, and effects, resuming from the last persisted
// watermark rather than replaying the whole fill history. It also
// attributes the new fills to the configured builder and recomputes
// taint for every lifecycle the batch touched.
type Compiler struct {
	repo    repository.Repository
	matcher *attribution.Matcher
	taint   *taint.Computer
}

func New(repo repository.Repository, matcher *attribution.Matcher, taintComputer *taint.Computer) *Compiler {
	return &Compiler{repo: repo, matcher: matcher, taint: taintComputer}
}

// Compile fetches the fills after the stored watermark for (user, coin),
// runs them through a resumed tracker, and persists the result plus the
// new watermark. It is a no-op (but not an error) if there is nothing new
// to compile. Returns the number of fills compiled.
func (c *Compiler) Compile(ctx context.Context, user money.Address, coin money.Coin) (int, error) {
	cs, err := c.repo.GetCompileState(ctx, user, coin)
	if err != nil {
		return 0, ledger.Internal("load compile state", err)
	}

	var st tracker.State
	var afterKey *string
	if cs != nil {
		st, err = DecodeState(cs.TrackerSnapshot)
		if err != nil {
			return 0, ledger.Internal("decode tracker snapshot", err)
		}
		afterKey = cs.LastCompiledFillKey
	} else {
		st, _ = DecodeState(nil)
	}

	fills, err := c.repo.QueryFillsAfterWatermark(ctx, user, coin, afterKey)
	if err != nil {
		return 0, ledger.Internal("query fills after watermark", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	result := tracker.New(user, coin, st).Run(fills)

	if err := c.repo.InsertDerivedTablesAtomic(ctx, user, coin, result.Lifecycles, result.Snapshots, result.Effects); err != nil {
		return 0, ledger.Internal("persist derived tables", err)
	}

	if err := c.attributeAndTaint(ctx, fills, result.Effects); err != nil {
		return 0, err
	}

	blob, err := EncodeState(result.State)
	if err != nil {
		return 0, ledger.Internal("encode tracker snapshot", err)
	}
	last := fills[len(fills)-1]
	if err := c.repo.StoreCompileState(ctx, user, coin, last.TimeMs, last.FillKey, blob); err != nil {
		return 0, ledger.Internal("store compile state", err)
	}
	return len(fills), nil
}

// attributeAndTaint attributes the fills just compiled, persists those
// attributions, and recomputes taint for every lifecycle the batch's
// effects touched.
func (c *Compiler) attributeAndTaint(ctx context.Context, fills []ledger.Fill, effects []ledger.Effect) error {
	attrs, err := c.matcher.Attribute(ctx, fills)
	if err != nil {
		return ledger.Internal("attribute fills", err)
	}
	if err := c.repo.UpsertAttributionsFull(ctx, attrs); err != nil {
		return ledger.Internal("persist attributions", err)
	}

	fillLifecycles := make(map[string][]int64, len(effects))
	fillKeys := make([]string, 0, len(effects))
	seen := make(map[string]bool, len(effects))
	lcIDs := make([]int64, 0, len(effects))
	seenLc := make(map[int64]bool, len(effects))
	for _, e := range effects {
		fillLifecycles[e.FillKey] = append(fillLifecycles[e.FillKey], e.LifecycleID)
		if !seen[e.FillKey] {
			seen[e.FillKey] = true
			fillKeys = append(fillKeys, e.FillKey)
		}
		if !seenLc[e.LifecycleID] {
			seenLc[e.LifecycleID] = true
			lcIDs = append(lcIDs, e.LifecycleID)
		}
	}
	sort.Strings(fillKeys)

	attrByKey, err := c.repo.QueryAttributionsFull(ctx, fillKeys)
	if err != nil {
		return ledger.Internal("query attributions", err)
	}

	// A lifecycle touched by this batch may already carry taint from a
	// fill compiled in an earlier batch that is out of view here (e.g. an
	// increase on a lifecycle whose opening fill was unattributed). Seed
	// the recompute with that persisted state so taint can only upgrade.
	prior, err := c.repo.QueryLifecycleTaintStates(ctx, lcIDs)
	if err != nil {
		return ledger.Internal("query prior lifecycle taint states", err)
	}

	updates := c.taint.Recompute(fillLifecycles, attrByKey, prior)
	if err := c.repo.UpdateLifecycleTaints(ctx, updates); err != nil {
		return ledger.Internal("update lifecycle taints", err)
	}
	return nil
}

// FullReplay recompiles a (user, coin) pair from the beginning of history,
// ignoring any stored watermark. It never writes to the repository; it is
// used only to produce a comparison state for the shadow consistency
// checker and for tests that assert resume-equals-replay.
func FullReplay(ctx context.Context, repo repository.Repository, user money.Address, coin money.Coin) (tracker.Result, error) {
	fills, err := repo.QueryFills(ctx, user, &coin, nil, nil)
	if err != nil {
		return tracker.Result{}, fmt.Errorf("compiler: query full history for %s/%s: %w", user, coin, err)
	}
	return tracker.NewFlat(user, coin).Run(fills), nil
}
