// Package shadow periodically re-derives a (user, coin) pair from a full
// replay and compares it against what incremental compilation actually
// persisted, to catch drift between the two code paths before it reaches
// a response. No divergence here ever mutates the persisted state; it
// only gets logged and recorded for later inspection.
package shadow

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/ledger-engine/internal/compiler"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Checker compares incrementally-compiled state against a from-scratch
// replay for a configured set of (user, coin) pairs.
type Checker struct {
	repo     repository.Repository
	interval time.Duration
	pairs    []Pair
	log      *logrus.Logger
}

// Pair is one (user, coin) combination to shadow-check.
type Pair struct {
	User money.Address
	Coin money.Coin
}

func New(repo repository.Repository, pairs []Pair, interval time.Duration, log *logrus.Logger) *Checker {
	return &Checker{repo: repo, pairs: pairs, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, checking every configured pair once
// per tick. Callers with interval <= 0 or no configured pairs should not
// start it at all.
func (c *Checker) Run(ctx context.Context) {
	if len(c.pairs) == 0 || c.interval <= 0 {
		c.log.Info("shadow checker disabled: no configured pairs or zero interval")
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping shadow checker")
			return
		case <-ticker.C:
			c.checkAll(ctx)
		}
	}
}

func (c *Checker) checkAll(ctx context.Context) {
	for _, p := range c.pairs {
		if err := c.CheckOne(ctx, p.User, p.Coin); err != nil {
			c.log.WithError(err).WithField("user", p.User).WithField("coin", p.Coin).Warn("shadow check failed")
		}
	}
}

// CheckOne replays (user, coin) from scratch and compares the resulting
// final position against the latest persisted snapshot. A mismatch is
// logged and persisted to shadow_divergences; it is never auto-repaired.
func (c *Checker) CheckOne(ctx context.Context, user money.Address, coin money.Coin) error {
	replay, err := compiler.FullReplay(ctx, c.repo, user, coin)
	if err != nil {
		return fmt.Errorf("shadow: full replay: %w", err)
	}

	persisted, err := c.repo.QuerySnapshots(ctx, user, &coin, nil, nil)
	if err != nil {
		return fmt.Errorf("shadow: query snapshots: %w", err)
	}

	var replayedNetSize, replayedAvgEntryPx money.Decimal
	if n := len(replay.Snapshots); n > 0 {
		last := replay.Snapshots[n-1]
		replayedNetSize, replayedAvgEntryPx = last.NetSize, last.AvgEntryPx
	}

	var persistedNetSize, persistedAvgEntryPx money.Decimal
	var at money.TimeMs
	if n := len(persisted); n > 0 {
		last := latestSnapshot(persisted)
		persistedNetSize, persistedAvgEntryPx = last.NetSize, last.AvgEntryPx
		at = last.TimeMs
	}

	if replayedNetSize.Equal(persistedNetSize) && replayedAvgEntryPx.Equal(persistedAvgEntryPx) {
		return nil
	}

	detail := fmt.Sprintf("replay net_size=%s avg_entry_px=%s, persisted net_size=%s avg_entry_px=%s",
		replayedNetSize, replayedAvgEntryPx, persistedNetSize, persistedAvgEntryPx)
	c.log.WithField("user", user).WithField("coin", coin).Warn("shadow divergence: " + detail)

	if err := c.repo.InsertShadowDivergence(ctx, user, coin, at, detail); err != nil {
		return fmt.Errorf("shadow: persist divergence: %w", err)
	}
	return nil
}

func latestSnapshot(snaps []ledger.Snapshot) ledger.Snapshot {
	best := snaps[0]
	for _, s := range snaps[1:] {
		if s.TimeMs > best.TimeMs || (s.TimeMs == best.TimeMs && s.Seq > best.Seq) {
			best = s
		}
	}
	return best
}
