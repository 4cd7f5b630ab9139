// Package warmer periodically pre-compiles configured users so their
// first real request never pays the full ingest+compile latency.
package warmer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/ledger-engine/internal/orchestrator"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Warmer drives Orchestrator.EnsureCompiled for a fixed set of users on a
// timer. It never touches a coin filter or window, so every configured
// user's full coin set gets warmed each tick.
type Warmer struct {
	orc      *orchestrator.Orchestrator
	users    []money.Address
	interval time.Duration
	log      *logrus.Logger
}

func New(orc *orchestrator.Orchestrator, users []money.Address, interval time.Duration, log *logrus.Logger) *Warmer {
	return &Warmer{orc: orc, users: users, interval: interval, log: log}
}

// Run blocks until ctx is cancelled. Callers with interval <= 0 or no
// configured users should not start it at all.
func (w *Warmer) Run(ctx context.Context) {
	if len(w.users) == 0 || w.interval <= 0 {
		w.log.Info("warmer disabled: no leaderboard users or zero interval")
		return
	}

	w.log.WithField("interval", w.interval).WithField("users", len(w.users)).Info("starting compile warmer")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.warmOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping compile warmer")
			return
		case <-ticker.C:
			w.warmOnce(ctx)
		}
	}
}

func (w *Warmer) warmOnce(ctx context.Context) {
	for _, u := range w.users {
		if err := w.orc.EnsureCompiled(ctx, u, nil, nil, nil); err != nil {
			w.log.WithError(err).WithField("user", u).Warn("warmer compile failed")
		}
	}
}
