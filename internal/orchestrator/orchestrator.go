// Package orchestrator drives ensure_compiled: ingest fresh fills, then
// compile every affected (user, coin) pair. Compilation for a single pair
// is serialized via singleflight (the watermark is shared mutable state);
// distinct pairs compile concurrently via errgroup.
package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rawblock/ledger-engine/internal/compiler"
	"github.com/rawblock/ledger-engine/internal/ingest"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// maxConcurrentCompiles bounds the errgroup fan-out across coins so one
// leaderboard request can't open unbounded DB connections.
const maxConcurrentCompiles = 8

type Orchestrator struct {
	ingestor *ingest.Ingestor
	compiler *compiler.Compiler
	repo     repository.Repository
	sf       singleflight.Group
}

func New(ingestor *ingest.Ingestor, comp *compiler.Compiler, repo repository.Repository) *Orchestrator {
	return &Orchestrator{ingestor: ingestor, compiler: comp, repo: repo}
}

// EnsureCompiled ingests fresh fills for user (optionally scoped to coin)
// over [from, to] and incrementally compiles every coin touched by that
// window, fanning out across coins concurrently while serializing
// compilation within a single (user, coin) pair.
func (o *Orchestrator) EnsureCompiled(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) error {
	var coinStr *string
	if coin != nil {
		s := string(*coin)
		coinStr = &s
	}
	if _, err := o.ingestor.EnsureIngested(ctx, user, coinStr, from, to); err != nil {
		return err
	}

	coins, err := o.coinsToCompile(ctx, user, coin, from, to)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCompiles)
	for _, c := range coins {
		c := c
		g.Go(func() error {
			return o.compileOne(gctx, user, c)
		})
	}
	if err := g.Wait(); err != nil {
		return ledger.Internal("compile fan-out", err)
	}
	return nil
}

func (o *Orchestrator) coinsToCompile(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) ([]money.Coin, error) {
	if coin != nil {
		return []money.Coin{*coin}, nil
	}
	coins, err := o.repo.QueryDistinctCoins(ctx, user, from, to)
	if err != nil {
		return nil, ledger.Internal("query distinct coins", err)
	}
	return coins, nil
}

// compileOne serializes concurrent compiles of the same (user, coin) pair
// into one actual compile via singleflight, since compile_incremental
// mutates shared watermark state that cannot be interleaved safely.
func (o *Orchestrator) compileOne(ctx context.Context, user money.Address, coin money.Coin) error {
	key := fmt.Sprintf("%s:%s", user, coin)
	_, err, _ := o.sf.Do(key, func() (any, error) {
		_, err := o.compiler.Compile(ctx, user, coin)
		return nil, err
	})
	return err
}
