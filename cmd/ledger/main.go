package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawblock/ledger-engine/internal/api"
	"github.com/rawblock/ledger-engine/internal/attribution"
	"github.com/rawblock/ledger-engine/internal/compiler"
	"github.com/rawblock/ledger-engine/internal/config"
	"github.com/rawblock/ledger-engine/internal/equity"
	"github.com/rawblock/ledger-engine/internal/ingest"
	"github.com/rawblock/ledger-engine/internal/logging"
	"github.com/rawblock/ledger-engine/internal/orchestrator"
	"github.com/rawblock/ledger-engine/internal/query"
	"github.com/rawblock/ledger-engine/internal/repository"
	"github.com/rawblock/ledger-engine/internal/shadow"
	"github.com/rawblock/ledger-engine/internal/taint"
	"github.com/rawblock/ledger-engine/internal/warmer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.LogLevel)
	log.Info("starting ledger engine")

	repo, err := repository.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open repository")
	}
	defer repo.Close()

	source := ingest.NewHTTPDataSource(cfg.UpstreamAPIURL)
	ingestor := ingest.New(source, repo, cfg.LookbackMs)
	fetcher := attribution.NewHTTPLogFetcher(cfg.UpstreamAPIURL)
	matcher := attribution.New(cfg.BuilderAttributionMode, cfg.TargetBuilder, fetcher, log)
	comp := compiler.New(repo, matcher, taint.New())
	orc := orchestrator.New(ingestor, comp, repo)
	resolver := equity.New(repo)
	agg := query.New(orc, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := warmer.New(orc, cfg.LeaderboardUsers, cfg.WarmerInterval(), log)
	go w.Run(ctx)

	shadowPairs := make([]shadow.Pair, 0, len(cfg.LeaderboardUsers))
	for _, u := range cfg.LeaderboardUsers {
		shadowPairs = append(shadowPairs, shadow.Pair{User: u, Coin: ""})
	}
	sc := shadow.New(repo, shadowPairs, cfg.WarmerInterval(), log)
	go sc.Run(ctx)

	router := api.NewRouter(agg, ingestor, resolver, cfg.LeaderboardUsers, cfg.RateLimitPerMin, cfg.RateLimitBurst, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
