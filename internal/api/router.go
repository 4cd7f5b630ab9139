package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rawblock/ledger-engine/internal/equity"
	"github.com/rawblock/ledger-engine/internal/ingest"
	"github.com/rawblock/ledger-engine/internal/query"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// NewRouter builds the full HTTP surface: health/ready, the four
// per-user read endpoints, and the leaderboard fanning out across the
// configured users.
func NewRouter(agg *query.Aggregator, ingestor *ingest.Ingestor, resolver *equity.Resolver,
	leaderboardUsers []money.Address, rateLimitPerMin, rateLimitBurst int, log *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(NewRateLimiter(rateLimitPerMin, rateLimitBurst).Middleware())

	h := NewHandler(agg, ingestor, resolver)

	r.GET("/health", h.handleHealth)
	r.GET("/ready", h.handleReady)

	v1 := r.Group("/v1")
	{
		v1.GET("/trades", h.handleTrades)
		v1.GET("/positions/history", h.handlePositions)
		v1.GET("/pnl", h.handlePnl)
		v1.GET("/deposits", h.handleDeposits)
		v1.GET("/leaderboard", func(c *gin.Context) { h.handleLeaderboard(c, leaderboardUsers) })
	}

	return r
}
