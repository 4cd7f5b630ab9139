package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ledger-engine/internal/equity"
	"github.com/rawblock/ledger-engine/internal/ingest"
	"github.com/rawblock/ledger-engine/internal/query"
	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Handler bundles the collaborators every endpoint needs.
type Handler struct {
	agg      *query.Aggregator
	ingestor *ingest.Ingestor
	resolver *equity.Resolver
}

func NewHandler(agg *query.Aggregator, ingestor *ingest.Ingestor, resolver *equity.Resolver) *Handler {
	return &Handler{agg: agg, ingestor: ingestor, resolver: resolver}
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, "ok")
}

func (h *Handler) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, "ready")
}

func (h *Handler) handleTrades(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	trades, tainted, err := h.agg.Trades(c.Request.Context(), w, parseBool(c, "builderOnly"))
	if !writeIfError(c, err) {
		return
	}
	c.JSON(http.StatusOK, toTradesResponse(trades, tainted))
}

func (h *Handler) handlePositions(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	snaps, tainted, err := h.agg.Positions(c.Request.Context(), w, parseBool(c, "builderOnly"))
	if !writeIfError(c, err) {
		return
	}
	c.JSON(http.StatusOK, toPositionsResponse(snaps, tainted))
}

func (h *Handler) handlePnl(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	maxStartCapital, ok := parseOptionalDecimal(c, "maxStartCapital")
	if !ok {
		return
	}
	result, err := h.agg.Pnl(c.Request.Context(), w, parseBool(c, "builderOnly"), query.PnlGross, maxStartCapital, h.resolver)
	if !writeIfError(c, err) {
		return
	}
	c.JSON(http.StatusOK, toPnlResponse(result))
}

func (h *Handler) handleDeposits(c *gin.Context) {
	user, ok := parseUser(c)
	if !ok {
		return
	}
	from, to, ok := parseTimeRange(c)
	if !ok {
		return
	}
	result, err := h.agg.Deposits(c.Request.Context(), h.ingestor, user, from, to)
	if !writeIfError(c, err) {
		return
	}
	c.JSON(http.StatusOK, toDepositsResponse(result))
}

func (h *Handler) handleLeaderboard(c *gin.Context, users []money.Address) {
	metric := query.Metric(c.Query("metric"))
	coin, ok := parseOptionalCoin(c)
	if !ok {
		return
	}
	from, to, ok := parseTimeRange(c)
	if !ok {
		return
	}
	maxStartCapital, ok := parseOptionalDecimal(c, "maxStartCapital")
	if !ok {
		return
	}
	rows, err := h.agg.Leaderboard(c.Request.Context(), users, coin, from, to, parseBool(c, "builderOnly"), metric, maxStartCapital, h.resolver)
	if !writeIfError(c, err) {
		return
	}
	c.JSON(http.StatusOK, toLeaderboardResponse(rows))
}

func parseUser(c *gin.Context) (money.Address, bool) {
	addr, err := money.ParseAddress(c.Query("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return addr, true
}

func parseOptionalCoin(c *gin.Context) (*money.Coin, bool) {
	raw := c.Query("coin")
	if raw == "" {
		return nil, true
	}
	coin, err := money.ParseCoin(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return &coin, true
}

func parseTimeRange(c *gin.Context) (from, to *money.TimeMs, ok bool) {
	if raw := c.Query("fromMs"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fromMs must be an integer"})
			return nil, nil, false
		}
		t := money.TimeMs(v)
		from = &t
	}
	if raw := c.Query("toMs"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "toMs must be an integer"})
			return nil, nil, false
		}
		t := money.TimeMs(v)
		to = &t
	}
	return from, to, true
}

func parseOptionalDecimal(c *gin.Context, key string) (*money.Decimal, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	d, err := money.ParseDecimal(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a decimal string"})
		return nil, false
	}
	return &d, true
}

func parseBool(c *gin.Context, key string) bool {
	return strings.EqualFold(c.Query(key), "true")
}

func parseWindow(c *gin.Context) (query.Window, bool) {
	user, ok := parseUser(c)
	if !ok {
		return query.Window{}, false
	}
	coin, ok := parseOptionalCoin(c)
	if !ok {
		return query.Window{}, false
	}
	from, to, ok := parseTimeRange(c)
	if !ok {
		return query.Window{}, false
	}
	return query.Window{User: user, Coin: coin, From: from, To: to}, true
}

// writeIfError writes the appropriate error response and returns false
// when err is non-nil; callers should return immediately when it does.
func writeIfError(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	status := http.StatusInternalServerError
	var lerr *ledger.Error
	if errors.As(err, &lerr) && lerr.Kind == ledger.KindBadRequest {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
	return false
}
