package attribution

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// builderLogCSVColumns is the fixed column order of one day's builder fill
// log, as published by the exchange's stats endpoint.
var builderLogCSVColumns = []string{
	"time", "user", "coin", "side", "px", "sz", "crossed", "special_trade_type",
	"tif", "is_trigger", "counterparty", "closed_pnl", "twap_id", "builder_fee",
}

// ParseBuilderLogCSV decodes an LZ4-framed CSV stream into BuilderLogFill
// rows. It is the reusable parsing half of the logs contract; fetching the
// bytes over HTTP is a separate, out-of-scope collaborator.
func ParseBuilderLogCSV(r io.Reader) ([]BuilderLogFill, error) {
	zr := lz4.NewReader(r)
	cr := csv.NewReader(zr)
	cr.FieldsPerRecord = len(builderLogCSVColumns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("attribution: read builder log header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	var rows []BuilderLogFill
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("attribution: read builder log row: %w", err)
		}
		row, err := parseBuilderLogRow(rec, col)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseBuilderLogRow(rec []string, col map[string]int) (BuilderLogFill, error) {
	get := func(name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	t, err := time.Parse(time.RFC3339, get("time"))
	if err != nil {
		return BuilderLogFill{}, fmt.Errorf("attribution: invalid builder log timestamp %q: %w", get("time"), err)
	}
	user, err := money.ParseAddress(get("user"))
	if err != nil {
		return BuilderLogFill{}, fmt.Errorf("attribution: %w", err)
	}
	coin, err := money.ParseCoin(get("coin"))
	if err != nil {
		return BuilderLogFill{}, fmt.Errorf("attribution: %w", err)
	}
	side, err := parseBuilderLogSide(get("side"))
	if err != nil {
		return BuilderLogFill{}, fmt.Errorf("attribution: %w", err)
	}
	px, err := money.ParseDecimal(get("px"))
	if err != nil {
		return BuilderLogFill{}, fmt.Errorf("attribution: %w", err)
	}
	sz, err := money.ParseDecimal(get("sz"))
	if err != nil {
		return BuilderLogFill{}, fmt.Errorf("attribution: %w", err)
	}

	row := BuilderLogFill{TimeMs: money.TimeMs(t.UnixMilli()), User: user, Coin: coin, Side: side, Px: px, Sz: sz}
	return row, nil
}

// parseBuilderLogSide maps the builder log's own overloaded side tokens,
// distinct from the upstream fill side tokens handled by money.ParseSide.
func parseBuilderLogSide(raw string) (money.Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a", "buy", "bid":
		return money.Buy, nil
	case "b", "sell", "ask":
		return money.Sell, nil
	default:
		return "", fmt.Errorf("invalid builder log side %q", raw)
	}
}

// logsIndex is the in-memory lookup structure built from one or more days
// of builder log rows: an exact tid index plus a fuzzy match bucket keyed
// by (user, coin, side).
type logsIndex struct {
	byTid   map[string]BuilderLogFill
	buckets map[bucketKey][]BuilderLogFill
}

type bucketKey struct {
	user money.Address
	coin money.Coin
	side money.Side
}

func newLogsIndex(rows []BuilderLogFill) *logsIndex {
	idx := &logsIndex{
		byTid:   make(map[string]BuilderLogFill),
		buckets: make(map[bucketKey][]BuilderLogFill),
	}
	for _, row := range rows {
		if row.Tid != nil {
			idx.byTid[*row.Tid] = row
		}
		key := bucketKey{user: money.Address(strings.ToLower(string(row.User))), coin: money.Coin(strings.ToUpper(string(row.Coin))), side: row.Side}
		idx.buckets[key] = append(idx.buckets[key], row)
	}
	return idx
}

// matchExact looks a fill up by its own tid against the log's tid index.
func (idx *logsIndex) matchExact(f ledger.Fill) (BuilderLogFill, bool) {
	if f.Tid == nil {
		return BuilderLogFill{}, false
	}
	row, ok := idx.byTid[*f.Tid]
	return row, ok
}

// matchFuzzy scans the (user, coin, side) bucket for the closest candidate
// within the time/price/size tolerance, per §4.5's ranking tuple.
func (idx *logsIndex) matchFuzzy(f ledger.Fill) (BuilderLogFill, bool) {
	key := bucketKey{user: money.Address(strings.ToLower(string(f.User))), coin: money.Coin(strings.ToUpper(string(f.Coin))), side: f.Side}
	candidates := idx.buckets[key]

	var best BuilderLogFill
	var bestKey [3]string
	found := false
	for _, row := range candidates {
		dt := absInt64(int64(f.TimeMs) - int64(row.TimeMs))
		dpx := f.Px.Sub(row.Px).Abs()
		dsz := f.Sz.Sub(row.Sz).Abs()
		if dt > fuzzyThresholdMs || dpx.GreaterThan(fuzzyPriceSizeEpsilon) || dsz.GreaterThan(fuzzyPriceSizeEpsilon) {
			continue
		}
		rankKey := [3]string{padInt64(dt), dpx.String(), dsz.String()}
		if !found || lessRank(rankKey, tidOf(row), bestKey, tidOf(best)) {
			best, bestKey, found = row, rankKey, true
		}
	}
	return best, found
}

func tidOf(f BuilderLogFill) string {
	if f.Tid != nil {
		return *f.Tid
	}
	return ""
}

// lessRank compares two (|Δtime|,|Δpx|,|Δsz|) rank tuples lexically, tid as
// final tiebreaker, matching the deterministic ranking tuple from §4.5.
func lessRank(a [3]string, aTid string, b [3]string, bTid string) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return aTid < bTid
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// padInt64 renders a non-negative int64 as a fixed-width decimal string so
// lexical and numeric comparison agree.
func padInt64(v int64) string {
	return fmt.Sprintf("%020d", v)
}
