// Package attribution decides, per fill, whether it was executed through a
// configured target builder: a cheap heuristic based on the upstream
// builder-fee field, or an exact/fuzzy match against the builder's own
// published fill logs.
package attribution

import "github.com/rawblock/ledger-engine/pkg/money"

// Mode selects which attribution mechanism runs.
type Mode string

const (
	ModeHeuristic Mode = "heuristic"
	ModeLogs      Mode = "logs"
	ModeAuto      Mode = "auto"
)

// BuilderLogFill is one row of a builder's published fill log, parsed from
// the LZ4-compressed daily CSV. The CSV has no tid or oid column, so
// ParseBuilderLogCSV leaves both nil; only a LogFetcher that has its own
// tid source (such as a test double) sets Tid.
type BuilderLogFill struct {
	TimeMs money.TimeMs
	User   money.Address
	Coin   money.Coin
	Side   money.Side
	Px     money.Decimal
	Sz     money.Decimal
	Tid    *string
	Oid    *string
}

// fuzzyThresholdMs bounds the time delta for a fuzzy log match.
const fuzzyThresholdMs = 1000

// fuzzyPriceSizeEpsilon bounds the price/size delta for a fuzzy log match.
var fuzzyPriceSizeEpsilon = money.MustParse("0.000001")
