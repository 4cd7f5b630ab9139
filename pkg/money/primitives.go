package money

import (
	"fmt"
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Address is a lowercased hex account address, "0x" + 40 hex digits.
type Address string

// ParseAddress normalizes and validates a raw address string.
func ParseAddress(raw string) (Address, error) {
	a := Address(strings.ToLower(strings.TrimSpace(raw)))
	if !addressPattern.MatchString(string(a)) {
		return "", fmt.Errorf("money: invalid address %q", raw)
	}
	return a, nil
}

func (a Address) String() string { return string(a) }

// Coin is an uppercased ticker symbol, e.g. "BTC".
type Coin string

// ParseCoin normalizes a coin symbol. Empty is rejected; callers that want
// to express "all coins" use a *Coin pointer set to nil, not an empty Coin.
func ParseCoin(raw string) (Coin, error) {
	c := Coin(strings.ToUpper(strings.TrimSpace(raw)))
	if c == "" {
		return "", fmt.Errorf("money: empty coin symbol")
	}
	return c, nil
}

func (c Coin) String() string { return string(c) }

// TimeMs is a Unix millisecond timestamp.
type TimeMs int64

// Side is the direction of a fill.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// ParseSide maps the unambiguous upstream fill side token onto the
// canonical enum. Builder-log CSV rows use a different, overloaded token
// set (a/buy/bid vs b/sell/ask) handled separately by the attribution
// package, since that mapping is specific to that one CSV schema.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "b":
		return Buy, nil
	case "sell", "s":
		return Sell, nil
	default:
		return "", fmt.Errorf("money: invalid side %q", raw)
	}
}

// SignedQty returns sz with the sign implied by side: positive for Buy,
// negative for Sell.
func SignedQty(side Side, sz Decimal) Decimal {
	if side == Sell {
		return sz.Neg()
	}
	return sz
}
