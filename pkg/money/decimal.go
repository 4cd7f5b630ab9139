// Package money implements lossless fixed-precision decimal arithmetic and
// the small set of typed wrappers (address, coin, timestamp, side) shared
// across the ledger engine.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is an arbitrary-precision, exact decimal value. It never uses a
// float64 internally — every arithmetic operation is exact modulo the
// divisor precision of Div, matching the requirement that monetary sums
// never pass through a lossy representation.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// NewFromInt builds a Decimal from an integer value.
func NewFromInt(v int64) Decimal {
	return Decimal{d: decimal.NewFromInt(v)}
}

// ParseDecimal parses a canonical decimal string. Empty, non-numeric, or
// overflowing input is rejected.
func ParseDecimal(s string) (Decimal, error) {
	if s == "" {
		return Decimal{}, fmt.Errorf("money: empty decimal string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustParse parses s and panics on error. Reserved for constants in tests
// and migrations where the input is known-good at compile time.
func MustParse(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) Add(other Decimal) Decimal { return Decimal{d: d.d.Add(other.d)} }
func (d Decimal) Sub(other Decimal) Decimal { return Decimal{d: d.d.Sub(other.d)} }
func (d Decimal) Mul(other Decimal) Decimal { return Decimal{d: d.d.Mul(other.d)} }

// Div divides d by other to the given decimal places, rounding half-up.
// Division is the one operation that cannot always be exact (e.g. 1/3), so
// callers must fix a precision; every other operation here is exact.
func (d Decimal) Div(other Decimal, places int32) Decimal {
	return Decimal{d: d.d.DivRound(other.d, places)}
}

func (d Decimal) Abs() Decimal    { return Decimal{d: d.d.Abs()} }
func (d Decimal) Neg() Decimal    { return Decimal{d: d.d.Neg()} }
func (d Decimal) IsZero() bool    { return d.d.IsZero() }
func (d Decimal) IsNegative() bool { return d.d.Sign() < 0 }
func (d Decimal) IsPositive() bool { return d.d.Sign() > 0 }
func (d Decimal) Sign() int       { return d.d.Sign() }

// Cmp returns -1/0/1 per the usual comparator contract.
func (d Decimal) Cmp(other Decimal) int { return d.d.Cmp(other.d) }

func (d Decimal) GreaterThan(other Decimal) bool      { return d.d.Cmp(other.d) > 0 }
func (d Decimal) LessThan(other Decimal) bool         { return d.d.Cmp(other.d) < 0 }
func (d Decimal) GreaterThanOrEqual(other Decimal) bool { return d.d.Cmp(other.d) >= 0 }
func (d Decimal) Equal(other Decimal) bool            { return d.d.Equal(other.d) }

// String renders the canonical, non-scientific, trailing-zero-normalized
// form used everywhere a decimal crosses the wire.
func (d Decimal) String() string {
	return d.d.String()
}

// Float64 is provided only for computed display ratios (returnPct) where the
// spec itself expresses the result as a plain percentage; it is never used
// for money that is later summed.
func (d Decimal) Float64() float64 {
	f, _ := d.d.Float64()
	return f
}

// MarshalJSON encodes the decimal as a JSON string, per the wire contract.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.d.String() + `"`), nil
}

// UnmarshalJSON accepts both a quoted string and a bare JSON number, since
// upstream fixtures occasionally emit the latter.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer so a Decimal can be bound directly into a
// SQL statement; it is stored as its canonical string form.
func (d Decimal) Value() (driver.Value, error) {
	return d.d.String(), nil
}

// Scan implements sql.Scanner, the mirror of Value.
func (d *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Zero
		return nil
	case string:
		parsed, err := ParseDecimal(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		parsed, err := ParseDecimal(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T into Decimal", src)
	}
}

// Sum adds a slice of Decimals left to right in Decimal space — never via a
// database SUM() and never by accumulating in float64.
func Sum(values []Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
