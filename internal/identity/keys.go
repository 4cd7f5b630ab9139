// Package identity derives the deterministic, content-addressed keys that
// make every external event idempotent: the same fill or deposit, fetched
// any number of times, always collapses to the same key.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// hashLen is the number of leading SHA-256 bytes kept. 16 bytes (128 bits)
// gives a ~2^64 birthday bound — ample headroom for an identifier whose
// failure mode is "two distinct fills collapse to one row", not a security
// boundary.
const hashLen = 16

// writer accumulates length-prefixed fields the way FillKey/DepositKey
// require: every string field is preceded by its 4-byte little-endian
// length so that no concatenation of variable-length fields can collide
// across a field boundary (user="AB",coin="C" must hash differently than
// user="A",coin="BC").
type writer struct {
	buf []byte
}

func (w *writer) str(s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, s...)
}

func (w *writer) i64le(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) byte(b byte) {
	w.buf = append(w.buf, b)
}

// presence writes a single flag byte followed by the string if present,
// so "field absent" and "field present but empty" never hash the same.
func (w *writer) presenceStr(v *string) {
	if v == nil {
		w.byte(0)
		return
	}
	w.byte(1)
	w.str(*v)
}

func (w *writer) presenceDecimal(v *money.Decimal) {
	if v == nil {
		w.byte(0)
		return
	}
	w.byte(1)
	w.str(v.String())
}

func (w *writer) hash() string {
	sum := sha256.Sum256(w.buf)
	return "hash:" + hex.EncodeToString(sum[:hashLen])
}

func sideByte(s money.Side) byte {
	if s == money.Sell {
		return 'S'
	}
	return 'B'
}

// FillKey derives the unique, idempotent key for a fill. If the upstream
// tid is present, the key is a scoped literal string (cheap and legible in
// logs); otherwise it is a length-prefixed SHA-256 over the fill's content,
// in the exact field order specified.
func FillKey(user money.Address, coin money.Coin, timeMs money.TimeMs, side money.Side,
	px, sz, fee, closedPnl money.Decimal, builderFee *money.Decimal, tid, oid *string) string {

	if tid != nil && *tid != "" {
		return string(user) + ":" + string(coin) + ":tid:" + *tid
	}

	w := &writer{}
	w.str(string(user))
	w.str(string(coin))
	w.i64le(int64(timeMs))
	w.byte(sideByte(side))
	w.str(px.String())
	w.str(sz.String())
	w.str(fee.String())
	w.str(closedPnl.String())
	w.presenceDecimal(builderFee)
	w.presenceStr(oid)
	return w.hash()
}

// FillKeyForFill is a convenience wrapper over FillKey for a fully
// populated ledger.Fill.
func FillKeyForFill(f ledger.Fill) string {
	return FillKey(f.User, f.Coin, f.TimeMs, f.Side, f.Px, f.Sz, f.Fee, f.ClosedPnl, f.BuilderFee, f.Tid, f.Oid)
}

// DepositKey derives the unique, idempotent key for a deposit. A
// normalized tx hash is preferred when present; otherwise the key is a
// length-prefixed SHA-256 over (user, time, amount).
func DepositKey(user money.Address, timeMs money.TimeMs, amount money.Decimal, txHash *string) string {
	if txHash != nil {
		normalized := strings.ToLower(strings.TrimSpace(*txHash))
		if normalized != "" {
			return normalized
		}
	}

	w := &writer{}
	w.str(string(user))
	w.i64le(int64(timeMs))
	w.str(amount.String())
	return w.hash()
}

// DepositKeyForDeposit is a convenience wrapper over DepositKey.
func DepositKeyForDeposit(d ledger.Deposit) string {
	return DepositKey(d.User, d.TimeMs, d.Amount, d.TxHash)
}
