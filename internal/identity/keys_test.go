package identity

import (
	"testing"

	"github.com/rawblock/ledger-engine/pkg/money"
)

func mustAddr(t *testing.T, s string) money.Address {
	t.Helper()
	a, err := money.ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	return a
}

func TestFillKeyPrefersTid(t *testing.T) {
	user := mustAddr(t, "0x1111111111111111111111111111111111111111")
	tid := "abc123"
	key := FillKey(user, "BTC", 1000, money.Buy, money.MustParse("1"), money.MustParse("1"),
		money.MustParse("0"), money.MustParse("0"), nil, &tid, nil)
	want := string(user) + ":BTC:tid:abc123"
	if key != want {
		t.Errorf("FillKey = %s, want %s", key, want)
	}
}

func TestFillKeyDeterministic(t *testing.T) {
	user := mustAddr(t, "0x1111111111111111111111111111111111111111")
	px := money.MustParse("50000")
	sz := money.MustParse("1")
	fee := money.MustParse("5")
	pnl := money.MustParse("0")

	k1 := FillKey(user, "BTC", 1000, money.Buy, px, sz, fee, pnl, nil, nil, nil)
	k2 := FillKey(user, "BTC", 1000, money.Buy, px, sz, fee, pnl, nil, nil, nil)
	if k1 != k2 {
		t.Errorf("FillKey not deterministic: %s != %s", k1, k2)
	}

	// Any differing content byte must change the key.
	k3 := FillKey(user, "BTC", 1001, money.Buy, px, sz, fee, pnl, nil, nil, nil)
	if k1 == k3 {
		t.Errorf("FillKey did not change when time_ms changed")
	}
}

func TestFillKeyBoundaryCollisionFree(t *testing.T) {
	px := money.MustParse("1")
	sz := money.MustParse("1")
	fee := money.MustParse("0")
	pnl := money.MustParse("0")

	// The classic boundary collision: (user="AB", coin="C") vs
	// (user="A", coin="BC") concatenate to the same bytes without length
	// prefixes.
	k1 := FillKey(money.Address("AB"), "C", 1000, money.Buy, px, sz, fee, pnl, nil, nil, nil)
	k2 := FillKey(money.Address("A"), "BC", 1000, money.Buy, px, sz, fee, pnl, nil, nil, nil)
	if k1 == k2 {
		t.Errorf("expected different keys for different (user, coin) boundaries")
	}
}

func TestDepositKeyPrefersTxHash(t *testing.T) {
	user := mustAddr(t, "0x1111111111111111111111111111111111111111")
	hash := "  0xDEADBEEF  "
	key := DepositKey(user, 1000, money.MustParse("100"), &hash)
	if key != "0xdeadbeef" {
		t.Errorf("DepositKey = %s, want normalized tx hash", key)
	}
}

func TestDepositKeyFallsBackToHash(t *testing.T) {
	user := mustAddr(t, "0x1111111111111111111111111111111111111111")
	k1 := DepositKey(user, 1000, money.MustParse("100"), nil)
	k2 := DepositKey(user, 1000, money.MustParse("100"), nil)
	if k1 != k2 {
		t.Errorf("DepositKey not deterministic without tx hash")
	}
	k3 := DepositKey(user, 1000, money.MustParse("101"), nil)
	if k1 == k3 {
		t.Errorf("DepositKey did not change when amount changed")
	}
}

func TestFillKeyIdempotentInsertSimulation(t *testing.T) {
	user := mustAddr(t, "0x1111111111111111111111111111111111111111")
	tid := "t1"
	seen := map[string]int{}
	for i := 0; i < 5; i++ {
		k := FillKey(user, "BTC", 1000, money.Buy, money.MustParse("1"), money.MustParse("1"),
			money.MustParse("0"), money.MustParse("0"), nil, &tid, nil)
		seen[k]++
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one distinct key, got %d", len(seen))
	}
	for _, count := range seen {
		if count != 5 {
			t.Errorf("expected 5 repeats of the same key, got %d", count)
		}
	}
}
