package lending

import (
	"math/big"
	"testing"
)

func TestRayMulRoundsHalfAwayFromZero(t *testing.T) {
	if got := rayMul(big.NewInt(1), halfRay); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("exact half should round up: got %s want 1", got)
	}
	belowHalf := new(big.Int).Sub(halfRay, big.NewInt(1))
	if got := rayMul(big.NewInt(1), belowHalf); got.Sign() != 0 {
		t.Fatalf("below half should round down: got %s want 0", got)
	}
	if got := rayMul(big.NewInt(7), ray); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("identity: got %s want 7", got)
	}
}

func TestRayDivExactDivisionsStayExact(t *testing.T) {
	// A unit divisor must never pick up a rounding bump.
	want := new(big.Int).Mul(big.NewInt(5), ray)
	if got := rayDiv(big.NewInt(5), big.NewInt(1)); got.Cmp(want) != 0 {
		t.Fatalf("divisor one: got %s want %s", got, want)
	}
	if got := rayDiv(big.NewInt(6), big.NewInt(3)); got.Cmp(new(big.Int).Mul(big.NewInt(2), ray)) != 0 {
		t.Fatalf("exact division: got %s want 2 ray", got)
	}
}

func TestRayDivOddDivisorRoundsDownBelowHalf(t *testing.T) {
	// 1 ray / 3 leaves remainder 1/3 < 1/2, so the quotient floors to a
	// string of threes rather than rounding up.
	want, _ := new(big.Int).SetString("333333333333333333333333333", 10)
	if got := rayDiv(big.NewInt(1), big.NewInt(3)); got.Cmp(want) != 0 {
		t.Fatalf("one third: got %s want %s", got, want)
	}
}

func TestPercentMulRounding(t *testing.T) {
	if got := percentMul(big.NewInt(1_000), 10_000); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("100%%: got %s want 1000", got)
	}
	// 1 * 49.99% = 0.4999 rounds down, 1 * 50% = 0.5 rounds up.
	if got := percentMul(big.NewInt(1), 4_999); got.Sign() != 0 {
		t.Fatalf("below half: got %s want 0", got)
	}
	if got := percentMul(big.NewInt(1), 5_000); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("exact half: got %s want 1", got)
	}
}
