package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestScaledPoolDepositWithdraw(t *testing.T) {
	p := NewScaledPool(exactModel(), 0, big.NewInt(1_000_000), big.NewInt(0))

	if err := p.Deposit(big.NewInt(100_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := p.DepositOf(); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("deposit of: got %s want 100000", got)
	}
	if err := p.Withdraw(big.NewInt(40_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := p.DepositOf(); got.Cmp(big.NewInt(60_000)) != 0 {
		t.Fatalf("deposit of: got %s want 60000", got)
	}
	if err := p.Withdraw(big.NewInt(100_000)); !errors.Is(err, errPoolInsufficientDeposit) {
		t.Fatalf("over-withdraw: got %v want %v", err, errPoolInsufficientDeposit)
	}
	if err := p.Deposit(big.NewInt(0)); !errors.Is(err, errPoolInvalidAmount) {
		t.Fatalf("zero deposit: got %v want %v", err, errPoolInvalidAmount)
	}
}

func TestScaledPoolBorrowRepay(t *testing.T) {
	p := NewScaledPool(exactModel(), 0, big.NewInt(1_000_000), big.NewInt(0))

	if err := p.Borrow(big.NewInt(100_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := p.DebtOf(); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("debt of: got %s want 100000", got)
	}
	if err := p.Repay(big.NewInt(150_000)); !errors.Is(err, errPoolExcessRepay) {
		t.Fatalf("excess repay: got %v want %v", err, errPoolExcessRepay)
	}
	// Rounding dust above the accounted debt is absorbed, not rejected.
	if err := p.Repay(big.NewInt(100_500)); err != nil {
		t.Fatalf("dust repay: %v", err)
	}
	if got := p.DebtOf(); got.Sign() != 0 {
		t.Fatalf("debt not cleared: %s", got)
	}
}

func TestScaledPoolAccruesInterest(t *testing.T) {
	ambient := big.NewInt(1_000_000_000_000)
	p := NewScaledPool(exactModel(), 1_000, ambient, new(big.Int).Quo(ambient, big.NewInt(2)))

	if err := p.Deposit(big.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := p.Borrow(big.NewInt(1_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	p.AdvanceBlocks(blocksPerYear)

	supplyIndex, err := p.SupplyIndex()
	if err != nil {
		t.Fatalf("supply index: %v", err)
	}
	borrowIndex, err := p.BorrowIndex()
	if err != nil {
		t.Fatalf("borrow index: %v", err)
	}
	if supplyIndex.Cmp(ray) <= 0 {
		t.Fatalf("supply index did not grow: %s", supplyIndex)
	}
	if borrowIndex.Cmp(supplyIndex) <= 0 {
		t.Fatalf("borrow index should outpace supply index: %s <= %s", borrowIndex, supplyIndex)
	}
	if got := p.DepositOf(); got.Cmp(big.NewInt(1_000_000)) <= 0 {
		t.Fatalf("deposit did not accrue: %s", got)
	}
	if got := p.DebtOf(); got.Cmp(big.NewInt(1_000_000)) <= 0 {
		t.Fatalf("debt did not accrue: %s", got)
	}
}

func TestExchangeRatePoolNormalisesToRay(t *testing.T) {
	initial := new(big.Int).Quo(wad, big.NewInt(50)) // 0.02 underlying per token
	ambient := big.NewInt(1_000_000_000_000)
	p := NewExchangeRatePool(exactModel(), 1_000, initial, ambient, new(big.Int).Quo(ambient, big.NewInt(2)))

	supplyIndex, err := p.SupplyIndex()
	if err != nil {
		t.Fatalf("supply index: %v", err)
	}
	if supplyIndex.Cmp(ray) != 0 {
		t.Fatalf("initial supply index: got %s want ray", supplyIndex)
	}

	if err := p.Deposit(big.NewInt(100_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	p.AdvanceBlocks(blocksPerYear)

	supplyIndex, err = p.SupplyIndex()
	if err != nil {
		t.Fatalf("supply index: %v", err)
	}
	if supplyIndex.Cmp(ray) <= 0 {
		t.Fatalf("supply index did not grow: %s", supplyIndex)
	}
	if err := p.Withdraw(big.NewInt(100_000)); err != nil {
		t.Fatalf("withdraw after accrual: %v", err)
	}
	if err := p.Withdraw(ambient); !errors.Is(err, errPoolInsufficientDeposit) {
		t.Fatalf("over-withdraw: got %v want %v", err, errPoolInsufficientDeposit)
	}
}
