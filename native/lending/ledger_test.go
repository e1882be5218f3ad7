package lending

import (
	"math/big"
	"testing"
)

func newTestState(t *testing.T) (*MarketStore, *Ledger, *MarketState) {
	t.Helper()
	store := NewMarketStore()
	cfg := MarketConfig{Underlying: testAddr(0xAA), Symbol: "TST"}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	st := newMarketState(cfg.market())
	store.add(st)
	return store, newLedger(store), st
}

func TestSetBalanceSyncsRegistriesAndAggregates(t *testing.T) {
	store, ledger, st := newTestState(t)
	alice := testAddr(1)

	prev, next := ledger.setBalance(st, alice, SideSupply, big.NewInt(30), big.NewInt(70), ray, ray)
	if prev.Sign() != 0 || next.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("underlying: prev=%s next=%s want 0/100", prev, next)
	}

	if got := st.registry(SideSupply, tierInP2P).BalanceOf(alice); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("matched registry: got %s want 30", got)
	}
	if got := st.registry(SideSupply, tierOnPool).BalanceOf(alice); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("pool registry: got %s want 70", got)
	}
	if st.poolUnits[SideSupply].Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("pool aggregate: got %s want 70", st.poolUnits[SideSupply])
	}
	if markets := store.EnteredMarkets(alice); len(markets) != 1 {
		t.Fatalf("entered markets: %v", markets)
	}

	// Shrinking the pool tier shrinks the aggregate by the same amount.
	ledger.setBalance(st, alice, SideSupply, big.NewInt(30), big.NewInt(20), ray, ray)
	if st.poolUnits[SideSupply].Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("pool aggregate after shrink: got %s want 20", st.poolUnits[SideSupply])
	}
}

func TestSetBalancePrunesZeroFootprint(t *testing.T) {
	store, ledger, st := newTestState(t)
	alice := testAddr(1)

	ledger.setBalance(st, alice, SideSupply, big.NewInt(0), big.NewInt(50), ray, ray)
	ledger.setBalance(st, alice, SideBorrow, big.NewInt(10), big.NewInt(0), ray, ray)

	// Clearing one side keeps the footprint alive through the other.
	ledger.setBalance(st, alice, SideSupply, big.NewInt(0), big.NewInt(0), ray, ray)
	if markets := store.EnteredMarkets(alice); len(markets) != 1 {
		t.Fatalf("footprint pruned too early: %v", markets)
	}

	ledger.setBalance(st, alice, SideBorrow, big.NewInt(0), big.NewInt(0), ray, ray)
	if markets := store.EnteredMarkets(alice); len(markets) != 0 {
		t.Fatalf("footprint not pruned: %v", markets)
	}
	if st.registry(SideSupply, tierOnPool).Contains(alice) {
		t.Fatalf("registry entry not removed")
	}
	if _, ok := st.positions[alice]; ok {
		t.Fatalf("position not deleted")
	}
}

func TestMoveToMatchedShiftsTiers(t *testing.T) {
	_, ledger, st := newTestState(t)
	alice := testAddr(1)

	ledger.setBalance(st, alice, SideSupply, big.NewInt(0), big.NewInt(100), ray, ray)
	ledger.moveToMatched(st, alice, SideSupply, big.NewInt(40), big.NewInt(40), ray, ray)

	inP2P, onPool := ledger.BalanceOf(st.market.Underlying, alice, SideSupply)
	if inP2P.Cmp(big.NewInt(40)) != 0 || onPool.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("position: inP2P=%s onPool=%s want 40/60", inP2P, onPool)
	}

	// Negative units demote back toward the pool.
	ledger.moveToMatched(st, alice, SideSupply, big.NewInt(-40), big.NewInt(-40), ray, ray)
	inP2P, onPool = ledger.BalanceOf(st.market.Underlying, alice, SideSupply)
	if inP2P.Sign() != 0 || onPool.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("position after demote: inP2P=%s onPool=%s want 0/100", inP2P, onPool)
	}
}

func TestBalanceOfUnknownUser(t *testing.T) {
	_, ledger, st := newTestState(t)
	inP2P, onPool := ledger.BalanceOf(st.market.Underlying, testAddr(9), SideBorrow)
	if inP2P.Sign() != 0 || onPool.Sign() != 0 {
		t.Fatalf("unknown user balance: %s/%s", inP2P, onPool)
	}
}

func TestSnapshotRestoreIsDeep(t *testing.T) {
	store, ledger, st := newTestState(t)
	alice := testAddr(1)

	ledger.setBalance(st, alice, SideSupply, big.NewInt(30), big.NewInt(70), ray, ray)
	st.delta.SupplyDelta.SetInt64(5)
	snap := st.snapshot()

	ledger.setBalance(st, alice, SideSupply, big.NewInt(0), big.NewInt(0), ray, ray)
	st.delta.SupplyDelta.SetInt64(99)

	store.restore(st.market.Underlying, snap)
	restored, ok := store.get(st.market.Underlying)
	if !ok {
		t.Fatalf("market lost on restore")
	}
	inP2P, onPool := ledger.BalanceOf(st.market.Underlying, alice, SideSupply)
	if inP2P.Cmp(big.NewInt(30)) != 0 || onPool.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("balances not restored: %s/%s", inP2P, onPool)
	}
	if restored.delta.SupplyDelta.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("delta not restored: %s", restored.delta.SupplyDelta)
	}
	if !restored.registry(SideSupply, tierInP2P).Contains(alice) {
		t.Fatalf("registry not restored")
	}
}

func TestRestoreSyncsEnteredSetsForAllUsers(t *testing.T) {
	store, ledger, st := newTestState(t)
	market := st.market.Underlying
	alice, bob, carol := testAddr(1), testAddr(2), testAddr(3)

	ledger.setBalance(st, alice, SideSupply, big.NewInt(0), big.NewInt(50), ray, ray)
	ledger.setBalance(st, bob, SideBorrow, big.NewInt(10), big.NewInt(0), ray, ray)
	snap := st.snapshot()

	// Zero out bob as a counterparty and bring in carol, then roll back.
	ledger.setBalance(st, bob, SideBorrow, big.NewInt(0), big.NewInt(0), ray, ray)
	ledger.setBalance(st, carol, SideSupply, big.NewInt(0), big.NewInt(20), ray, ray)

	store.restore(market, snap)
	if markets := store.EnteredMarkets(bob); len(markets) != 1 || markets[0] != market {
		t.Fatalf("bob's footprint not restored: %v", markets)
	}
	if markets := store.EnteredMarkets(alice); len(markets) != 1 {
		t.Fatalf("alice's footprint lost: %v", markets)
	}
	if markets := store.EnteredMarkets(carol); len(markets) != 0 {
		t.Fatalf("carol's footprint survived the rollback: %v", markets)
	}
}
