package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the single source of truth for scaled balances. It is a pure
// accounting store: callers supply the indexes used to value units, and every
// balance mutation re-synchronises the corresponding registry entry in the
// same call so the two structures can never drift apart.
type Ledger struct {
	store *MarketStore
}

func newLedger(store *MarketStore) *Ledger {
	return &Ledger{store: store}
}

// BalanceOf returns the matched and pool scaled units for (market, user, side).
func (l *Ledger) BalanceOf(market, user common.Address, side Side) (inP2P, onPool *big.Int) {
	st, ok := l.store.get(market)
	if !ok {
		return big.NewInt(0), big.NewInt(0)
	}
	pos, ok := st.positions[user]
	if !ok {
		return big.NewInt(0), big.NewInt(0)
	}
	p := pos.side(side)
	return new(big.Int).Set(p.InP2P), new(big.Int).Set(p.OnPool)
}

// setBalance overwrites the scaled balances for (market, user, side) and
// returns the previous and new underlying amounts valued at the supplied
// indexes. It updates both registries for the side, enters the market when
// the user's footprint becomes non-zero and prunes it when it returns to
// zero.
func (l *Ledger) setBalance(st *MarketState, user common.Address, side Side, inP2P, onPool, p2pIndex, poolIndex *big.Int) (prevUnderlying, newUnderlying *big.Int) {
	pos := st.position(user)
	p := pos.side(side)

	prevUnderlying = new(big.Int).Add(underlyingOf(p.InP2P, p2pIndex), underlyingOf(p.OnPool, poolIndex))
	prevOnPool := new(big.Int).Set(p.OnPool)

	p.InP2P = new(big.Int).Set(inP2P)
	p.OnPool = new(big.Int).Set(onPool)
	if p.InP2P.Sign() < 0 {
		p.InP2P.SetInt64(0)
	}
	if p.OnPool.Sign() < 0 {
		p.OnPool.SetInt64(0)
	}

	newUnderlying = new(big.Int).Add(underlyingOf(p.InP2P, p2pIndex), underlyingOf(p.OnPool, poolIndex))

	aggregate := st.poolUnits[side]
	aggregate.Add(aggregate, p.OnPool)
	aggregate.Sub(aggregate, prevOnPool)
	if aggregate.Sign() < 0 {
		aggregate.SetInt64(0)
	}

	maxSteps := st.market.MaxSortedUsers
	st.registry(side, tierInP2P).InsertOrUpdate(user, p.InP2P, maxSteps)
	st.registry(side, tierOnPool).InsertOrUpdate(user, p.OnPool, maxSteps)

	market := st.market.Underlying
	if pos.isZero() {
		delete(st.positions, user)
		l.store.leaveMarket(user, market)
	} else {
		l.store.enterMarket(user, market)
	}
	return prevUnderlying, newUnderlying
}

// moveToMatched shifts units between the pool and matched tiers of a balance.
// poolUnits are removed from the pool tier, p2pUnits added to the matched
// tier; negatives move the other way.
func (l *Ledger) moveToMatched(st *MarketState, user common.Address, side Side, poolUnits, p2pUnits *big.Int, p2pIndex, poolIndex *big.Int) {
	pos := st.position(user)
	p := pos.side(side)
	onPool := new(big.Int).Sub(p.OnPool, poolUnits)
	inP2P := new(big.Int).Add(p.InP2P, p2pUnits)
	l.setBalance(st, user, side, inP2P, onPool, p2pIndex, poolIndex)
}
