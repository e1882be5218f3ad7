package lending

import "math/big"

// matchResult reports one match/unmatch walk.
type matchResult struct {
	// moved is the underlying amount actually shifted between tiers.
	moved *big.Int
	// steps counts the counterparties processed, each costing one unit of
	// the compute budget.
	steps uint64
	// exhausted is set when the walk stopped on the budget rather than on
	// the need or an empty list.
	exhausted bool
}

// match promotes pool-resident participants of the given side into matched
// state until amount is covered, the pool-tier registry empties, or the
// compute budget runs out. A counterparty whose balance only partially covers
// the remaining need is consumed in full before the budget is re-checked, so
// no fractional match is left unresolved. The walk mutates the ledger and the
// registries one counterparty at a time and never fails: the caller routes
// whatever was not matched to the external pool.
func (e *Engine) match(st *MarketState, side Side, amount *big.Int, budget uint64) matchResult {
	res := matchResult{moved: big.NewInt(0)}
	if amount == nil || amount.Sign() <= 0 || st.market.P2PDisabled {
		return res
	}
	poolIndex := e.poolIndex(st, side)
	p2pIndex := e.p2pIndex(st, side)
	onPool := st.registry(side, tierOnPool)

	remaining := new(big.Int).Set(amount)
	for remaining.Sign() > 0 {
		if res.steps >= budget {
			res.exhausted = true
			break
		}
		user, ok := onPool.Head()
		if !ok {
			break
		}
		pos := st.position(user).side(side)
		available := underlyingOf(pos.OnPool, poolIndex)
		if available.Sign() == 0 {
			// Dust entry; drop it so the walk can progress.
			e.ledger.setBalance(st, user, side, pos.InP2P, big.NewInt(0), p2pIndex, poolIndex)
			res.steps++
			continue
		}
		moved := minBig(available, remaining)
		poolUnits := minBig(unitsOf(moved, poolIndex), pos.OnPool)
		p2pUnits := unitsOf(moved, p2pIndex)

		e.ledger.moveToMatched(st, user, side, poolUnits, p2pUnits, p2pIndex, poolIndex)
		e.addMatchedTotal(st, side, p2pUnits)

		remaining.Sub(remaining, moved)
		res.moved.Add(res.moved, moved)
		res.steps++
	}
	return res
}

// unmatch demotes matched participants of the given side back onto the pool
// until amount is covered, the matched-tier registry empties, or the budget
// runs out. Any shortfall is recorded as new delta for that side: the
// associated matched units keep accruing at the pool rate until fresh
// opposite-side liquidity consumes the delta.
func (e *Engine) unmatch(st *MarketState, side Side, amount *big.Int, budget uint64) matchResult {
	res := matchResult{moved: big.NewInt(0)}
	if amount == nil || amount.Sign() <= 0 {
		return res
	}
	poolIndex := e.poolIndex(st, side)
	p2pIndex := e.p2pIndex(st, side)
	inP2P := st.registry(side, tierInP2P)

	remaining := new(big.Int).Set(amount)
	for remaining.Sign() > 0 {
		if res.steps >= budget {
			res.exhausted = true
			break
		}
		user, ok := inP2P.Head()
		if !ok {
			break
		}
		pos := st.position(user).side(side)
		available := underlyingOf(pos.InP2P, p2pIndex)
		if available.Sign() == 0 {
			e.ledger.setBalance(st, user, side, big.NewInt(0), pos.OnPool, p2pIndex, poolIndex)
			res.steps++
			continue
		}
		moved := minBig(available, remaining)
		p2pUnits := minBig(unitsOf(moved, p2pIndex), pos.InP2P)
		poolUnits := unitsOf(moved, poolIndex)

		e.ledger.moveToMatched(st, user, side, new(big.Int).Neg(poolUnits), new(big.Int).Neg(p2pUnits), p2pIndex, poolIndex)
		e.subMatchedTotal(st, side, p2pUnits)

		remaining.Sub(remaining, moved)
		res.moved.Add(res.moved, moved)
		res.steps++
	}

	if remaining.Sign() > 0 {
		e.increaseDelta(st, side, remaining, poolIndex)
	}
	return res
}

// reduceDelta consumes the side's delta against incoming liquidity and
// returns the underlying amount absorbed. Delta is always consumed before any
// new matching is attempted.
func (e *Engine) reduceDelta(st *MarketState, side Side, amount *big.Int) *big.Int {
	deltaUnits := e.deltaUnits(st, side)
	if deltaUnits.Sign() == 0 || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	poolIndex := e.poolIndex(st, side)
	outstanding := underlyingOf(deltaUnits, poolIndex)
	absorbed := minBig(outstanding, amount)
	consumed := minBig(unitsOf(absorbed, poolIndex), deltaUnits)
	deltaUnits.Sub(deltaUnits, consumed)
	e.publishDelta(st)
	return absorbed
}

func (e *Engine) increaseDelta(st *MarketState, side Side, amount, poolIndex *big.Int) {
	deltaUnits := e.deltaUnits(st, side)
	deltaUnits.Add(deltaUnits, unitsOf(amount, poolIndex))
	e.publishDelta(st)
}

func (e *Engine) deltaUnits(st *MarketState, side Side) *big.Int {
	if side == SideSupply {
		return st.delta.SupplyDelta
	}
	return st.delta.BorrowDelta
}

func (e *Engine) addMatchedTotal(st *MarketState, side Side, units *big.Int) {
	if side == SideSupply {
		st.delta.SupplyInP2P.Add(st.delta.SupplyInP2P, units)
		return
	}
	st.delta.BorrowInP2P.Add(st.delta.BorrowInP2P, units)
}

func (e *Engine) subMatchedTotal(st *MarketState, side Side, units *big.Int) {
	total := st.delta.SupplyInP2P
	if side == SideBorrow {
		total = st.delta.BorrowInP2P
	}
	total.Sub(total, units)
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
}

func (e *Engine) poolIndex(st *MarketState, side Side) *big.Int {
	if side == SideSupply {
		return st.market.PoolSupplyIndex
	}
	return st.market.PoolBorrowIndex
}

func (e *Engine) p2pIndex(st *MarketState, side Side) *big.Int {
	if side == SideSupply {
		return st.market.P2PSupplyIndex
	}
	return st.market.P2PBorrowIndex
}

func (e *Engine) publishDelta(st *MarketState) {
	if e.metrics == nil {
		return
	}
	e.metrics.SetDelta(st.market.Symbol, SideSupply.String(), st.delta.SupplyDelta)
	e.metrics.SetDelta(st.market.Symbol, SideBorrow.String(), st.delta.BorrowDelta)
}
