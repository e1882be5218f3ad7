package lending

import "math/big"

// growthFactors carries the multiplicative index increases of one sync
// interval, in ray.
type growthFactors struct {
	poolSupply *big.Int
	poolBorrow *big.Int
	p2pSupply  *big.Int
	p2pBorrow  *big.Int
}

// computeGrowthFactors derives the per-side growth factors from fresh pool
// indexes. The peer-to-peer growth is the cursor-weighted average of the pool
// supply and borrow growth; the reserve factor then claws back its share of
// the improvement over the pure pool rate on each side.
func computeGrowthFactors(market *Market, poolSupplyIndex, poolBorrowIndex *big.Int) growthFactors {
	factors := growthFactors{
		poolSupply: rayDiv(poolSupplyIndex, market.PoolSupplyIndex),
		poolBorrow: rayDiv(poolBorrowIndex, market.PoolBorrowIndex),
	}
	// Pool indexes never decrease; clamp defensively so the p2p indexes stay
	// monotone even against a misbehaving adapter.
	if factors.poolSupply.Cmp(ray) < 0 {
		factors.poolSupply = new(big.Int).Set(ray)
	}
	if factors.poolBorrow.Cmp(ray) < 0 {
		factors.poolBorrow = new(big.Int).Set(ray)
	}

	cursor := market.CursorBps
	if cursor > 10_000 {
		cursor = 10_000
	}
	blend := new(big.Int).Mul(factors.poolSupply, new(big.Int).SetUint64(10_000-cursor))
	blend.Add(blend, new(big.Int).Mul(factors.poolBorrow, new(big.Int).SetUint64(cursor)))
	blend.Add(blend, halfUp(basisPoints))
	blend.Quo(blend, basisPoints)

	supplySpread := subFloorZero(blend, factors.poolSupply)
	borrowSpread := subFloorZero(factors.poolBorrow, blend)
	factors.p2pSupply = new(big.Int).Sub(blend, percentMul(supplySpread, market.ReserveFactorBps))
	factors.p2pBorrow = new(big.Int).Add(blend, percentMul(borrowSpread, market.ReserveFactorBps))
	if factors.p2pSupply.Cmp(ray) < 0 {
		factors.p2pSupply = new(big.Int).Set(ray)
	}
	if factors.p2pBorrow.Cmp(ray) < 0 {
		factors.p2pBorrow = new(big.Int).Set(ray)
	}
	return factors
}

// updateP2PIndexes advances the market's peer-to-peer indexes using fresh
// pool indexes. The fraction of the matched totals backed by delta accrues at
// the pool rate instead of the blended rate, which keeps the index honest
// when nominal matched volume has no live counterparty.
func updateP2PIndexes(market *Market, delta *Delta, poolSupplyIndex, poolBorrowIndex *big.Int) {
	if poolSupplyIndex == nil || poolBorrowIndex == nil {
		return
	}
	if poolSupplyIndex.Cmp(market.PoolSupplyIndex) == 0 && poolBorrowIndex.Cmp(market.PoolBorrowIndex) == 0 {
		return
	}

	factors := computeGrowthFactors(market, poolSupplyIndex, poolBorrowIndex)

	supplyGrowth := deltaWeightedGrowth(factors.p2pSupply, factors.poolSupply,
		delta.SupplyDelta, delta.SupplyInP2P, market.PoolSupplyIndex, market.P2PSupplyIndex)
	borrowGrowth := deltaWeightedGrowth(factors.p2pBorrow, factors.poolBorrow,
		delta.BorrowDelta, delta.BorrowInP2P, market.PoolBorrowIndex, market.P2PBorrowIndex)

	market.P2PSupplyIndex = rayMul(market.P2PSupplyIndex, supplyGrowth)
	market.P2PBorrowIndex = rayMul(market.P2PBorrowIndex, borrowGrowth)
	market.PoolSupplyIndex = new(big.Int).Set(poolSupplyIndex)
	market.PoolBorrowIndex = new(big.Int).Set(poolBorrowIndex)
}

// deltaWeightedGrowth blends the fee-adjusted peer-to-peer growth with the
// pool growth in proportion to the share of matched units that the delta
// represents: share = min(1, delta·lastPoolIndex / (matched·lastP2PIndex)).
func deltaWeightedGrowth(p2pGrowth, poolGrowth, deltaUnits, matchedUnits, lastPoolIndex, lastP2PIndex *big.Int) *big.Int {
	if deltaUnits == nil || deltaUnits.Sign() == 0 || matchedUnits == nil || matchedUnits.Sign() == 0 {
		return p2pGrowth
	}
	share := rayDiv(rayMul(deltaUnits, lastPoolIndex), rayMul(matchedUnits, lastP2PIndex))
	if share.Cmp(ray) > 0 {
		share = new(big.Int).Set(ray)
	}
	weighted := rayMul(new(big.Int).Sub(ray, share), p2pGrowth)
	weighted.Add(weighted, rayMul(share, poolGrowth))
	return weighted
}
