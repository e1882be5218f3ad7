package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// liquidityData aggregates a user's oracle-valued footprint across every
// entered market: collateral weighted by collateral factor, and debt.
type liquidityData struct {
	weightedCollateral *big.Int
	debt               *big.Int
}

// hypotheticalLiquidity values the user's positions and applies a
// hypothetical extra borrow and collateral withdrawal on the target market.
// It runs before any matching so a doomed operation never mutates state.
func (e *Engine) hypotheticalLiquidity(user, target common.Address, borrowedAmount, withdrawnAmount *big.Int) (liquidityData, error) {
	data := liquidityData{
		weightedCollateral: big.NewInt(0),
		debt:               big.NewInt(0),
	}
	if e.oracle == nil {
		return data, ErrOracleNotConfigured
	}

	seen := false
	markets := e.store.EnteredMarkets(user)
	for _, id := range markets {
		if id == target {
			seen = true
		}
		if err := e.accumulateLiquidity(&data, user, id, target, borrowedAmount, withdrawnAmount); err != nil {
			return data, err
		}
	}
	if !seen && target != (common.Address{}) {
		if err := e.accumulateLiquidity(&data, user, target, target, borrowedAmount, withdrawnAmount); err != nil {
			return data, err
		}
	}
	return data, nil
}

func (e *Engine) accumulateLiquidity(data *liquidityData, user, market, target common.Address, borrowedAmount, withdrawnAmount *big.Int) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	price, err := e.oracle.Price(market)
	if err != nil {
		return err
	}
	factor, err := e.oracle.CollateralFactor(market)
	if err != nil {
		return err
	}

	supplied := e.totalBalance(st, user, SideSupply)
	borrowed := e.totalBalance(st, user, SideBorrow)
	if market == target {
		if withdrawnAmount != nil && withdrawnAmount.Sign() > 0 {
			supplied = subFloorZero(supplied, withdrawnAmount)
		}
		if borrowedAmount != nil && borrowedAmount.Sign() > 0 {
			borrowed = new(big.Int).Add(borrowed, borrowedAmount)
		}
	}

	collateralValue := wadValue(supplied, price)
	debtValue := wadValue(borrowed, price)
	data.weightedCollateral.Add(data.weightedCollateral, percentMul(collateralValue, factor))
	data.debt.Add(data.debt, debtValue)
	return nil
}

// totalBalance values both tiers of a position in underlying.
func (e *Engine) totalBalance(st *MarketState, user common.Address, side Side) *big.Int {
	pos, ok := st.positions[user]
	if !ok {
		return big.NewInt(0)
	}
	p := pos.side(side)
	total := underlyingOf(p.InP2P, e.p2pIndex(st, side))
	return total.Add(total, underlyingOf(p.OnPool, e.poolIndex(st, side)))
}

// HealthFactor returns the user's collateralisation as a ray ratio of
// factor-weighted collateral to debt. A debt-free user reports the maximum
// representable health.
func (e *Engine) HealthFactor(user common.Address) (*big.Int, error) {
	data, err := e.hypotheticalLiquidity(user, common.Address{}, nil, nil)
	if err != nil {
		return nil, err
	}
	if data.debt.Sign() == 0 {
		return new(big.Int).Set(maxHealth), nil
	}
	return rayDiv(data.weightedCollateral, data.debt), nil
}

var maxHealth = new(big.Int).Lsh(big.NewInt(1), 255)

func wadValue(amount, price *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	value.Add(value, halfUp(wad))
	value.Quo(value, wad)
	return value
}
