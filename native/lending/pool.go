package lending

import (
	"errors"
	"math/big"
)

var (
	errPoolInsufficientDeposit = errors.New("pool adapter: withdrawal exceeds module deposit")
	errPoolExcessRepay         = errors.New("pool adapter: repayment exceeds module debt")
	errPoolInvalidAmount       = errors.New("pool adapter: amount must be positive")
)

// PoolAdapter is the narrow surface the core consumes from the underlying
// lending pool. Indexes are ray fixed-point and non-decreasing. The four
// liquidity primitives are atomic: they either fully succeed or fail the
// whole operation, there are no partial pool fills.
type PoolAdapter interface {
	SupplyIndex() (*big.Int, error)
	BorrowIndex() (*big.Int, error)
	Deposit(amount *big.Int) error
	Withdraw(amount *big.Int) error
	Borrow(amount *big.Int) error
	Repay(amount *big.Int) error
}

// ScaledPool simulates an Aave-style backend: balances are scaled units and
// the pool publishes growing liquidity/debt indexes directly. It tracks only
// the overlay module's aggregate deposit and debt; the rest of the pool is
// represented by its total figures, which feed the interest model.
type ScaledPool struct {
	model            *InterestModel
	reserveFactorBps uint64

	supplyIndex *big.Int
	borrowIndex *big.Int

	totalSupplied *big.Int
	totalBorrowed *big.Int

	depositUnits *big.Int
	debtUnits    *big.Int

	block       uint64
	lastAccrual uint64
}

// NewScaledPool constructs a scaled-balance pool seeded with ambient
// liquidity so utilisation and rates are well-defined from the start.
func NewScaledPool(model *InterestModel, reserveFactorBps uint64, ambientSupplied, ambientBorrowed *big.Int) *ScaledPool {
	p := &ScaledPool{
		model:            model,
		reserveFactorBps: reserveFactorBps,
		supplyIndex:      new(big.Int).Set(ray),
		borrowIndex:      new(big.Int).Set(ray),
		totalSupplied:    big.NewInt(0),
		totalBorrowed:    big.NewInt(0),
		depositUnits:     big.NewInt(0),
		debtUnits:        big.NewInt(0),
	}
	if ambientSupplied != nil {
		p.totalSupplied.Set(ambientSupplied)
	}
	if ambientBorrowed != nil {
		p.totalBorrowed.Set(ambientBorrowed)
	}
	return p
}

// AdvanceBlocks moves the pool clock forward and accrues both indexes.
func (p *ScaledPool) AdvanceBlocks(n uint64) {
	p.block += n
	p.accrue()
}

func (p *ScaledPool) accrue() {
	blocks := p.block - p.lastAccrual
	if blocks == 0 {
		return
	}
	borrowAPR := p.model.BorrowAPR(p.totalBorrowed, p.totalSupplied)
	supplyAPR := p.model.SupplyAPR(p.totalBorrowed, p.totalSupplied, p.reserveFactorBps)
	p.borrowIndex = rayMul(p.borrowIndex, rateFactor(borrowAPR, blocks))
	p.supplyIndex = rayMul(p.supplyIndex, rateFactor(supplyAPR, blocks))
	p.lastAccrual = p.block
}

func (p *ScaledPool) SupplyIndex() (*big.Int, error) {
	p.accrue()
	return new(big.Int).Set(p.supplyIndex), nil
}

func (p *ScaledPool) BorrowIndex() (*big.Int, error) {
	p.accrue()
	return new(big.Int).Set(p.borrowIndex), nil
}

func (p *ScaledPool) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	p.depositUnits.Add(p.depositUnits, unitsOf(amount, p.supplyIndex))
	p.totalSupplied.Add(p.totalSupplied, amount)
	return nil
}

func (p *ScaledPool) Withdraw(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	units := unitsOf(amount, p.supplyIndex)
	if units.Cmp(p.depositUnits) > 0 {
		return errPoolInsufficientDeposit
	}
	p.depositUnits.Sub(p.depositUnits, units)
	p.totalSupplied = subFloorZero(p.totalSupplied, amount)
	return nil
}

func (p *ScaledPool) Borrow(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	p.debtUnits.Add(p.debtUnits, unitsOf(amount, p.borrowIndex))
	p.totalBorrowed.Add(p.totalBorrowed, amount)
	return nil
}

func (p *ScaledPool) Repay(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	units := unitsOf(amount, p.borrowIndex)
	if units.Cmp(p.debtUnits) > 0 {
		// Interest rounding can leave the accounted debt a hair short of the
		// requested repayment; absorb dust but reject real excess.
		excess := underlyingOf(new(big.Int).Sub(units, p.debtUnits), p.borrowIndex)
		if excess.Cmp(big.NewInt(1_000)) > 0 {
			return errPoolExcessRepay
		}
		units = new(big.Int).Set(p.debtUnits)
	}
	p.debtUnits.Sub(p.debtUnits, units)
	p.totalBorrowed = subFloorZero(p.totalBorrowed, amount)
	return nil
}

// DepositOf returns the module's current deposit in underlying.
func (p *ScaledPool) DepositOf() *big.Int {
	p.accrue()
	return underlyingOf(p.depositUnits, p.supplyIndex)
}

// DebtOf returns the module's current debt in underlying.
func (p *ScaledPool) DebtOf() *big.Int {
	p.accrue()
	return underlyingOf(p.debtUnits, p.borrowIndex)
}

// ExchangeRatePool simulates a Compound-style backend where supplier balances
// are denominated in pool tokens redeemable at a growing exchange rate. The
// adapter normalises that rate into the ray supply index the core expects, so
// the matching engine and index model stay backend-agnostic.
type ExchangeRatePool struct {
	model            *InterestModel
	reserveFactorBps uint64

	exchangeRate    *big.Int // wad, underlying per pool token
	initialExchange *big.Int
	borrowIndex     *big.Int // ray

	totalSupplied *big.Int
	totalBorrowed *big.Int

	poolTokens *big.Int // module's pool-token balance
	debtUnits  *big.Int

	block       uint64
	lastAccrual uint64
}

// NewExchangeRatePool constructs an exchange-rate pool. initialExchange is
// the wad rate at which pool tokens start, e.g. 0.02e18.
func NewExchangeRatePool(model *InterestModel, reserveFactorBps uint64, initialExchange, ambientSupplied, ambientBorrowed *big.Int) *ExchangeRatePool {
	if initialExchange == nil || initialExchange.Sign() == 0 {
		initialExchange = new(big.Int).Set(wad)
	}
	p := &ExchangeRatePool{
		model:            model,
		reserveFactorBps: reserveFactorBps,
		exchangeRate:     new(big.Int).Set(initialExchange),
		initialExchange:  new(big.Int).Set(initialExchange),
		borrowIndex:      new(big.Int).Set(ray),
		totalSupplied:    big.NewInt(0),
		totalBorrowed:    big.NewInt(0),
		poolTokens:       big.NewInt(0),
		debtUnits:        big.NewInt(0),
	}
	if ambientSupplied != nil {
		p.totalSupplied.Set(ambientSupplied)
	}
	if ambientBorrowed != nil {
		p.totalBorrowed.Set(ambientBorrowed)
	}
	return p
}

// AdvanceBlocks moves the pool clock forward and accrues the exchange rate
// and borrow index.
func (p *ExchangeRatePool) AdvanceBlocks(n uint64) {
	p.block += n
	p.accrue()
}

func (p *ExchangeRatePool) accrue() {
	blocks := p.block - p.lastAccrual
	if blocks == 0 {
		return
	}
	borrowAPR := p.model.BorrowAPR(p.totalBorrowed, p.totalSupplied)
	supplyAPR := p.model.SupplyAPR(p.totalBorrowed, p.totalSupplied, p.reserveFactorBps)
	p.borrowIndex = rayMul(p.borrowIndex, rateFactor(borrowAPR, blocks))
	p.exchangeRate = rayMul(p.exchangeRate, rateFactor(supplyAPR, blocks))
	p.lastAccrual = p.block
}

// SupplyIndex normalises the exchange rate against its initial value into a
// ray index starting at one.
func (p *ExchangeRatePool) SupplyIndex() (*big.Int, error) {
	p.accrue()
	return rayDiv(p.exchangeRate, p.initialExchange), nil
}

func (p *ExchangeRatePool) BorrowIndex() (*big.Int, error) {
	p.accrue()
	return new(big.Int).Set(p.borrowIndex), nil
}

// tokensOf converts underlying into pool tokens at the current rate.
func (p *ExchangeRatePool) tokensOf(amount *big.Int) *big.Int {
	tokens := new(big.Int).Mul(amount, wad)
	tokens.Add(tokens, halfUp(p.exchangeRate))
	tokens.Quo(tokens, p.exchangeRate)
	if tokens.Sign() == 0 && amount.Sign() > 0 {
		tokens.SetInt64(1)
	}
	return tokens
}

func (p *ExchangeRatePool) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	p.poolTokens.Add(p.poolTokens, p.tokensOf(amount))
	p.totalSupplied.Add(p.totalSupplied, amount)
	return nil
}

func (p *ExchangeRatePool) Withdraw(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	tokens := p.tokensOf(amount)
	if tokens.Cmp(p.poolTokens) > 0 {
		return errPoolInsufficientDeposit
	}
	p.poolTokens.Sub(p.poolTokens, tokens)
	p.totalSupplied = subFloorZero(p.totalSupplied, amount)
	return nil
}

func (p *ExchangeRatePool) Borrow(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	p.debtUnits.Add(p.debtUnits, unitsOf(amount, p.borrowIndex))
	p.totalBorrowed.Add(p.totalBorrowed, amount)
	return nil
}

func (p *ExchangeRatePool) Repay(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errPoolInvalidAmount
	}
	p.accrue()
	units := unitsOf(amount, p.borrowIndex)
	if units.Cmp(p.debtUnits) > 0 {
		excess := underlyingOf(new(big.Int).Sub(units, p.debtUnits), p.borrowIndex)
		if excess.Cmp(big.NewInt(1_000)) > 0 {
			return errPoolExcessRepay
		}
		units = new(big.Int).Set(p.debtUnits)
	}
	p.debtUnits.Sub(p.debtUnits, units)
	p.totalBorrowed = subFloorZero(p.totalBorrowed, amount)
	return nil
}
