package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"peerlend/core/events"
	nativecommon "peerlend/native/common"
	"peerlend/observability/metrics"
)

// Sentinel errors returned by engine operations. Callers match them with
// errors.Is; the RPC layer maps them onto HTTP statuses.
var (
	ErrMarketNotCreated     = errors.New("lending engine: market not created")
	ErrMarketAlreadyCreated = errors.New("lending engine: market already created")
	ErrMarketPaused         = errors.New("lending engine: market paused")
	ErrMarketFrozen         = errors.New("lending engine: market frozen")
	ErrInvalidAmount        = errors.New("lending engine: amount must be positive")
	ErrInvalidUser          = errors.New("lending engine: user address required")
	ErrReentrantCall        = errors.New("lending engine: operation already in progress")
	ErrUnhealthyPosition    = errors.New("lending engine: position would fall below collateral requirements")
	ErrBorrowCapExceeded    = errors.New("lending engine: borrow cap exceeded")
	ErrNoSupplyBalance      = errors.New("lending engine: no supply balance to withdraw")
	ErrNoDebtToRepay        = errors.New("lending engine: no outstanding debt to repay")
	ErrNotLiquidatable      = errors.New("lending engine: borrower not eligible for liquidation")
	ErrOracleNotConfigured  = errors.New("lending engine: price oracle not configured")
	ErrNilPoolAdapter       = errors.New("lending engine: pool adapter required")
)

const moduleName = "lending"

// Engine orchestrates the peer-to-peer matching overlay: it owns the market
// store, routes the four liquidity operations through delta absorption,
// matching and the external pool, and keeps the ledger and registries
// consistent through every partial result.
//
// The engine is single-threaded by contract: the host serialises all
// state-changing calls, and a re-entrant call from within a pool adapter
// callback is rejected by the operation-in-progress token.
type Engine struct {
	store   *MarketStore
	ledger  *Ledger
	pools   map[common.Address]PoolAdapter
	oracle  PriceOracle
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics *metrics.LendingMetrics

	defaultBudget uint64
	inProgress    bool
}

// NewEngine constructs an engine with an empty market store.
func NewEngine() *Engine {
	store := NewMarketStore()
	return &Engine{
		store:         store,
		ledger:        newLedger(store),
		pools:         make(map[common.Address]PoolAdapter),
		emitter:       events.NoopEmitter{},
		defaultBudget: DefaultMatchBudget,
	}
}

// SetOracle wires the price oracle used by solvency prechecks.
func (e *Engine) SetOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the governance pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetMetrics wires the Prometheus collectors; nil disables recording.
func (e *Engine) SetMetrics(m *metrics.LendingMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetDefaultBudget configures the compute budget applied when a caller
// passes zero.
func (e *Engine) SetDefaultBudget(budget uint64) {
	if e == nil || budget == 0 {
		return
	}
	e.defaultBudget = budget
}

// CreateMarket registers a market and its pool adapter. The peer-to-peer
// indexes start at one ray; the pool indexes are seeded from the adapter so
// the first sync measures real growth.
func (e *Engine) CreateMarket(cfg MarketConfig, pool PoolAdapter) error {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return err
	}
	if pool == nil {
		return ErrNilPoolAdapter
	}
	if _, ok := e.store.get(cfg.Underlying); ok {
		return ErrMarketAlreadyCreated
	}
	market := cfg.market()
	supplyIndex, err := pool.SupplyIndex()
	if err != nil {
		return poolError(err)
	}
	borrowIndex, err := pool.BorrowIndex()
	if err != nil {
		return poolError(err)
	}
	market.PoolSupplyIndex = supplyIndex
	market.PoolBorrowIndex = borrowIndex

	e.store.add(newMarketState(market))
	e.pools[cfg.Underlying] = pool
	return nil
}

// Supply lends amount into the market: the borrow-side delta is consumed
// first, then pool-resident borrowers are matched within the compute budget,
// and the remainder is deposited on the pool. Returns the underlying amount
// moved and the portion of it settled peer-to-peer.
func (e *Engine) Supply(market, user common.Address, amount *big.Int, budget uint64) (moved, matched *big.Int, err error) {
	defer e.observe("supply", time.Now(), &err)
	if err = e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()
	if err = nativecommon.GuardAction(e.pauses, moduleName, "supply"); err != nil {
		return nil, nil, err
	}

	st, adapter, err := e.marketState(market)
	if err != nil {
		return nil, nil, err
	}
	if err = checkOperation(st.market, user, amount, true); err != nil {
		return nil, nil, err
	}
	if err = e.syncIndexes(st, adapter); err != nil {
		return nil, nil, err
	}

	snap := st.snapshot()
	enteredSnap := e.store.enteredSnapshot(user)
	budget = e.resolveBudget(budget)

	p2pIndex := st.market.P2PSupplyIndex
	poolIndex := st.market.PoolSupplyIndex
	remaining := new(big.Int).Set(amount)
	toRepay := big.NewInt(0)
	matchedUnits := big.NewInt(0)

	if !st.market.P2PDisabled {
		if absorbed := e.reduceDelta(st, SideBorrow, remaining); absorbed.Sign() > 0 {
			toRepay.Add(toRepay, absorbed)
			remaining.Sub(remaining, absorbed)
			matchedUnits.Add(matchedUnits, unitsOf(absorbed, p2pIndex))
		}
		res := e.match(st, SideBorrow, remaining, budget)
		e.observeMatch("match-borrowers", res)
		if res.moved.Sign() > 0 {
			toRepay.Add(toRepay, res.moved)
			remaining.Sub(remaining, res.moved)
			matchedUnits.Add(matchedUnits, unitsOf(res.moved, p2pIndex))
		}
	}

	pos := st.position(user).side(SideSupply)
	newInP2P := new(big.Int).Add(pos.InP2P, matchedUnits)
	newOnPool := new(big.Int).Add(pos.OnPool, unitsOf(remaining, poolIndex))
	e.ledger.setBalance(st, user, SideSupply, newInP2P, newOnPool, p2pIndex, poolIndex)
	if matchedUnits.Sign() > 0 {
		e.addMatchedTotal(st, SideSupply, matchedUnits)
	}

	err = e.commitPool(market, user, snap, enteredSnap, func() error {
		if toRepay.Sign() > 0 {
			if poolErr := adapter.Repay(toRepay); poolErr != nil {
				return poolErr
			}
		}
		if remaining.Sign() > 0 {
			return adapter.Deposit(remaining)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	matched = new(big.Int).Sub(amount, remaining)
	e.emitOperation(EventTypeSupplied, st.market, user, SideSupply, amount, matched)
	return new(big.Int).Set(amount), matched, nil
}

// Borrow draws amount from the market: the solvency precheck runs before any
// matching, then the supply-side delta is consumed, pool-resident suppliers
// are matched within the budget, and the remainder is borrowed from the pool.
// Returns the underlying amount moved and the portion settled peer-to-peer.
func (e *Engine) Borrow(market, user common.Address, amount *big.Int, budget uint64) (moved, matched *big.Int, err error) {
	defer e.observe("borrow", time.Now(), &err)
	if err = e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()
	if err = nativecommon.GuardAction(e.pauses, moduleName, "borrow"); err != nil {
		return nil, nil, err
	}

	st, adapter, err := e.marketState(market)
	if err != nil {
		return nil, nil, err
	}
	if err = checkOperation(st.market, user, amount, true); err != nil {
		return nil, nil, err
	}
	if err = e.syncIndexes(st, adapter); err != nil {
		return nil, nil, err
	}
	if err = e.checkBorrowCap(st, amount); err != nil {
		return nil, nil, err
	}

	// The solvency check values the hypothetical post-borrow position before
	// matching is attempted, so a doomed borrow never mutates state.
	data, err := e.hypotheticalLiquidity(user, market, amount, nil)
	if err != nil {
		return nil, nil, err
	}
	if data.weightedCollateral.Cmp(data.debt) < 0 {
		return nil, nil, ErrUnhealthyPosition
	}

	snap := st.snapshot()
	enteredSnap := e.store.enteredSnapshot(user)
	budget = e.resolveBudget(budget)

	p2pIndex := st.market.P2PBorrowIndex
	poolIndex := st.market.PoolBorrowIndex
	remaining := new(big.Int).Set(amount)
	toWithdraw := big.NewInt(0)
	matchedUnits := big.NewInt(0)

	if !st.market.P2PDisabled {
		if absorbed := e.reduceDelta(st, SideSupply, remaining); absorbed.Sign() > 0 {
			toWithdraw.Add(toWithdraw, absorbed)
			remaining.Sub(remaining, absorbed)
			matchedUnits.Add(matchedUnits, unitsOf(absorbed, p2pIndex))
		}
		res := e.match(st, SideSupply, remaining, budget)
		e.observeMatch("match-suppliers", res)
		if res.moved.Sign() > 0 {
			toWithdraw.Add(toWithdraw, res.moved)
			remaining.Sub(remaining, res.moved)
			matchedUnits.Add(matchedUnits, unitsOf(res.moved, p2pIndex))
		}
	}

	pos := st.position(user).side(SideBorrow)
	newInP2P := new(big.Int).Add(pos.InP2P, matchedUnits)
	newOnPool := new(big.Int).Add(pos.OnPool, unitsOf(remaining, poolIndex))
	e.ledger.setBalance(st, user, SideBorrow, newInP2P, newOnPool, p2pIndex, poolIndex)
	if matchedUnits.Sign() > 0 {
		e.addMatchedTotal(st, SideBorrow, matchedUnits)
	}

	err = e.commitPool(market, user, snap, enteredSnap, func() error {
		if toWithdraw.Sign() > 0 {
			if poolErr := adapter.Withdraw(toWithdraw); poolErr != nil {
				return poolErr
			}
		}
		if remaining.Sign() > 0 {
			return adapter.Borrow(remaining)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	matched = new(big.Int).Sub(amount, remaining)
	e.emitOperation(EventTypeBorrowed, st.market, user, SideBorrow, amount, matched)
	return new(big.Int).Set(amount), matched, nil
}

// Withdraw releases up to amount of the user's supply balance: the soft step
// drains the user's own pool balance, the transfer step consumes supply-side
// delta and promotes replacement suppliers with half the budget, and the hard
// step unmatches borrowers with the other half, recording any shortfall as
// borrow-side delta. Returns the underlying amount withdrawn and the portion
// of it covered without demoting borrowers (delta plus promoted suppliers).
func (e *Engine) Withdraw(market, user common.Address, amount *big.Int, budget uint64) (moved, matched *big.Int, err error) {
	defer e.observe("withdraw", time.Now(), &err)
	if err = e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()
	if err = nativecommon.GuardAction(e.pauses, moduleName, "withdraw"); err != nil {
		return nil, nil, err
	}

	st, adapter, err := e.marketState(market)
	if err != nil {
		return nil, nil, err
	}
	if err = checkOperation(st.market, user, amount, false); err != nil {
		return nil, nil, err
	}
	if err = e.syncIndexes(st, adapter); err != nil {
		return nil, nil, err
	}

	total := e.totalBalance(st, user, SideSupply)
	if total.Sign() == 0 {
		return nil, nil, ErrNoSupplyBalance
	}
	amount = minBig(amount, total)

	data, err := e.hypotheticalLiquidity(user, market, nil, amount)
	if err != nil {
		return nil, nil, err
	}
	if data.weightedCollateral.Cmp(data.debt) < 0 {
		return nil, nil, ErrUnhealthyPosition
	}

	snap := st.snapshot()
	enteredSnap := e.store.enteredSnapshot(user)
	budget = e.resolveBudget(budget)

	matched, err = e.withdrawLogic(st, adapter, market, user, amount, budget, snap, enteredSnap)
	if err != nil {
		return nil, nil, err
	}

	e.emitOperation(EventTypeWithdrawn, st.market, user, SideSupply, amount, matched)
	return new(big.Int).Set(amount), matched, nil
}

// Repay settles up to amount of the user's borrow balance, mirroring
// Withdraw with the roles reversed: soft repay of the pool debt, borrow-side
// delta consumption and borrower promotion, then supplier unmatching whose
// shortfall becomes supply-side delta. Returns the underlying amount repaid
// and the portion covered without demoting suppliers (delta plus promoted
// borrowers).
func (e *Engine) Repay(market, user common.Address, amount *big.Int, budget uint64) (moved, matched *big.Int, err error) {
	defer e.observe("repay", time.Now(), &err)
	if err = e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()
	if err = nativecommon.GuardAction(e.pauses, moduleName, "repay"); err != nil {
		return nil, nil, err
	}

	st, adapter, err := e.marketState(market)
	if err != nil {
		return nil, nil, err
	}
	if err = checkOperation(st.market, user, amount, false); err != nil {
		return nil, nil, err
	}
	if err = e.syncIndexes(st, adapter); err != nil {
		return nil, nil, err
	}

	total := e.totalBalance(st, user, SideBorrow)
	if total.Sign() == 0 {
		return nil, nil, ErrNoDebtToRepay
	}
	amount = minBig(amount, total)

	snap := st.snapshot()
	enteredSnap := e.store.enteredSnapshot(user)
	budget = e.resolveBudget(budget)

	matched, err = e.repayLogic(st, adapter, market, user, amount, budget, snap, enteredSnap)
	if err != nil {
		return nil, nil, err
	}

	e.emitOperation(EventTypeRepaid, st.market, user, SideBorrow, amount, matched)
	return new(big.Int).Set(amount), matched, nil
}

// Liquidate repays part of an unhealthy borrower's debt and seizes a bonus
// share of their collateral. It is exactly repay-on-behalf followed by
// withdraw-on-behalf and adds no matching logic of its own.
func (e *Engine) Liquidate(debtMarket, collateralMarket, liquidator, borrower common.Address, amount *big.Int, budget uint64) (repaid, seized *big.Int, err error) {
	defer e.observe("liquidate", time.Now(), &err)
	if err = e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()
	if err = nativecommon.GuardAction(e.pauses, moduleName, "liquidate"); err != nil {
		return nil, nil, err
	}
	if liquidator == (common.Address{}) || borrower == (common.Address{}) {
		return nil, nil, ErrInvalidUser
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	debtSt, debtAdapter, err := e.marketState(debtMarket)
	if err != nil {
		return nil, nil, err
	}
	collSt, collAdapter, err := e.marketState(collateralMarket)
	if err != nil {
		return nil, nil, err
	}
	if debtSt.market.Paused || collSt.market.Paused {
		return nil, nil, ErrMarketPaused
	}
	if err = e.syncIndexes(debtSt, debtAdapter); err != nil {
		return nil, nil, err
	}
	if err = e.syncIndexes(collSt, collAdapter); err != nil {
		return nil, nil, err
	}

	data, err := e.hypotheticalLiquidity(borrower, common.Address{}, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if data.debt.Sign() == 0 {
		return nil, nil, ErrNoDebtToRepay
	}
	if data.weightedCollateral.Cmp(data.debt) >= 0 {
		return nil, nil, ErrNotLiquidatable
	}

	totalDebt := e.totalBalance(debtSt, borrower, SideBorrow)
	maxRepay := percentMul(totalDebt, debtSt.market.CloseFactorBps)
	repaid = minBig(amount, maxRepay)
	if repaid.Sign() == 0 {
		return nil, nil, ErrInvalidAmount
	}

	debtPrice, err := e.oracle.Price(debtMarket)
	if err != nil {
		return nil, nil, err
	}
	collPrice, err := e.oracle.Price(collateralMarket)
	if err != nil {
		return nil, nil, err
	}
	if collPrice.Sign() == 0 {
		return nil, nil, errNoPriceFeed
	}

	seizeValue := wadValue(repaid, debtPrice)
	seizeValue = percentMul(seizeValue, 10_000+collSt.market.LiquidationBonusBps)
	seized = new(big.Int).Mul(seizeValue, wad)
	seized.Add(seized, halfUp(collPrice))
	seized.Quo(seized, collPrice)
	seized = minBig(seized, e.totalBalance(collSt, borrower, SideSupply))
	if seized.Sign() == 0 {
		return nil, nil, ErrNotLiquidatable
	}

	debtSnap := debtSt.snapshot()
	collSnap := collSt.snapshot()
	enteredSnap := e.store.enteredSnapshot(borrower)
	budget = e.resolveBudget(budget)

	restoreAll := func() {
		e.store.restore(debtMarket, debtSnap)
		e.store.restore(collateralMarket, collSnap)
		e.store.restoreEntered(borrower, enteredSnap)
	}
	if _, err = e.repayLogic(debtSt, debtAdapter, debtMarket, borrower, repaid, budget/2, nil, nil); err != nil {
		restoreAll()
		return nil, nil, err
	}
	if _, err = e.withdrawLogic(collSt, collAdapter, collateralMarket, borrower, seized, budget-budget/2, nil, nil); err != nil {
		restoreAll()
		return nil, nil, err
	}

	e.emitter.Emit(newLiquidatedEvent(debtSt.market, collSt.market, liquidator, borrower, repaid, seized))
	return repaid, seized, nil
}

// withdrawLogic runs the soft/transfer/hard case analysis for a withdrawal
// whose checks already passed. It returns the transfer-step volume (delta
// plus promoted replacements). Snapshots may be nil when the caller handles
// restoration itself.
func (e *Engine) withdrawLogic(st *MarketState, adapter PoolAdapter, market, user common.Address, amount *big.Int, budget uint64, snap *MarketState, enteredSnap map[common.Address]struct{}) (*big.Int, error) {
	p2pIndex := st.market.P2PSupplyIndex
	poolIndex := st.market.PoolSupplyIndex

	remaining := new(big.Int).Set(amount)
	toWithdraw := big.NewInt(0)
	toBorrow := big.NewInt(0)
	matched := big.NewInt(0)

	// Soft step: the user's own pool balance.
	pos := st.position(user).side(SideSupply)
	fromPool := minBig(underlyingOf(pos.OnPool, poolIndex), remaining)
	if fromPool.Sign() > 0 {
		poolUnits := minBig(unitsOf(fromPool, poolIndex), pos.OnPool)
		newOnPool := new(big.Int).Sub(pos.OnPool, poolUnits)
		e.ledger.setBalance(st, user, SideSupply, pos.InP2P, newOnPool, p2pIndex, poolIndex)
		toWithdraw.Add(toWithdraw, fromPool)
		remaining.Sub(remaining, fromPool)
	}

	if remaining.Sign() > 0 {
		// Reduce the user's matched balance; replacements must cover it.
		pos = st.position(user).side(SideSupply)
		p2pUnits := minBig(unitsOf(remaining, p2pIndex), pos.InP2P)
		newInP2P := new(big.Int).Sub(pos.InP2P, p2pUnits)
		e.ledger.setBalance(st, user, SideSupply, newInP2P, pos.OnPool, p2pIndex, poolIndex)
		e.subMatchedTotal(st, SideSupply, p2pUnits)

		// Transfer step: supply delta is module liquidity already sitting on
		// the pool; consume it before promoting replacement suppliers.
		if absorbed := e.reduceDelta(st, SideSupply, remaining); absorbed.Sign() > 0 {
			toWithdraw.Add(toWithdraw, absorbed)
			matched.Add(matched, absorbed)
			remaining.Sub(remaining, absorbed)
		}
		if remaining.Sign() > 0 && !st.market.P2PDisabled {
			res := e.match(st, SideSupply, remaining, budget/2)
			e.observeMatch("promote-suppliers", res)
			toWithdraw.Add(toWithdraw, res.moved)
			matched.Add(matched, res.moved)
			remaining.Sub(remaining, res.moved)
		}
		// Hard step: demote matched borrowers; the unmatch shortfall becomes
		// borrow-side delta and the full remainder is borrowed from the pool.
		if remaining.Sign() > 0 {
			res := e.unmatch(st, SideBorrow, remaining, budget-budget/2)
			e.observeMatch("unmatch-borrowers", res)
			toBorrow.Set(remaining)
		}
	}

	err := e.commitPool(market, user, snap, enteredSnap, func() error {
		if toWithdraw.Sign() > 0 {
			if poolErr := adapter.Withdraw(toWithdraw); poolErr != nil {
				return poolErr
			}
		}
		if toBorrow.Sign() > 0 {
			return adapter.Borrow(toBorrow)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// repayLogic mirrors withdrawLogic with the supply and borrow roles
// reversed.
func (e *Engine) repayLogic(st *MarketState, adapter PoolAdapter, market, user common.Address, amount *big.Int, budget uint64, snap *MarketState, enteredSnap map[common.Address]struct{}) (*big.Int, error) {
	p2pIndex := st.market.P2PBorrowIndex
	poolIndex := st.market.PoolBorrowIndex

	remaining := new(big.Int).Set(amount)
	toRepay := big.NewInt(0)
	toDeposit := big.NewInt(0)
	matched := big.NewInt(0)

	// Soft step: the user's own pool debt.
	pos := st.position(user).side(SideBorrow)
	fromPool := minBig(underlyingOf(pos.OnPool, poolIndex), remaining)
	if fromPool.Sign() > 0 {
		poolUnits := minBig(unitsOf(fromPool, poolIndex), pos.OnPool)
		newOnPool := new(big.Int).Sub(pos.OnPool, poolUnits)
		e.ledger.setBalance(st, user, SideBorrow, pos.InP2P, newOnPool, p2pIndex, poolIndex)
		toRepay.Add(toRepay, fromPool)
		remaining.Sub(remaining, fromPool)
	}

	if remaining.Sign() > 0 {
		pos = st.position(user).side(SideBorrow)
		p2pUnits := minBig(unitsOf(remaining, p2pIndex), pos.InP2P)
		newInP2P := new(big.Int).Sub(pos.InP2P, p2pUnits)
		e.ledger.setBalance(st, user, SideBorrow, newInP2P, pos.OnPool, p2pIndex, poolIndex)
		e.subMatchedTotal(st, SideBorrow, p2pUnits)

		// Borrow delta is module debt already owed to the pool; repaying it
		// comes before promoting replacement borrowers.
		if absorbed := e.reduceDelta(st, SideBorrow, remaining); absorbed.Sign() > 0 {
			toRepay.Add(toRepay, absorbed)
			matched.Add(matched, absorbed)
			remaining.Sub(remaining, absorbed)
		}
		if remaining.Sign() > 0 && !st.market.P2PDisabled {
			res := e.match(st, SideBorrow, remaining, budget/2)
			e.observeMatch("promote-borrowers", res)
			toRepay.Add(toRepay, res.moved)
			matched.Add(matched, res.moved)
			remaining.Sub(remaining, res.moved)
		}
		// Hard step: demote matched suppliers back onto the pool; the
		// shortfall becomes supply-side delta and the remainder is deposited.
		if remaining.Sign() > 0 {
			res := e.unmatch(st, SideSupply, remaining, budget-budget/2)
			e.observeMatch("unmatch-suppliers", res)
			toDeposit.Set(remaining)
		}
	}

	err := e.commitPool(market, user, snap, enteredSnap, func() error {
		if toRepay.Sign() > 0 {
			if poolErr := adapter.Repay(toRepay); poolErr != nil {
				return poolErr
			}
		}
		if toDeposit.Sign() > 0 {
			return adapter.Deposit(toDeposit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func (e *Engine) begin() error {
	if e.inProgress {
		return ErrReentrantCall
	}
	e.inProgress = true
	return nil
}

func (e *Engine) end() {
	e.inProgress = false
}

func (e *Engine) marketState(id common.Address) (*MarketState, PoolAdapter, error) {
	st, ok := e.store.get(id)
	if !ok {
		return nil, nil, ErrMarketNotCreated
	}
	adapter, ok := e.pools[id]
	if !ok {
		return nil, nil, ErrNilPoolAdapter
	}
	return st, adapter, nil
}

// checkOperation enforces the shared preconditions. Frozen markets reject
// entries (supply, borrow) but still allow exits (withdraw, repay).
func checkOperation(market *Market, user common.Address, amount *big.Int, entry bool) error {
	if user == (common.Address{}) {
		return ErrInvalidUser
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if market.Paused {
		return ErrMarketPaused
	}
	if entry && market.Frozen {
		return ErrMarketFrozen
	}
	return nil
}

// syncIndexes refreshes the pool and peer-to-peer indexes before any balance
// is touched. Index updates are never rolled back: they represent observed
// pool growth, not operation effects.
func (e *Engine) syncIndexes(st *MarketState, adapter PoolAdapter) error {
	supplyIndex, err := adapter.SupplyIndex()
	if err != nil {
		return poolError(err)
	}
	borrowIndex, err := adapter.BorrowIndex()
	if err != nil {
		return poolError(err)
	}
	prevSupply := new(big.Int).Set(st.market.P2PSupplyIndex)
	prevBorrow := new(big.Int).Set(st.market.P2PBorrowIndex)
	updateP2PIndexes(st.market, st.delta, supplyIndex, borrowIndex)
	if st.market.P2PSupplyIndex.Cmp(prevSupply) != 0 || st.market.P2PBorrowIndex.Cmp(prevBorrow) != 0 {
		e.emitter.Emit(newIndexesEvent(st.market))
	}
	return nil
}

func (e *Engine) checkBorrowCap(st *MarketState, amount *big.Int) error {
	borrowCap := st.market.BorrowCap
	if borrowCap == nil || borrowCap.Sign() == 0 {
		return nil
	}
	outstanding := underlyingOf(st.delta.BorrowInP2P, st.market.P2PBorrowIndex)
	outstanding.Add(outstanding, underlyingOf(st.poolUnits[SideBorrow], st.market.PoolBorrowIndex))
	outstanding.Add(outstanding, amount)
	if outstanding.Cmp(borrowCap) > 0 {
		return ErrBorrowCapExceeded
	}
	return nil
}

func (e *Engine) resolveBudget(budget uint64) uint64 {
	if budget == 0 {
		return e.defaultBudget
	}
	return budget
}

// commitPool runs the external-pool calls collected by an operation. A pool
// failure is fatal: the pre-operation snapshot is restored so no partial
// commit is ever visible.
func (e *Engine) commitPool(market, user common.Address, snap *MarketState, enteredSnap map[common.Address]struct{}, calls func() error) error {
	if err := calls(); err != nil {
		if snap != nil {
			e.store.restore(market, snap)
			e.store.restoreEntered(user, enteredSnap)
		}
		return poolError(err)
	}
	return nil
}

func (e *Engine) emitOperation(eventType string, market *Market, user common.Address, side Side, amount, matched *big.Int) {
	e.emitter.Emit(newOperationEvent(eventType, market, user, amount, matched))
	inP2P, onPool := e.ledger.BalanceOf(market.Underlying, user, side)
	e.emitter.Emit(newPositionEvent(market, user, side, inP2P, onPool))
}

func (e *Engine) observe(operation string, start time.Time, err *error) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveOperation(operation, time.Since(start).Seconds(), *err)
}

func (e *Engine) observeMatch(direction string, res matchResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveMatch(direction, res.steps, res.moved, res.exhausted)
}

func poolError(err error) error {
	return fmt.Errorf("lending engine: pool adapter: %w", err)
}
