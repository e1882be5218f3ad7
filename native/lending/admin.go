package lending

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var errInvalidMaxSorted = errors.New("lending market: max sorted users must be positive")

// Indexes captures a market's four interest indexes at one point in time.
// All values are ray-scaled.
type Indexes struct {
	P2PSupplyIndex  *big.Int
	P2PBorrowIndex  *big.Int
	PoolSupplyIndex *big.Int
	PoolBorrowIndex *big.Int
}

// SetMarketPaused toggles the market-wide circuit breaker. A paused market
// rejects every operation including exits.
func (e *Engine) SetMarketPaused(market common.Address, paused bool) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	st.market.Paused = paused
	return nil
}

// SetMarketFrozen toggles the deprecation flag. A frozen market rejects new
// supplies and borrows but still serves withdrawals and repayments.
func (e *Engine) SetMarketFrozen(market common.Address, frozen bool) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	st.market.Frozen = frozen
	return nil
}

// SetP2PDisabled disables new matching on the market. Existing matches keep
// accruing at the peer-to-peer rate and unwinding stays available.
func (e *Engine) SetP2PDisabled(market common.Address, disabled bool) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	st.market.P2PDisabled = disabled
	return nil
}

// SetReserveFactor updates the protocol's share of the matched spread. The
// indexes are synced first so the new factor never applies retroactively.
func (e *Engine) SetReserveFactor(market common.Address, bps uint64) error {
	if bps > 10_000 {
		return errInvalidReserveFactor
	}
	st, adapter, err := e.marketState(market)
	if err != nil {
		return err
	}
	if err := e.syncIndexes(st, adapter); err != nil {
		return err
	}
	st.market.ReserveFactorBps = bps
	return nil
}

// SetCursor updates the weighting of pool borrow growth inside the matched
// rate, with the same sync-first rule as SetReserveFactor.
func (e *Engine) SetCursor(market common.Address, bps uint64) error {
	if bps > 10_000 {
		return errInvalidCursor
	}
	st, adapter, err := e.marketState(market)
	if err != nil {
		return err
	}
	if err := e.syncIndexes(st, adapter); err != nil {
		return err
	}
	st.market.CursorBps = bps
	return nil
}

// SetMaxSortedUsers updates the registry insertion bound.
func (e *Engine) SetMaxSortedUsers(market common.Address, n uint64) error {
	if n == 0 {
		return errInvalidMaxSorted
	}
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	st.market.MaxSortedUsers = n
	return nil
}

// SetBorrowCap updates the outstanding-borrow ceiling. Passing nil or zero
// removes the cap; an existing excess only blocks further borrows.
func (e *Engine) SetBorrowCap(market common.Address, cap *big.Int) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	st.market.BorrowCap = cloneBig(cap)
	return nil
}

// AccrueIndexes syncs the market's indexes against the pool without moving
// any balance. Exposed so integrations can quote fresh rates on demand.
func (e *Engine) AccrueIndexes(market common.Address) error {
	st, adapter, err := e.marketState(market)
	if err != nil {
		return err
	}
	return e.syncIndexes(st, adapter)
}

// PositionOf returns the user's scaled balances on the given side.
func (e *Engine) PositionOf(market, user common.Address, side Side) (inP2P, onPool *big.Int, err error) {
	if _, ok := e.store.get(market); !ok {
		return nil, nil, ErrMarketNotCreated
	}
	inP2P, onPool = e.ledger.BalanceOf(market, user, side)
	return inP2P, onPool, nil
}

// BalanceOf returns the user's total balance on the given side valued in
// underlying at the market's current indexes.
func (e *Engine) BalanceOf(market, user common.Address, side Side) (*big.Int, error) {
	st, ok := e.store.get(market)
	if !ok {
		return nil, ErrMarketNotCreated
	}
	return e.totalBalance(st, user, side), nil
}

// IndexesOf returns a copy of the market's index state.
func (e *Engine) IndexesOf(market common.Address) (Indexes, error) {
	st, ok := e.store.get(market)
	if !ok {
		return Indexes{}, ErrMarketNotCreated
	}
	return Indexes{
		P2PSupplyIndex:  cloneBig(st.market.P2PSupplyIndex),
		P2PBorrowIndex:  cloneBig(st.market.P2PBorrowIndex),
		PoolSupplyIndex: cloneBig(st.market.PoolSupplyIndex),
		PoolBorrowIndex: cloneBig(st.market.PoolBorrowIndex),
	}, nil
}

// DeltaOf returns a copy of the market's delta bookkeeping.
func (e *Engine) DeltaOf(market common.Address) (*Delta, error) {
	st, ok := e.store.get(market)
	if !ok {
		return nil, ErrMarketNotCreated
	}
	return st.delta.Clone(), nil
}

// MarketOf returns a copy of the market's parameters and indexes.
func (e *Engine) MarketOf(market common.Address) (*Market, error) {
	st, ok := e.store.get(market)
	if !ok {
		return nil, ErrMarketNotCreated
	}
	return st.market.Clone(), nil
}

// Markets lists every created market.
func (e *Engine) Markets() []common.Address {
	return e.store.Markets()
}

// EnteredMarkets lists the markets where the user holds any footprint.
func (e *Engine) EnteredMarkets(user common.Address) []common.Address {
	return e.store.EnteredMarkets(user)
}

// MatchedUsers lists the registry membership for one side and tier, head
// first. Exposed for the read API and state persistence.
func (e *Engine) MatchedUsers(market common.Address, side Side, matched bool) ([]common.Address, error) {
	st, ok := e.store.get(market)
	if !ok {
		return nil, ErrMarketNotCreated
	}
	t := tierOnPool
	if matched {
		t = tierInP2P
	}
	return st.registry(side, t).Users(), nil
}

// ForEachPosition walks every stored position in the market. The callback
// returning false stops the walk.
func (e *Engine) ForEachPosition(market common.Address, fn func(user common.Address, supply, borrow Position) bool) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	for user, pos := range st.positions {
		if !fn(user, pos.supply.Clone(), pos.borrow.Clone()) {
			return nil
		}
	}
	return nil
}

// RestoreMarketState overwrites a created market's indexes and delta during
// state reload. The market must already exist with its pool adapter wired.
func (e *Engine) RestoreMarketState(market common.Address, idx Indexes, delta *Delta) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	if idx.P2PSupplyIndex != nil {
		st.market.P2PSupplyIndex = cloneBig(idx.P2PSupplyIndex)
	}
	if idx.P2PBorrowIndex != nil {
		st.market.P2PBorrowIndex = cloneBig(idx.P2PBorrowIndex)
	}
	if idx.PoolSupplyIndex != nil {
		st.market.PoolSupplyIndex = cloneBig(idx.PoolSupplyIndex)
	}
	if idx.PoolBorrowIndex != nil {
		st.market.PoolBorrowIndex = cloneBig(idx.PoolBorrowIndex)
	}
	if delta != nil {
		st.delta = delta.Clone()
	}
	return nil
}

// RestorePosition seeds a user's scaled balances during state reload,
// rebuilding the registries and entered-market bookkeeping as it goes.
func (e *Engine) RestorePosition(market, user common.Address, side Side, inP2P, onPool *big.Int) error {
	st, ok := e.store.get(market)
	if !ok {
		return ErrMarketNotCreated
	}
	if user == (common.Address{}) {
		return ErrInvalidUser
	}
	p2pIndex := e.p2pIndex(st, side)
	poolIndex := e.poolIndex(st, side)
	e.ledger.setBalance(st, user, side, inP2P, onPool, p2pIndex, poolIndex)
	return nil
}
