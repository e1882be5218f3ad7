package lending

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type tier uint8

const (
	tierOnPool tier = iota
	tierInP2P
)

// userPosition pairs the two sides of a user's footprint in one market.
type userPosition struct {
	supply Position
	borrow Position
}

func (p *userPosition) side(s Side) *Position {
	if s == SideSupply {
		return &p.supply
	}
	return &p.borrow
}

func (p *userPosition) isZero() bool {
	return p.supply.IsZero() && p.borrow.IsZero()
}

// MarketState owns every mutable structure of one market: parameters and
// indexes, the matching delta, the position ledger entries, and the four
// sorted registries. It is mutated exclusively by the Engine; there is no
// ambient state.
type MarketState struct {
	market    *Market
	delta     *Delta
	positions map[common.Address]*userPosition

	// Aggregate pool-tier units per side, maintained by the ledger. The
	// matched-tier totals live in Delta.
	poolUnits [2]*big.Int

	// registries[side][tier]; e.g. registries[SideSupply][tierOnPool] ranks
	// pool-resident suppliers.
	registries [2][2]*Registry
}

func newMarketState(market *Market) *MarketState {
	st := &MarketState{
		market:    market,
		delta:     newDelta(),
		positions: make(map[common.Address]*userPosition),
		poolUnits: [2]*big.Int{big.NewInt(0), big.NewInt(0)},
	}
	for side := range st.registries {
		for t := range st.registries[side] {
			st.registries[side][t] = NewRegistry()
		}
	}
	return st
}

func (st *MarketState) registry(side Side, t tier) *Registry {
	return st.registries[side][t]
}

func (st *MarketState) position(user common.Address) *userPosition {
	pos, ok := st.positions[user]
	if !ok {
		pos = &userPosition{
			supply: Position{InP2P: newZero(), OnPool: newZero()},
			borrow: Position{InP2P: newZero(), OnPool: newZero()},
		}
		st.positions[user] = pos
	}
	return pos
}

// snapshot deep-copies the whole market state so a failed external-pool call
// can restore the pre-operation world.
func (st *MarketState) snapshot() *MarketState {
	clone := &MarketState{
		market:    st.market.Clone(),
		delta:     st.delta.Clone(),
		positions: make(map[common.Address]*userPosition, len(st.positions)),
		poolUnits: [2]*big.Int{
			new(big.Int).Set(st.poolUnits[SideSupply]),
			new(big.Int).Set(st.poolUnits[SideBorrow]),
		},
	}
	for user, pos := range st.positions {
		clone.positions[user] = &userPosition{
			supply: pos.supply.Clone(),
			borrow: pos.borrow.Clone(),
		}
	}
	for side := range st.registries {
		for t := range st.registries[side] {
			clone.registries[side][t] = st.registries[side][t].Clone()
		}
	}
	return clone
}

// MarketStore keys every MarketState by market identifier and tracks the set
// of markets each user has entered.
type MarketStore struct {
	states  map[common.Address]*MarketState
	entered map[common.Address]map[common.Address]struct{}
}

// NewMarketStore returns an empty store.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		states:  make(map[common.Address]*MarketState),
		entered: make(map[common.Address]map[common.Address]struct{}),
	}
}

func (s *MarketStore) add(state *MarketState) {
	s.states[state.market.Underlying] = state
}

func (s *MarketStore) get(id common.Address) (*MarketState, bool) {
	st, ok := s.states[id]
	return st, ok
}

// restore swaps the live state for a snapshot and re-derives this market's
// slice of every touched user's entered set from the snapshot's positions. A
// rolled-back operation may have pruned counterparties, not just the
// initiator, and their footprints come back with their positions.
func (s *MarketStore) restore(id common.Address, snap *MarketState) {
	if prev, ok := s.states[id]; ok {
		for user := range prev.positions {
			if _, kept := snap.positions[user]; !kept {
				s.leaveMarket(user, id)
			}
		}
	}
	s.states[id] = snap
	for user := range snap.positions {
		s.enterMarket(user, id)
	}
}

// Markets lists the created market identifiers in stable order.
func (s *MarketStore) Markets() []common.Address {
	out := make([]common.Address, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}

// EnteredMarkets lists the markets a user currently holds a position in, in
// stable order. The solvency check iterates this set.
func (s *MarketStore) EnteredMarkets(user common.Address) []common.Address {
	set, ok := s.entered[user]
	if !ok {
		return nil
	}
	out := make([]common.Address, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}

func (s *MarketStore) enterMarket(user, market common.Address) {
	set, ok := s.entered[user]
	if !ok {
		set = make(map[common.Address]struct{})
		s.entered[user] = set
	}
	set[market] = struct{}{}
}

func (s *MarketStore) leaveMarket(user, market common.Address) {
	set, ok := s.entered[user]
	if !ok {
		return
	}
	delete(set, market)
	if len(set) == 0 {
		delete(s.entered, user)
	}
}

func (s *MarketStore) enteredSnapshot(user common.Address) map[common.Address]struct{} {
	set, ok := s.entered[user]
	if !ok {
		return nil
	}
	clone := make(map[common.Address]struct{}, len(set))
	for id := range set {
		clone[id] = struct{}{}
	}
	return clone
}

func (s *MarketStore) restoreEntered(user common.Address, snap map[common.Address]struct{}) {
	if snap == nil {
		delete(s.entered, user)
		return
	}
	s.entered[user] = snap
}

func newZero() *big.Int { return big.NewInt(0) }
