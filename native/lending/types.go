package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Side identifies which half of a market a balance belongs to.
type Side uint8

const (
	// SideSupply marks lender balances.
	SideSupply Side = iota
	// SideBorrow marks borrower balances.
	SideBorrow
)

// Opposite returns the counterparty side.
func (s Side) Opposite() Side {
	if s == SideSupply {
		return SideBorrow
	}
	return SideSupply
}

func (s Side) String() string {
	if s == SideSupply {
		return "supply"
	}
	return "borrow"
}

// Market captures the per-market parameters and index state. Indexes are ray
// (1e27) fixed-point scalars expressing the value of one scaled unit in
// underlying; they only ever increase.
type Market struct {
	// Underlying identifies the market (the pool token address).
	Underlying common.Address
	// Symbol is a human readable tag used in events and metrics.
	Symbol string

	// P2PSupplyIndex grows matched supplier balances at the blended rate.
	P2PSupplyIndex *big.Int
	// P2PBorrowIndex grows matched borrower balances at the blended rate.
	P2PBorrowIndex *big.Int
	// PoolSupplyIndex is the pool supply index observed at the last sync.
	PoolSupplyIndex *big.Int
	// PoolBorrowIndex is the pool borrow index observed at the last sync.
	PoolBorrowIndex *big.Int

	// ReserveFactorBps is the protocol's share of the peer-to-peer spread
	// improvement, in basis points.
	ReserveFactorBps uint64
	// CursorBps weights the pool borrow growth inside the peer-to-peer
	// growth blend. 0 tracks the pool supply rate, 10_000 the borrow rate.
	CursorBps uint64
	// MaxSortedUsers bounds the traversal of a registry insertion.
	MaxSortedUsers uint64
	// LiquidationBonusBps is the collateral discount granted to liquidators.
	LiquidationBonusBps uint64
	// CloseFactorBps caps the share of a borrower's debt repayable in one
	// liquidation call.
	CloseFactorBps uint64
	// BorrowCap bounds total outstanding borrows in underlying; nil or zero
	// disables the cap.
	BorrowCap *big.Int

	// P2PDisabled forces every position onto the pool when set.
	P2PDisabled bool
	// Paused rejects all operations for the market.
	Paused bool
	// Frozen rejects supply and borrow but still allows exits.
	Frozen bool
}

// Delta records the matching debt of a market: scaled pool units that are
// nominally matched but have no live counterparty, plus the running totals of
// matched units issued per side.
type Delta struct {
	// SupplyDelta is pool-unit supply volume accruing at the pool rate while
	// counted in the peer-to-peer supply total.
	SupplyDelta *big.Int
	// BorrowDelta is pool-unit borrow volume accruing at the pool rate while
	// counted in the peer-to-peer borrow total.
	BorrowDelta *big.Int
	// SupplyInP2P is the total matched supply units issued.
	SupplyInP2P *big.Int
	// BorrowInP2P is the total matched borrow units issued.
	BorrowInP2P *big.Int
}

// Position is one side of a user's footprint in a market. Both balances are
// scaled units: underlying = units ray-mul the respective index.
type Position struct {
	// InP2P grows with the market's peer-to-peer index.
	InP2P *big.Int
	// OnPool grows with the pool's own index.
	OnPool *big.Int
}

// IsZero reports whether the position holds nothing on either tier.
func (p Position) IsZero() bool {
	return (p.InP2P == nil || p.InP2P.Sign() == 0) && (p.OnPool == nil || p.OnPool.Sign() == 0)
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	out := Position{InP2P: big.NewInt(0), OnPool: big.NewInt(0)}
	if p.InP2P != nil {
		out.InP2P.Set(p.InP2P)
	}
	if p.OnPool != nil {
		out.OnPool.Set(p.OnPool)
	}
	return out
}

// Clone returns a deep copy.
func (d *Delta) Clone() *Delta {
	if d == nil {
		return nil
	}
	return &Delta{
		SupplyDelta: cloneBig(d.SupplyDelta),
		BorrowDelta: cloneBig(d.BorrowDelta),
		SupplyInP2P: cloneBig(d.SupplyInP2P),
		BorrowInP2P: cloneBig(d.BorrowInP2P),
	}
}

// Clone returns a deep copy.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.P2PSupplyIndex = cloneBig(m.P2PSupplyIndex)
	clone.P2PBorrowIndex = cloneBig(m.P2PBorrowIndex)
	clone.PoolSupplyIndex = cloneBig(m.PoolSupplyIndex)
	clone.PoolBorrowIndex = cloneBig(m.PoolBorrowIndex)
	clone.BorrowCap = cloneBig(m.BorrowCap)
	return &clone
}

func newDelta() *Delta {
	return &Delta{
		SupplyDelta: big.NewInt(0),
		BorrowDelta: big.NewInt(0),
		SupplyInP2P: big.NewInt(0),
		BorrowInP2P: big.NewInt(0),
	}
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
