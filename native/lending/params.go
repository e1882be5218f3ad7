package lending

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errInvalidReserveFactor = errors.New("lending market: reserve factor exceeds 100%")
	errInvalidCursor        = errors.New("lending market: cursor exceeds 100%")
	errInvalidCloseFactor   = errors.New("lending market: close factor exceeds 100%")
	errMissingSymbol        = errors.New("lending market: symbol required")
	errMissingUnderlying    = errors.New("lending market: underlying address required")
)

// Default matching parameters applied when a MarketConfig leaves them unset.
const (
	DefaultMaxSortedUsers = 16
	DefaultMatchBudget    = 64
	DefaultCloseFactorBps = 5_000
)

// MarketConfig is the governance-provided parameter set for creating a
// market.
type MarketConfig struct {
	Underlying          common.Address
	Symbol              string
	ReserveFactorBps    uint64
	CursorBps           uint64
	MaxSortedUsers      uint64
	LiquidationBonusBps uint64
	CloseFactorBps      uint64
	BorrowCap           *big.Int
	P2PDisabled         bool
}

func (c *MarketConfig) normalize() {
	c.Symbol = strings.TrimSpace(c.Symbol)
	if c.MaxSortedUsers == 0 {
		c.MaxSortedUsers = DefaultMaxSortedUsers
	}
	if c.CloseFactorBps == 0 {
		c.CloseFactorBps = DefaultCloseFactorBps
	}
}

func (c *MarketConfig) validate() error {
	if c.Underlying == (common.Address{}) {
		return errMissingUnderlying
	}
	if c.Symbol == "" {
		return errMissingSymbol
	}
	if c.ReserveFactorBps > 10_000 {
		return errInvalidReserveFactor
	}
	if c.CursorBps > 10_000 {
		return errInvalidCursor
	}
	if c.CloseFactorBps > 10_000 {
		return errInvalidCloseFactor
	}
	return nil
}

func (c *MarketConfig) market() *Market {
	return &Market{
		Underlying:          c.Underlying,
		Symbol:              c.Symbol,
		P2PSupplyIndex:      new(big.Int).Set(ray),
		P2PBorrowIndex:      new(big.Int).Set(ray),
		PoolSupplyIndex:     new(big.Int).Set(ray),
		PoolBorrowIndex:     new(big.Int).Set(ray),
		ReserveFactorBps:    c.ReserveFactorBps,
		CursorBps:           c.CursorBps,
		MaxSortedUsers:      c.MaxSortedUsers,
		LiquidationBonusBps: c.LiquidationBonusBps,
		CloseFactorBps:      c.CloseFactorBps,
		BorrowCap:           cloneBig(c.BorrowCap),
		P2PDisabled:         c.P2PDisabled,
	}
}
