package lending

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errNoPriceFeed = errors.New("lending oracle: no feed for asset")

// PriceOracle supplies asset prices and collateral factors for the solvency
// prechecks. Prices are wad (1e18) fixed-point in a common reference unit;
// collateral factors are basis points. The matching core itself never reads
// the oracle.
type PriceOracle interface {
	Price(asset common.Address) (*big.Int, error)
	CollateralFactor(asset common.Address) (uint64, error)
}

// StaticOracle is a governance-fed oracle holding fixed prices and collateral
// factors. The daemon loads it from configuration; tests set values directly.
type StaticOracle struct {
	mu      sync.RWMutex
	prices  map[common.Address]*big.Int
	factors map[common.Address]uint64
}

// NewStaticOracle returns an empty oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		prices:  make(map[common.Address]*big.Int),
		factors: make(map[common.Address]uint64),
	}
}

// SetPrice records the wad price for an asset.
func (o *StaticOracle) SetPrice(asset common.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = new(big.Int).Set(price)
}

// SetCollateralFactor records the collateral factor for an asset in basis
// points.
func (o *StaticOracle) SetCollateralFactor(asset common.Address, bps uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.factors[asset] = bps
}

func (o *StaticOracle) Price(asset common.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, errNoPriceFeed
	}
	return new(big.Int).Set(price), nil
}

func (o *StaticOracle) CollateralFactor(asset common.Address) (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	factor, ok := o.factors[asset]
	if !ok {
		return 0, errNoPriceFeed
	}
	return factor, nil
}
