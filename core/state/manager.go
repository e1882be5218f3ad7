package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"peerlend/native/lending"
	"peerlend/storage"
)

var (
	marketPrefix   = []byte("lending/market/")
	positionPrefix = []byte("lending/position/")
)

// marketRecord is the persisted dynamic state of one market. Static
// parameters (symbol, factors, caps) live in configuration and are re-applied
// through CreateMarket on startup.
type marketRecord struct {
	P2PSupplyIndex  *big.Int
	P2PBorrowIndex  *big.Int
	PoolSupplyIndex *big.Int
	PoolBorrowIndex *big.Int
	SupplyDelta     *big.Int
	BorrowDelta     *big.Int
	SupplyInP2P     *big.Int
	BorrowInP2P     *big.Int
}

type positionRecord struct {
	SupplyInP2P  *big.Int
	SupplyOnPool *big.Int
	BorrowInP2P  *big.Int
	BorrowOnPool *big.Int
}

// Manager persists and rehydrates engine state across restarts. Records are
// RLP-encoded; the sorted registries are not stored and are rebuilt by
// reinsertion during Load.
type Manager struct {
	db storage.Database
}

// NewManager wraps a key-value database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func marketKey(market common.Address) []byte {
	return append(append([]byte(nil), marketPrefix...), market.Bytes()...)
}

func marketPositionPrefix(market common.Address) []byte {
	return append(append([]byte(nil), positionPrefix...), market.Bytes()...)
}

func positionKey(market, user common.Address) []byte {
	return append(marketPositionPrefix(market), user.Bytes()...)
}

// Save writes the dynamic state of every created market. Stale position rows
// from a previous snapshot are cleared per market before the fresh set is
// written.
func (m *Manager) Save(engine *lending.Engine) error {
	for _, market := range engine.Markets() {
		if err := m.saveMarket(engine, market); err != nil {
			return fmt.Errorf("state: save market %s: %w", market.Hex(), err)
		}
	}
	return nil
}

func (m *Manager) saveMarket(engine *lending.Engine, market common.Address) error {
	idx, err := engine.IndexesOf(market)
	if err != nil {
		return err
	}
	delta, err := engine.DeltaOf(market)
	if err != nil {
		return err
	}
	record := marketRecord{
		P2PSupplyIndex:  idx.P2PSupplyIndex,
		P2PBorrowIndex:  idx.P2PBorrowIndex,
		PoolSupplyIndex: idx.PoolSupplyIndex,
		PoolBorrowIndex: idx.PoolBorrowIndex,
		SupplyDelta:     delta.SupplyDelta,
		BorrowDelta:     delta.BorrowDelta,
		SupplyInP2P:     delta.SupplyInP2P,
		BorrowInP2P:     delta.BorrowInP2P,
	}
	payload, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return err
	}
	if err := m.db.Put(marketKey(market), payload); err != nil {
		return err
	}

	prefix := marketPositionPrefix(market)
	var stale [][]byte
	if err := m.db.Iterate(prefix, func(key, _ []byte) bool {
		stale = append(stale, append([]byte(nil), key...))
		return true
	}); err != nil {
		return err
	}
	for _, key := range stale {
		if err := m.db.Delete(key); err != nil {
			return err
		}
	}

	var walkErr error
	err = engine.ForEachPosition(market, func(user common.Address, supply, borrow lending.Position) bool {
		rec := positionRecord{
			SupplyInP2P:  supply.InP2P,
			SupplyOnPool: supply.OnPool,
			BorrowInP2P:  borrow.InP2P,
			BorrowOnPool: borrow.OnPool,
		}
		payload, encErr := rlp.EncodeToBytes(&rec)
		if encErr != nil {
			walkErr = encErr
			return false
		}
		if putErr := m.db.Put(positionKey(market, user), payload); putErr != nil {
			walkErr = putErr
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return walkErr
}

// Load rehydrates a freshly configured engine. The markets must already be
// created with their pool adapters wired; indexes, deltas and positions are
// restored on top. Markets without a stored record are left untouched so
// first boots and newly added markets work transparently.
func (m *Manager) Load(engine *lending.Engine) error {
	for _, market := range engine.Markets() {
		if err := m.loadMarket(engine, market); err != nil {
			return fmt.Errorf("state: load market %s: %w", market.Hex(), err)
		}
	}
	return nil
}

func (m *Manager) loadMarket(engine *lending.Engine, market common.Address) error {
	payload, err := m.db.Get(marketKey(market))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var record marketRecord
	if err := rlp.DecodeBytes(payload, &record); err != nil {
		return err
	}
	err = engine.RestoreMarketState(market, lending.Indexes{
		P2PSupplyIndex:  record.P2PSupplyIndex,
		P2PBorrowIndex:  record.P2PBorrowIndex,
		PoolSupplyIndex: record.PoolSupplyIndex,
		PoolBorrowIndex: record.PoolBorrowIndex,
	}, &lending.Delta{
		SupplyDelta: record.SupplyDelta,
		BorrowDelta: record.BorrowDelta,
		SupplyInP2P: record.SupplyInP2P,
		BorrowInP2P: record.BorrowInP2P,
	})
	if err != nil {
		return err
	}

	prefix := marketPositionPrefix(market)
	var walkErr error
	err = m.db.Iterate(prefix, func(key, value []byte) bool {
		if len(key) != len(prefix)+common.AddressLength {
			walkErr = fmt.Errorf("malformed position key %x", key)
			return false
		}
		user := common.BytesToAddress(key[len(prefix):])
		var rec positionRecord
		if decErr := rlp.DecodeBytes(value, &rec); decErr != nil {
			walkErr = decErr
			return false
		}
		if resErr := engine.RestorePosition(market, user, lending.SideSupply, rec.SupplyInP2P, rec.SupplyOnPool); resErr != nil {
			walkErr = resErr
			return false
		}
		if resErr := engine.RestorePosition(market, user, lending.SideBorrow, rec.BorrowInP2P, rec.BorrowOnPool); resErr != nil {
			walkErr = resErr
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return walkErr
}
