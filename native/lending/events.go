package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"peerlend/core/types"
)

const (
	EventTypeSupplied        = "lending.supplied"
	EventTypeBorrowed        = "lending.borrowed"
	EventTypeWithdrawn       = "lending.withdrawn"
	EventTypeRepaid          = "lending.repaid"
	EventTypeLiquidated      = "lending.liquidated"
	EventTypePositionUpdated = "lending.position_updated"
	EventTypeIndexesUpdated  = "lending.p2p_indexes_updated"
)

func newOperationEvent(eventType string, market *Market, user common.Address, amount, matched *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"market":  market.Underlying.Hex(),
			"symbol":  market.Symbol,
			"user":    user.Hex(),
			"amount":  bigString(amount),
			"matched": bigString(matched),
		},
	}
}

// newPositionEvent is the balance-changed notification: the user's new scaled
// balances for one side of a market.
func newPositionEvent(market *Market, user common.Address, side Side, inP2P, onPool *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypePositionUpdated,
		Attributes: map[string]string{
			"market":       market.Underlying.Hex(),
			"symbol":       market.Symbol,
			"user":         user.Hex(),
			"side":         side.String(),
			"matchedUnits": bigString(inP2P),
			"poolUnits":    bigString(onPool),
		},
	}
}

func newLiquidatedEvent(debtMarket, collateralMarket *Market, liquidator, borrower common.Address, repaid, seized *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeLiquidated,
		Attributes: map[string]string{
			"debtMarket":       debtMarket.Underlying.Hex(),
			"collateralMarket": collateralMarket.Underlying.Hex(),
			"liquidator":       liquidator.Hex(),
			"borrower":         borrower.Hex(),
			"repaid":           bigString(repaid),
			"seized":           bigString(seized),
		},
	}
}

func newIndexesEvent(market *Market) *types.Event {
	return &types.Event{
		Type: EventTypeIndexesUpdated,
		Attributes: map[string]string{
			"market":     market.Underlying.Hex(),
			"symbol":     market.Symbol,
			"p2pSupply":  bigString(market.P2PSupplyIndex),
			"p2pBorrow":  bigString(market.P2PBorrowIndex),
			"poolSupply": bigString(market.PoolSupplyIndex),
			"poolBorrow": bigString(market.PoolBorrowIndex),
		},
	}
}

func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
