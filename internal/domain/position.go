package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus tracks the lifecycle state of a composite position.
type PositionStatus string

const (
	PositionStatusActive PositionStatus = "active"
	// PositionStatusClosing marks a position whose teardown has started but
	// has not yet confirmed both legs down.
	PositionStatusClosing PositionStatus = "closing"
	// PositionStatusPartiallyClosed marks a position with exactly one leg
	// confirmed down; ResumeClose retries the other.
	PositionStatusPartiallyClosed PositionStatus = "partially_closed"
	PositionStatusClosed          PositionStatus = "closed"
)

// CompositePosition pairs one concentrated-liquidity yield leg with one
// leveraged short hedge leg under a single lifecycle. All monetary fields
// are WAD-scaled (1e18) big integers.
type CompositePosition struct {
	ID         string
	Owner      common.Address
	BaseAsset  common.Address
	QuoteAsset common.Address

	// Yield leg: the liquidity-venue handle plus what was actually deployed,
	// which may be less than requested.
	YieldLegID     string
	YieldLiquidity *big.Int
	YieldAmount0   *big.Int
	YieldAmount1   *big.Int

	// Hedge leg: reference to the record owned by the hedge manager, and the
	// capital committed to it.
	HedgeID    string
	HedgeValue *big.Int

	// ReferencePrice is the WAD spot price at open, kept for impermanent-loss
	// estimation.
	ReferencePrice *big.Int

	Status PositionStatus

	// Per-leg teardown progress. Both must be true before Status may become
	// closed.
	YieldClosed bool
	HedgeClosed bool

	OpenedAt time.Time
	ClosedAt *time.Time
}

// Terminal reports whether the position has reached its final state.
func (p CompositePosition) Terminal() bool {
	return p.Status == PositionStatusClosed
}
