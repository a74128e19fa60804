package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HedgeState tracks a leveraged short through its open and close paths.
type HedgeState string

const (
	HedgeStateRequested      HedgeState = "requested"
	HedgeStateCollateralized HedgeState = "collateralized"
	HedgeStateBorrowed       HedgeState = "borrowed"
	HedgeStateOpen           HedgeState = "open"
	HedgeStateRepaying       HedgeState = "repaying"
	HedgeStateWithdrawn      HedgeState = "withdrawn"
	HedgeStateClosed         HedgeState = "closed"
)

// hedgeTransitions enumerates the legal state changes. The open path and the
// close path are both strictly ordered; everything else is rejected.
var hedgeTransitions = map[HedgeState][]HedgeState{
	HedgeStateRequested:      {HedgeStateCollateralized},
	HedgeStateCollateralized: {HedgeStateBorrowed},
	HedgeStateBorrowed:       {HedgeStateOpen},
	HedgeStateOpen:           {HedgeStateRepaying},
	HedgeStateRepaying:       {HedgeStateWithdrawn},
	HedgeStateWithdrawn:      {HedgeStateClosed},
	HedgeStateClosed:         {},
}

// CanTransition reports whether moving from one hedge state to another is
// legal.
func (s HedgeState) CanTransition(to HedgeState) bool {
	for _, next := range hedgeTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing transitions.
func (s HedgeState) Terminal() bool {
	return len(hedgeTransitions[s]) == 0
}

// HedgePosition is one leveraged short opened through a same-transaction
// loan. CollateralSupplied and DebtBorrowed are populated only by the loan
// callback; DebtBorrowed is set exactly once.
type HedgePosition struct {
	ID              string
	Owner           common.Address
	CollateralAsset common.Address
	ShortedAsset    common.Address

	// Principal is the capital the caller supplied before leverage.
	Principal *big.Int
	// Leverage is a WAD multiplier within the configured safe bound.
	Leverage *big.Int
	// LoanAmount = Principal x (Leverage - 1), the same-transaction loan
	// requested on open.
	LoanAmount *big.Int

	CollateralSupplied *big.Int
	DebtBorrowed       *big.Int

	State    HedgeState
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Closed reports whether the short has been fully torn down.
func (h HedgePosition) Closed() bool {
	return h.State == HedgeStateClosed
}
