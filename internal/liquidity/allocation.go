package liquidity

import (
	"fmt"
	"math/big"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// Allocation is the result of splitting a deposit between the two legs.
// YieldShare + HedgeShare always equals the split total exactly.
type Allocation struct {
	YieldShare *big.Int
	HedgeShare *big.Int
}

// SplitAllocation divides total between the yield leg and the hedge leg.
// The yield share is floor(total * yieldPercent / 100); the remainder of
// the floor division goes to the hedge share, so no value is lost to
// truncation. yieldPercent must be strictly between 0 and 100.
func SplitAllocation(total *big.Int, yieldPercent int64) (Allocation, error) {
	if total == nil || total.Sign() <= 0 {
		return Allocation{}, fmt.Errorf("liquidity: split allocation: total must be positive: %w", domain.ErrInvalidInput)
	}
	if yieldPercent <= 0 || yieldPercent >= 100 {
		return Allocation{}, fmt.Errorf("liquidity: split allocation: yield percent %d outside (0, 100): %w", yieldPercent, domain.ErrInvalidInput)
	}

	yield := new(big.Int).Mul(total, big.NewInt(yieldPercent))
	yield.Quo(yield, big.NewInt(100))
	hedge := new(big.Int).Sub(total, yield)

	return Allocation{YieldShare: yield, HedgeShare: hedge}, nil
}
