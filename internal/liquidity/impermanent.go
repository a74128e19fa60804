package liquidity

import (
	"fmt"
	"math/big"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// EstimateImpermanentLoss approximates the impermanent loss of a liquidity
// position as a WAD-scaled percentage, from the squared relative price
// deviation: loss% = (dp/p0)^2 * 100 / 8, the second-order expansion of the
// exact 2*sqrt(r)/(1+r) - 1 around r = 1.
//
// This is a display-grade estimate for decision support, not an accounting
// figure: it overstates the loss for large deviations (a doubled price
// yields 12.5% here against 5.72% exact). Callers needing settlement-grade
// numbers must value both legs against the venue instead.
func EstimateImpermanentLoss(initialPrice, currentPrice *big.Int) (*big.Int, error) {
	if initialPrice == nil || currentPrice == nil || initialPrice.Sign() < 0 || currentPrice.Sign() < 0 {
		return nil, fmt.Errorf("liquidity: estimate IL: prices must be non-negative: %w", domain.ErrInvalidInput)
	}
	if initialPrice.Sign() == 0 {
		return nil, fmt.Errorf("liquidity: estimate IL: zero initial price: %w", domain.ErrDivisionByZero)
	}

	deviation := new(big.Int).Sub(currentPrice, initialPrice)
	deviation.Abs(deviation)
	deviation = mulDivDown(deviation, WAD, initialPrice)

	squared := WadMul(deviation, deviation)
	return mulDivDown(squared, big.NewInt(100), big.NewInt(8)), nil
}
