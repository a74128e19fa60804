package liquidity

import (
	"fmt"
	"math/big"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// LiquidityFromAmounts computes the liquidity mintable from a pair of
// deposit amounts over the price range [priceLower, priceUpper] at the
// given current price. All prices are WAD-scaled.
//
// The standard three-region case split applies: below the range only
// amount0 backs the position, above it only amount1, and inside it the
// lesser of the two single-sided figures caps the result so neither side
// of the deposit is overcommitted.
func LiquidityFromAmounts(amount0, amount1, price, priceLower, priceUpper *big.Int) (*big.Int, error) {
	if err := validateRange(price, priceLower, priceUpper); err != nil {
		return nil, err
	}
	if amount0 == nil || amount1 == nil || amount0.Sign() < 0 || amount1.Sign() < 0 {
		return nil, fmt.Errorf("liquidity: amounts must be non-negative: %w", domain.ErrInvalidInput)
	}
	if amount0.Sign() == 0 && amount1.Sign() == 0 {
		return nil, fmt.Errorf("liquidity: both amounts zero: %w", domain.ErrInvalidInput)
	}

	sqrtLower := SqrtWad(priceLower)
	sqrtUpper := SqrtWad(priceUpper)
	sqrtPrice := SqrtWad(price)

	switch {
	case sqrtPrice.Cmp(sqrtLower) <= 0:
		return liquidityFromAmount0(amount0, sqrtLower, sqrtUpper), nil
	case sqrtPrice.Cmp(sqrtUpper) >= 0:
		return liquidityFromAmount1(amount1, sqrtLower, sqrtUpper), nil
	default:
		liq0 := liquidityFromAmount0(amount0, sqrtPrice, sqrtUpper)
		liq1 := liquidityFromAmount1(amount1, sqrtLower, sqrtPrice)
		if liq0.Cmp(liq1) < 0 {
			return liq0, nil
		}
		return liq1, nil
	}
}

// AmountsFromLiquidity is the inverse conversion: the underlying amounts a
// caller must supply to back the given liquidity over the range. Rounding
// is biased upward, since undersupplying a venue is never acceptable.
func AmountsFromLiquidity(liq, price, priceLower, priceUpper *big.Int) (amount0, amount1 *big.Int, err error) {
	if err := validateRange(price, priceLower, priceUpper); err != nil {
		return nil, nil, err
	}
	if liq == nil || liq.Sign() < 0 {
		return nil, nil, fmt.Errorf("liquidity: liquidity must be non-negative: %w", domain.ErrInvalidInput)
	}

	sqrtLower := SqrtWad(priceLower)
	sqrtUpper := SqrtWad(priceUpper)
	sqrtPrice := SqrtWad(price)

	switch {
	case sqrtPrice.Cmp(sqrtLower) <= 0:
		return amount0FromLiquidity(liq, sqrtLower, sqrtUpper), new(big.Int), nil
	case sqrtPrice.Cmp(sqrtUpper) >= 0:
		return new(big.Int), amount1FromLiquidity(liq, sqrtLower, sqrtUpper), nil
	default:
		amount0 = amount0FromLiquidity(liq, sqrtPrice, sqrtUpper)
		amount1 = amount1FromLiquidity(liq, sqrtLower, sqrtPrice)
		return amount0, amount1, nil
	}
}

// liquidityFromAmount0 returns floor(amount0 * (sqrtA*sqrtB/WAD) / (sqrtB-sqrtA)).
func liquidityFromAmount0(amount0, sqrtA, sqrtB *big.Int) *big.Int {
	product := new(big.Int).Mul(sqrtA, sqrtB)
	product.Quo(product, WAD)
	return mulDivDown(amount0, product, new(big.Int).Sub(sqrtB, sqrtA))
}

// liquidityFromAmount1 returns floor(amount1 * WAD / (sqrtB-sqrtA)).
func liquidityFromAmount1(amount1, sqrtA, sqrtB *big.Int) *big.Int {
	return mulDivDown(amount1, WAD, new(big.Int).Sub(sqrtB, sqrtA))
}

// amount0FromLiquidity returns ceil(liq * (sqrtB-sqrtA) * WAD / (sqrtA*sqrtB)).
func amount0FromLiquidity(liq, sqrtA, sqrtB *big.Int) *big.Int {
	num := new(big.Int).Mul(liq, new(big.Int).Sub(sqrtB, sqrtA))
	num.Mul(num, WAD)
	den := new(big.Int).Mul(sqrtA, sqrtB)
	rem := new(big.Int)
	num.QuoRem(num, den, rem)
	if rem.Sign() != 0 {
		num.Add(num, big.NewInt(1))
	}
	return num
}

// amount1FromLiquidity returns ceil(liq * (sqrtB-sqrtA) / WAD).
func amount1FromLiquidity(liq, sqrtA, sqrtB *big.Int) *big.Int {
	return mulDivUp(liq, new(big.Int).Sub(sqrtB, sqrtA), WAD)
}

func validateRange(price, priceLower, priceUpper *big.Int) error {
	if price == nil || priceLower == nil || priceUpper == nil {
		return fmt.Errorf("liquidity: nil price input: %w", domain.ErrInvalidInput)
	}
	if price.Sign() < 0 || priceLower.Sign() <= 0 || priceUpper.Sign() <= 0 {
		return fmt.Errorf("liquidity: prices must be positive: %w", domain.ErrInvalidInput)
	}
	if priceLower.Cmp(priceUpper) >= 0 {
		return fmt.Errorf("liquidity: lower bound %s >= upper bound %s: %w", priceLower, priceUpper, domain.ErrInvalidRange)
	}
	return nil
}
