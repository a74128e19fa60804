package liquidity

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// wad converts a small integer into its WAD representation.
func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), WAD)
}

// The fixtures below use price=4, range [1, 9], so the sqrt terms are the
// round numbers 2, 1 and 3.

func TestLiquidityFromAmounts_InsideRange(t *testing.T) {
	// amount0 side: 100 * (2*3) / (3-2) = 600; amount1 side: 100 / (2-1) = 100.
	// The smaller side wins.
	liq, err := LiquidityFromAmounts(wad(100), wad(100), wad(4), wad(1), wad(9))
	require.NoError(t, err)

	assert.Zero(t, liq.Cmp(wad(100)), "got %s", liq)
}

func TestLiquidityFromAmounts_BelowRange(t *testing.T) {
	// Price under the lower bound: amount0 alone backs the position,
	// 100 * (1*3) / (3-1) = 150. amount1 is ignored entirely.
	price := new(big.Int).Quo(WAD, big.NewInt(2))
	liq, err := LiquidityFromAmounts(wad(100), wad(7), price, wad(1), wad(9))
	require.NoError(t, err)

	assert.Zero(t, liq.Cmp(wad(150)), "got %s", liq)
}

func TestLiquidityFromAmounts_AboveRange(t *testing.T) {
	// Price above the upper bound: amount1 alone, 100 / (3-1) = 50.
	liq, err := LiquidityFromAmounts(wad(7), wad(100), wad(16), wad(1), wad(9))
	require.NoError(t, err)

	assert.Zero(t, liq.Cmp(wad(50)), "got %s", liq)
}

func TestLiquidityFromAmounts_InvalidRange(t *testing.T) {
	_, err := LiquidityFromAmounts(wad(1), wad(1), wad(4), wad(9), wad(1))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = LiquidityFromAmounts(wad(1), wad(1), wad(4), wad(9), wad(9))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestLiquidityFromAmounts_BothAmountsZero(t *testing.T) {
	_, err := LiquidityFromAmounts(big.NewInt(0), big.NewInt(0), wad(4), wad(1), wad(9))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLiquidityFromAmounts_NegativeAmount(t *testing.T) {
	_, err := LiquidityFromAmounts(big.NewInt(-1), wad(1), wad(4), wad(1), wad(9))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAmountsFromLiquidity_InsideRange(t *testing.T) {
	amount0, amount1, err := AmountsFromLiquidity(wad(100), wad(4), wad(1), wad(9))
	require.NoError(t, err)

	// amount0 = ceil(100 * (3-2) / (2*3)) = ceil(16.66..) at WAD scale.
	assert.Equal(t, "16666666666666666667", amount0.String())
	assert.Zero(t, amount1.Cmp(wad(100)), "got %s", amount1)
}

func TestAmountsFromLiquidity_BelowRange(t *testing.T) {
	amount0, amount1, err := AmountsFromLiquidity(wad(100), wad(1), wad(4), wad(9))
	require.NoError(t, err)

	// Entirely asset0: ceil(100 * (3-2) / (2*3)) at the [4,9] range bounds.
	assert.Equal(t, "16666666666666666667", amount0.String())
	assert.Zero(t, amount1.Sign())
}

func TestAmountsFromLiquidity_AboveRange(t *testing.T) {
	amount0, amount1, err := AmountsFromLiquidity(wad(100), wad(16), wad(1), wad(9))
	require.NoError(t, err)

	assert.Zero(t, amount0.Sign())
	assert.Zero(t, amount1.Cmp(wad(200)), "got %s", amount1)
}

func TestAmountsFromLiquidity_InvalidRange(t *testing.T) {
	_, _, err := AmountsFromLiquidity(wad(100), wad(4), wad(9), wad(1))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestAmountsFromLiquidity_ZeroLiquidity(t *testing.T) {
	amount0, amount1, err := AmountsFromLiquidity(big.NewInt(0), wad(4), wad(1), wad(9))
	require.NoError(t, err)

	assert.Zero(t, amount0.Sign())
	assert.Zero(t, amount1.Sign())
}

func TestLiquidityRoundTrip_InsideRange(t *testing.T) {
	cases := []struct {
		name               string
		liq                *big.Int
		price, lower, upper *big.Int
	}{
		{"round numbers", wad(100), wad(4), wad(1), wad(9)},
		{"wide range", wad(12345), wad(25), wad(4), wad(100)},
		{"single unit", wad(1), wad(4), wad(1), wad(9)},
		{"large liquidity", wad(1_000_000_000), wad(9), wad(4), wad(25)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount0, amount1, err := AmountsFromLiquidity(tc.liq, tc.price, tc.lower, tc.upper)
			require.NoError(t, err)

			back, err := LiquidityFromAmounts(amount0, amount1, tc.price, tc.lower, tc.upper)
			require.NoError(t, err)

			// Upward-rounded amounts can only over-deliver: the recovered
			// liquidity is never below the original and stays within a few
			// wei of it.
			assert.GreaterOrEqual(t, back.Cmp(tc.liq), 0, "recovered %s < original %s", back, tc.liq)

			diff := new(big.Int).Sub(back, tc.liq)
			assert.LessOrEqual(t, diff.Cmp(big.NewInt(32)), 0, "diff %s too large", diff)
		})
	}
}
