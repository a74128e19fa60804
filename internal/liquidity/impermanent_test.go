package liquidity

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

func TestEstimateImpermanentLoss_EqualPrices(t *testing.T) {
	loss, err := EstimateImpermanentLoss(wad(3), wad(3))
	require.NoError(t, err)

	assert.Zero(t, loss.Sign())
}

func TestEstimateImpermanentLoss_PriceDoubled(t *testing.T) {
	// dev = 1.0 -> loss = 1^2 * 100/8 = 12.5% at WAD scale.
	loss, err := EstimateImpermanentLoss(wad(1), wad(2))
	require.NoError(t, err)

	assert.Equal(t, "12500000000000000000", loss.String())
}

func TestEstimateImpermanentLoss_TenPercentMove(t *testing.T) {
	// dev = 0.1 -> loss = 0.01 * 100/8 = 0.125%.
	initial := wad(1)
	current := new(big.Int).Add(wad(1), new(big.Int).Quo(WAD, big.NewInt(10)))

	loss, err := EstimateImpermanentLoss(initial, current)
	require.NoError(t, err)

	assert.Equal(t, "125000000000000000", loss.String())
}

func TestEstimateImpermanentLoss_SymmetricInDeviation(t *testing.T) {
	up, err := EstimateImpermanentLoss(wad(4), wad(5))
	require.NoError(t, err)
	down, err := EstimateImpermanentLoss(wad(4), wad(3))
	require.NoError(t, err)

	assert.Zero(t, up.Cmp(down))
}

func TestEstimateImpermanentLoss_MonotoneInDeviation(t *testing.T) {
	initial := wad(100)
	prev := big.NewInt(-1)

	for _, current := range []int64{100, 101, 105, 110, 150, 200, 400, 1000} {
		loss, err := EstimateImpermanentLoss(initial, wad(current))
		require.NoError(t, err)

		assert.GreaterOrEqual(t, loss.Cmp(prev), 0,
			"loss decreased at current=%d: %s < %s", current, loss, prev)
		prev = loss
	}
}

func TestEstimateImpermanentLoss_ZeroInitialPrice(t *testing.T) {
	_, err := EstimateImpermanentLoss(big.NewInt(0), wad(1))
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestEstimateImpermanentLoss_NegativePrice(t *testing.T) {
	_, err := EstimateImpermanentLoss(wad(1), big.NewInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
