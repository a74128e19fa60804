package sim

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// Pool at price 4 with range [1, 9]: sqrt prices 2, 1 and 3. The token1
// side binds at 100 of liquidity when offered (17, 100).
func openTestLeg(t *testing.T, venue *LiquidityVenue) domain.LiquidityOpenResult {
	t.Helper()
	res, err := venue.Open(context.Background(), opAcct, tokenA, tokenB,
		wad(17), wad(100), wad(1), wad(9))
	require.NoError(t, err)
	return res
}

func TestLiquidityVenue_Open_ConsumesSmallerSide(t *testing.T) {
	venue := NewLiquidityVenue(wad(4))

	res := openTestLeg(t, venue)
	assert.NotEmpty(t, res.LegID)
	assert.Equal(t, wad(100).String(), res.Liquidity.String())
	assert.Equal(t, "16666666666666666667", res.Used0.String())
	assert.Equal(t, wad(100).String(), res.Used1.String())

	// Consumed amounts never exceed the offer.
	assert.True(t, res.Used0.Cmp(wad(17)) <= 0)
	assert.True(t, res.Used1.Cmp(wad(100)) <= 0)
}

func TestLiquidityVenue_Increase_AddsLiquidity(t *testing.T) {
	venue := NewLiquidityVenue(wad(4))
	res := openTestLeg(t, venue)

	liq, used0, used1, err := venue.Increase(context.Background(), res.LegID, wad(17), wad(100))
	require.NoError(t, err)
	assert.Equal(t, wad(100).String(), liq.String())
	assert.Equal(t, "16666666666666666667", used0.String())
	assert.Equal(t, wad(100).String(), used1.String())

	details, err := venue.Details(context.Background(), res.LegID)
	require.NoError(t, err)
	assert.Equal(t, wad(200).String(), details.Liquidity.String())
}

func TestLiquidityVenue_Decrease_ReturnsAmountsAtPrice(t *testing.T) {
	venue := NewLiquidityVenue(wad(4))
	res := openTestLeg(t, venue)

	amount0, amount1, err := venue.Decrease(context.Background(), res.LegID, wad(40))
	require.NoError(t, err)
	assert.Equal(t, "6666666666666666667", amount0.String())
	assert.Equal(t, wad(40).String(), amount1.String())

	details, err := venue.Details(context.Background(), res.LegID)
	require.NoError(t, err)
	assert.Equal(t, wad(60).String(), details.Liquidity.String())
}

func TestLiquidityVenue_Decrease_ExceedsLiquidity(t *testing.T) {
	venue := NewLiquidityVenue(wad(4))
	res := openTestLeg(t, venue)

	_, _, err := venue.Decrease(context.Background(), res.LegID, wad(101))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLiquidityVenue_PriceMoveRevaluesLeg(t *testing.T) {
	venue := NewLiquidityVenue(wad(4))
	res := openTestLeg(t, venue)

	// Price above the range: the whole position sits in token1.
	venue.SetPrice(wad(16))

	amount0, amount1, err := venue.Decrease(context.Background(), res.LegID, wad(100))
	require.NoError(t, err)
	assert.Equal(t, "0", amount0.String())
	assert.Equal(t, wad(200).String(), amount1.String())
}

func TestLiquidityVenue_Fees_AccrueAndCollect(t *testing.T) {
	venue := NewLiquidityVenue(wad(4))
	res := openTestLeg(t, venue)
	ctx := context.Background()

	require.NoError(t, venue.AccrueFees(res.LegID, wad(5), wad(7)))

	details, err := venue.Details(ctx, res.LegID)
	require.NoError(t, err)
	assert.Equal(t, wad(5).String(), details.Owed0.String())
	assert.Equal(t, wad(7).String(), details.Owed1.String())

	fees0, fees1, err := venue.CollectFees(ctx, res.LegID)
	require.NoError(t, err)
	assert.Equal(t, wad(5).String(), fees0.String())
	assert.Equal(t, wad(7).String(), fees1.String())

	// Collected fees are cleared.
	fees0, fees1, err = venue.CollectFees(ctx, res.LegID)
	require.NoError(t, err)
	assert.Equal(t, "0", fees0.String())
	assert.Equal(t, "0", fees1.String())
}

func TestLiquidityVenue_UnknownLeg(t *testing.T) {
	venue := NewLiquidityVenue(wad(4))
	ctx := context.Background()

	_, err := venue.Details(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, _, err = venue.Increase(ctx, "missing", wad(1), wad(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = venue.Decrease(ctx, "missing", big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = venue.CollectFees(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = venue.AccrueFees("missing", wad(1), wad(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
