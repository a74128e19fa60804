package liquidity

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

func TestSplitAllocation_DefaultSplit(t *testing.T) {
	alloc, err := SplitAllocation(big.NewInt(1000), 79)
	require.NoError(t, err)

	assert.Equal(t, "790", alloc.YieldShare.String())
	assert.Equal(t, "210", alloc.HedgeShare.String())
}

func TestSplitAllocation_RemainderGoesToHedge(t *testing.T) {
	// 10 * 79 / 100 = 7.9, floored to 7; the 0.9 remainder lands on the
	// hedge share instead of vanishing.
	alloc, err := SplitAllocation(big.NewInt(10), 79)
	require.NoError(t, err)

	assert.Equal(t, "7", alloc.YieldShare.String())
	assert.Equal(t, "3", alloc.HedgeShare.String())
}

func TestSplitAllocation_Conservation(t *testing.T) {
	totals := []int64{1, 2, 3, 7, 99, 100, 101, 1000, 999_999_937}
	percents := []int64{1, 33, 50, 79, 99}

	for _, total := range totals {
		for _, pct := range percents {
			alloc, err := SplitAllocation(big.NewInt(total), pct)
			require.NoError(t, err)

			sum := new(big.Int).Add(alloc.YieldShare, alloc.HedgeShare)
			assert.Zero(t, sum.Cmp(big.NewInt(total)),
				"total=%d pct=%d: %s + %s != %d", total, pct, alloc.YieldShare, alloc.HedgeShare, total)
		}
	}
}

func TestSplitAllocation_WadScaleValues(t *testing.T) {
	total := new(big.Int).Mul(big.NewInt(12345), WAD)
	alloc, err := SplitAllocation(total, 79)
	require.NoError(t, err)

	sum := new(big.Int).Add(alloc.YieldShare, alloc.HedgeShare)
	assert.Zero(t, sum.Cmp(total))
}

func TestSplitAllocation_InvalidPercent(t *testing.T) {
	for _, pct := range []int64{-5, 0, 100, 105} {
		_, err := SplitAllocation(big.NewInt(1000), pct)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "pct=%d", pct)
	}
}

func TestSplitAllocation_InvalidTotal(t *testing.T) {
	_, err := SplitAllocation(big.NewInt(0), 79)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = SplitAllocation(big.NewInt(-1), 79)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = SplitAllocation(nil, 79)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
