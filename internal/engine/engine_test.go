package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/hedge"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
	"github.com/amsorrytola/HedgeCraft/internal/store/memory"
	"github.com/amsorrytola/HedgeCraft/internal/venue/sim"
)

var (
	engOp    = common.HexToAddress("0x01")
	alice    = common.HexToAddress("0xaa")
	baseTok  = common.HexToAddress("0x02")
	quoteTok = common.HexToAddress("0x03")

	// Pool at price 1 with range [0.25, 2.25]: sqrt prices 1, 0.5 and 1.5.
	rangeLower = big.NewInt(250_000_000_000_000_000)
	rangeUpper = big.NewInt(2_250_000_000_000_000_000)
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), liquidity.WAD)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureLiquidity records the last opened leg id so tests can inspect legs
// the engine references only internally.
type captureLiquidity struct {
	*sim.LiquidityVenue
	lastLegID string
}

func (v *captureLiquidity) Open(ctx context.Context, owner, base, quote common.Address, amount0, amount1, lower, upper *big.Int) (domain.LiquidityOpenResult, error) {
	res, err := v.LiquidityVenue.Open(ctx, owner, base, quote, amount0, amount1, lower, upper)
	v.lastLegID = res.LegID
	return res, err
}

type engineFixture struct {
	ledger     *sim.Ledger
	lending    *sim.LendingVenue
	swaps      *sim.SwapVenue
	yields     *captureLiquidity
	mgr        *hedge.Manager
	posStore   *memory.PositionStore
	hedgeStore *memory.HedgeStore
	audit      *memory.AuditStore
	locks      *memory.LockManager
	eng        *Engine
}

func newEngineFixture(t *testing.T, funding *big.Int) *engineFixture {
	t.Helper()

	ledger := sim.NewLedger()
	lending := sim.NewLendingVenue(ledger, sim.LendingConfig{Operator: engOp})
	swaps := sim.NewSwapVenue(ledger, engOp, 0)
	swaps.SetPrice(baseTok, quoteTok, wad(1))
	yields := &captureLiquidity{LiquidityVenue: sim.NewLiquidityVenue(wad(1))}

	hedgeStore := memory.NewHedgeStore()
	mgr := hedge.NewManager(lending, swaps, hedgeStore, hedge.FixedFractionPolicy{Bps: 5000}, nil, nil,
		hedge.Config{Operator: engOp, SwapDeadline: time.Minute, SlippageBps: 50}, discardLogger())
	lending.RegisterSink(mgr)
	ledger.Fund(baseTok, engOp, funding)

	posStore := memory.NewPositionStore()
	audit := memory.NewAuditStore()
	locks := memory.NewLockManager()
	eng := New(yields, mgr, swaps, posStore, locks, nil, audit,
		Config{YieldPercent: 79}, discardLogger())

	return &engineFixture{
		ledger: ledger, lending: lending, swaps: swaps, yields: yields,
		mgr: mgr, posStore: posStore, hedgeStore: hedgeStore,
		audit: audit, locks: locks, eng: eng,
	}
}

func (fx *engineFixture) openScenario(t *testing.T) string {
	t.Helper()
	id, err := fx.eng.OpenPosition(context.Background(), alice, baseTok, quoteTok,
		wad(1000), wad(10), rangeLower, rangeUpper)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestEngine_OpenPosition_SplitsAndOpensLegs(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()

	id := fx.openScenario(t)

	pos, err := fx.eng.GetPosition(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)

	// 79% of each deposit goes to the yield leg; the token1 side binds.
	assert.Equal(t, "15800000000000000000", pos.YieldLiquidity.String())
	assert.Equal(t, "5266666666666666667", pos.YieldAmount0.String())
	assert.Equal(t, "7900000000000000000", pos.YieldAmount1.String())
	assert.Equal(t, wad(210).String(), pos.HedgeValue.String())
	assert.Equal(t, wad(1).String(), pos.ReferencePrice.String())
	assert.False(t, pos.YieldClosed)
	assert.False(t, pos.HedgeClosed)

	// The hedge leg took the base-asset hedge share at 1.25x.
	require.NotEmpty(t, pos.HedgeID)
	rec, err := fx.hedgeStore.GetByID(ctx, pos.HedgeID)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateOpen, rec.State)
	assert.Equal(t, "262500000000000000000", rec.CollateralSupplied.String())
	assert.Equal(t, "131250000000000000000", rec.DebtBorrowed.String())

	entries, err := fx.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var logged bool
	for _, entry := range entries {
		if entry.Event == "position.open" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestEngine_OpenPosition_InvalidAssets(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()

	_, err := fx.eng.OpenPosition(ctx, alice, baseTok, baseTok, wad(1000), wad(10), rangeLower, rangeUpper)
	assert.ErrorIs(t, err, domain.ErrInvalidAssets)

	_, err = fx.eng.OpenPosition(ctx, alice, common.Address{}, quoteTok, wad(1000), wad(10), rangeLower, rangeUpper)
	assert.ErrorIs(t, err, domain.ErrInvalidAssets)
}

func TestEngine_OpenPosition_NonPositiveAmounts(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()

	_, err := fx.eng.OpenPosition(ctx, alice, baseTok, quoteTok, big.NewInt(0), wad(10), rangeLower, rangeUpper)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = fx.eng.OpenPosition(ctx, alice, baseTok, quoteTok, wad(1000), nil, rangeLower, rangeUpper)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEngine_OpenPosition_BelowMinDeposit(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	eng := New(fx.yields, fx.mgr, fx.swaps, fx.posStore, fx.locks, nil, fx.audit,
		Config{YieldPercent: 79, MinDeposit: wad(2000)}, discardLogger())

	_, err := eng.OpenPosition(context.Background(), alice, baseTok, quoteTok,
		wad(1000), wad(10), rangeLower, rangeUpper)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEngine_OpenPosition_HedgeFailureUnwindsYield(t *testing.T) {
	// Operator funds cover the yield leg but not the 210 hedge principal.
	fx := newEngineFixture(t, wad(100))
	ctx := context.Background()

	_, err := fx.eng.OpenPosition(ctx, alice, baseTok, quoteTok,
		wad(1000), wad(10), rangeLower, rangeUpper)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// No composite record survives and the yield leg was burned back out.
	list, err := fx.posStore.ListByOwner(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)

	details, err := fx.yields.Details(ctx, fx.yields.lastLegID)
	require.NoError(t, err)
	assert.Equal(t, "0", details.Liquidity.String())
}

func TestEngine_ClosePosition_TwoPhase(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	require.NoError(t, fx.eng.ClosePosition(ctx, alice, id))

	pos, err := fx.posStore.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.True(t, pos.YieldClosed)
	assert.True(t, pos.HedgeClosed)
	require.NotNil(t, pos.ClosedAt)

	details, err := fx.yields.Details(ctx, pos.YieldLegID)
	require.NoError(t, err)
	assert.Equal(t, "0", details.Liquidity.String())

	rec, err := fx.hedgeStore.GetByID(ctx, pos.HedgeID)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateClosed, rec.State)
}

func TestEngine_ClosePosition_UnauthorizedLeavesActive(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	stranger := common.HexToAddress("0xbb")
	err := fx.eng.ClosePosition(ctx, stranger, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedOwner)

	pos, err := fx.posStore.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)

	rec, err := fx.hedgeStore.GetByID(ctx, pos.HedgeID)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateOpen, rec.State)
}

func TestEngine_ClosePosition_AlreadyClosed(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	require.NoError(t, fx.eng.ClosePosition(ctx, alice, id))
	err := fx.eng.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrPositionAlreadyClosed)
}

func TestEngine_ClosePosition_NotFound(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))

	err := fx.eng.ClosePosition(context.Background(), alice, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_ClosePosition_Busy(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	unlock, err := fx.locks.Acquire(ctx, positionLockKey(id), time.Minute)
	require.NoError(t, err)
	defer unlock()

	err = fx.eng.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrPositionBusy)
}

// flakyHedger fails a configured number of closes before delegating,
// standing in for a venue outage during leg teardown.
type flakyHedger struct {
	inner      hedger
	failCloses int
}

func (h *flakyHedger) OpenShort(ctx context.Context, owner, collateralAsset, shortedAsset common.Address, principal, leverage *big.Int) (string, error) {
	return h.inner.OpenShort(ctx, owner, collateralAsset, shortedAsset, principal, leverage)
}

func (h *flakyHedger) CloseShort(ctx context.Context, owner common.Address, id string) error {
	if h.failCloses > 0 {
		h.failCloses--
		return errors.New("venue down")
	}
	return h.inner.CloseShort(ctx, owner, id)
}

func TestEngine_ClosePosition_PartialThenResume(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()

	flaky := &flakyHedger{inner: fx.mgr, failCloses: 1}
	eng := New(fx.yields, flaky, fx.swaps, fx.posStore, fx.locks, nil, fx.audit,
		Config{YieldPercent: 79}, discardLogger())

	id, err := eng.OpenPosition(ctx, alice, baseTok, quoteTok,
		wad(1000), wad(10), rangeLower, rangeUpper)
	require.NoError(t, err)

	err = eng.ClosePosition(ctx, alice, id)
	require.Error(t, err)

	pos, err := fx.posStore.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPartiallyClosed, pos.Status)
	assert.True(t, pos.YieldClosed)
	assert.False(t, pos.HedgeClosed)
	assert.Nil(t, pos.ClosedAt)

	require.NoError(t, eng.ResumeClose(ctx, alice, id))

	pos, err = fx.posStore.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.True(t, pos.HedgeClosed)
	require.NotNil(t, pos.ClosedAt)
}

func TestEngine_ResumeClose_RequiresCloseInProgress(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	err := fx.eng.ResumeClose(ctx, alice, id)
	require.ErrorIs(t, err, domain.ErrStateConflict)

	// The active position is untouched; only ClosePosition starts a close.
	pos, err := fx.posStore.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)
	assert.False(t, pos.YieldClosed)
	assert.False(t, pos.HedgeClosed)
}

func TestEngine_CollectFees(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	require.NoError(t, fx.yields.AccrueFees(fx.yields.lastLegID, wad(5), wad(7)))

	fees0, fees1, err := fx.eng.CollectFees(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, wad(5).String(), fees0.String())
	assert.Equal(t, wad(7).String(), fees1.String())

	// Already collected: nothing further accrues.
	fees0, fees1, err = fx.eng.CollectFees(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, "0", fees0.String())
	assert.Equal(t, "0", fees1.String())
}

func TestEngine_CollectFees_ClosedPosition(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	require.NoError(t, fx.eng.ClosePosition(ctx, alice, id))

	_, _, err := fx.eng.CollectFees(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrPositionAlreadyClosed)
}

func TestEngine_EstimateLoss(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	// Price doubles: squared-deviation estimate gives 12.5%.
	fx.swaps.SetPrice(baseTok, quoteTok, wad(2))

	loss, err := fx.eng.EstimateLoss(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, "12500000000000000000", loss.String())
}

func TestEngine_GetPosition_Unauthorized(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	id := fx.openScenario(t)

	_, err := fx.eng.GetPosition(ctx, common.HexToAddress("0xbb"), id)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedOwner)
}

func TestEngine_ListPositions_FiltersByOwner(t *testing.T) {
	fx := newEngineFixture(t, wad(10_000))
	ctx := context.Background()
	fx.openScenario(t)

	list, err := fx.eng.ListPositions(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = fx.eng.ListPositions(ctx, common.HexToAddress("0xbb"), domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
