package hedge

import (
	"context"
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
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
	"github.com/amsorrytola/HedgeCraft/internal/store/memory"
	"github.com/amsorrytola/HedgeCraft/internal/venue/sim"
)

var (
	testOperator = common.HexToAddress("0x01")
	testOwner    = common.HexToAddress("0xaa")
	testUSDC     = common.HexToAddress("0x02")
	testWETH     = common.HexToAddress("0x03")
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), liquidity.WAD)
}

// captureStore records the last created id so tests can observe records
// whose open attempt aborted before OpenShort returned an id.
type captureStore struct {
	*memory.HedgeStore
	lastID string
}

func (s *captureStore) Create(ctx context.Context, pos domain.HedgePosition) error {
	s.lastID = pos.ID
	return s.HedgeStore.Create(ctx, pos)
}

type hedgeFixture struct {
	ledger  *sim.Ledger
	lending *sim.LendingVenue
	swaps   *sim.SwapVenue
	store   *captureStore
	mgr     *Manager
}

func newHedgeFixture(t *testing.T) *hedgeFixture {
	t.Helper()

	ledger := sim.NewLedger()
	lending := sim.NewLendingVenue(ledger, sim.LendingConfig{Operator: testOperator})
	swaps := sim.NewSwapVenue(ledger, testOperator, 0)
	swaps.SetPrice(testUSDC, testWETH, wad(1))
	store := &captureStore{HedgeStore: memory.NewHedgeStore()}

	mgr := NewManager(lending, swaps, store, FixedFractionPolicy{Bps: 5000}, nil, nil,
		Config{Operator: testOperator, SwapDeadline: time.Minute, SlippageBps: 50},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	lending.RegisterSink(mgr)
	ledger.Fund(testUSDC, testOperator, wad(10_000))

	return &hedgeFixture{ledger: ledger, lending: lending, swaps: swaps, store: store, mgr: mgr}
}

func TestManager_OpenShort_LoanAndCollateral(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	leverage := big.NewInt(1_250_000_000_000_000_000) // 1.25
	id, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), leverage)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := fx.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateOpen, rec.State)
	assert.Equal(t, wad(250).String(), rec.LoanAmount.String())
	assert.Equal(t, wad(1250).String(), rec.CollateralSupplied.String())
	assert.Equal(t, wad(625).String(), rec.DebtBorrowed.String())
	assert.Nil(t, rec.ClosedAt)

	status, err := fx.lending.AccountStatus(ctx, testOperator)
	require.NoError(t, err)
	assert.Equal(t, wad(1250).String(), status.Collateral.String())
	assert.Equal(t, wad(625).String(), status.Debt.String())

	// Half the borrow swapped back; loan principal pulled at settlement.
	assert.Equal(t, "9062500000000000000000", fx.ledger.Balance(testUSDC, testOperator).String())
	assert.Equal(t, "312500000000000000000", fx.ledger.Balance(testWETH, testOperator).String())
}

func TestManager_OpenShort_UnitLeverageSkipsLoan(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	id, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), wad(1))
	require.NoError(t, err)

	rec, err := fx.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateOpen, rec.State)
	assert.Equal(t, "0", rec.LoanAmount.String())
	assert.Equal(t, wad(1000).String(), rec.CollateralSupplied.String())
	assert.Equal(t, wad(500).String(), rec.DebtBorrowed.String())

	// No loan means no settlement pull and no funding swap.
	assert.Equal(t, wad(9000).String(), fx.ledger.Balance(testUSDC, testOperator).String())
	assert.Equal(t, wad(500).String(), fx.ledger.Balance(testWETH, testOperator).String())
}

func TestManager_OpenShort_MaxLeverage(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	// At 3x the funding swap must cover a 2000 loan from half a 1500
	// borrow, so the shorted asset has to be worth more than par.
	fx.swaps.SetPrice(testWETH, testUSDC, wad(4))

	id, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), wad(3))
	require.NoError(t, err)

	rec, err := fx.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateOpen, rec.State)
	assert.Equal(t, wad(2000).String(), rec.LoanAmount.String())
	assert.Equal(t, wad(3000).String(), rec.CollateralSupplied.String())
	assert.Equal(t, wad(1500).String(), rec.DebtBorrowed.String())

	assert.Equal(t, wad(10_000).String(), fx.ledger.Balance(testUSDC, testOperator).String())
	assert.Equal(t, wad(750).String(), fx.ledger.Balance(testWETH, testOperator).String())
}

func TestManager_OpenShort_LeverageOutOfRange(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	below := new(big.Int).Sub(wad(1), big.NewInt(1))
	_, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), below)
	assert.ErrorIs(t, err, domain.ErrLeverageOutOfRange)

	above := new(big.Int).Add(wad(3), big.NewInt(1))
	_, err = fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), above)
	assert.ErrorIs(t, err, domain.ErrLeverageOutOfRange)

	_, err = fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), nil)
	assert.ErrorIs(t, err, domain.ErrLeverageOutOfRange)
}

func TestManager_OpenShort_InvalidInputs(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	_, err := fx.mgr.OpenShort(ctx, testOwner, common.Address{}, testWETH, wad(1000), wad(2))
	assert.ErrorIs(t, err, domain.ErrInvalidAssets)

	_, err = fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, big.NewInt(0), wad(2))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, big.NewInt(-5), wad(2))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestManager_OpenShort_InsufficientBalance(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	_, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(20_000), wad(2))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, wad(10_000).String(), fx.ledger.Balance(testUSDC, testOperator).String())
}

func TestManager_OpenShort_CallbackFailureRollsBack(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	// No price for the borrow asset: the funding swap inside the callback
	// fails after collateral and debt have already moved.
	fresh := common.HexToAddress("0x04")
	_, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, fresh, wad(1000), wad(2))
	require.Error(t, err)

	status, err := fx.lending.AccountStatus(ctx, testOperator)
	require.NoError(t, err)
	assert.Equal(t, "0", status.Collateral.String())
	assert.Equal(t, "0", status.Debt.String())
	assert.Equal(t, wad(10_000).String(), fx.ledger.Balance(testUSDC, testOperator).String())
	assert.Equal(t, "0", fx.ledger.Balance(fresh, testOperator).String())

	_, err = fx.store.GetByID(ctx, fx.store.lastID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_OnLoan_UnknownRequest(t *testing.T) {
	fx := newHedgeFixture(t)

	err := fx.mgr.OnLoan(context.Background(), uuid.NewString(), testUSDC, wad(1), new(big.Int))
	assert.ErrorIs(t, err, domain.ErrUnauthorizedCallback)
}

// replayVenue relays loans to the simulated venue, then fires the callback a
// second time with the same request id, imitating a hostile venue.
type replayVenue struct {
	*sim.LendingVenue
	mgr      *Manager
	replayed error
}

func (v *replayVenue) RequestLoan(ctx context.Context, asset common.Address, amount *big.Int, requestID string) error {
	if err := v.LendingVenue.RequestLoan(ctx, asset, amount, requestID); err != nil {
		return err
	}
	v.replayed = v.mgr.OnLoan(ctx, requestID, asset, amount, new(big.Int))
	return nil
}

func TestManager_OnLoan_ReplayRejected(t *testing.T) {
	ledger := sim.NewLedger()
	inner := sim.NewLendingVenue(ledger, sim.LendingConfig{Operator: testOperator})
	swaps := sim.NewSwapVenue(ledger, testOperator, 0)
	swaps.SetPrice(testUSDC, testWETH, wad(1))
	store := &captureStore{HedgeStore: memory.NewHedgeStore()}

	venue := &replayVenue{LendingVenue: inner}
	mgr := NewManager(venue, swaps, store, FixedFractionPolicy{Bps: 5000}, nil, nil,
		Config{Operator: testOperator, SwapDeadline: time.Minute, SlippageBps: 50},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	venue.mgr = mgr
	inner.RegisterSink(mgr)
	ledger.Fund(testUSDC, testOperator, wad(10_000))

	id, err := mgr.OpenShort(context.Background(), testOwner, testUSDC, testWETH, wad(1000), big.NewInt(1_250_000_000_000_000_000))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.ErrorIs(t, venue.replayed, domain.ErrUnauthorizedCallback)
}

func TestManager_CloseShort_FlashRepay(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	leverage := big.NewInt(1_250_000_000_000_000_000)
	id, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), leverage)
	require.NoError(t, err)

	require.NoError(t, fx.mgr.CloseShort(ctx, testOwner, id))

	rec, err := fx.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateClosed, rec.State)
	require.NotNil(t, rec.ClosedAt)

	status, err := fx.lending.AccountStatus(ctx, testOperator)
	require.NoError(t, err)
	assert.Equal(t, "0", status.Collateral.String())
	assert.Equal(t, "0", status.Debt.String())

	// Collateral net of the slippage-padded repayment funding goes to the
	// owner; a sliver of the shorted asset is left with the operator.
	assert.Equal(t, "935937499999999999999", fx.ledger.Balance(testUSDC, testOwner).String())
	assert.Equal(t, "1562500000000000001", fx.ledger.Balance(testWETH, testOperator).String())
}

func TestManager_CloseShort_AlreadyClosed(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	id, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), big.NewInt(1_250_000_000_000_000_000))
	require.NoError(t, err)
	require.NoError(t, fx.mgr.CloseShort(ctx, testOwner, id))

	ownerBalance := fx.ledger.Balance(testUSDC, testOwner).String()

	err = fx.mgr.CloseShort(ctx, testOwner, id)
	assert.ErrorIs(t, err, domain.ErrPositionAlreadyClosed)
	assert.Equal(t, ownerBalance, fx.ledger.Balance(testUSDC, testOwner).String())
}

func TestManager_CloseShort_UnauthorizedOwner(t *testing.T) {
	fx := newHedgeFixture(t)
	ctx := context.Background()

	id, err := fx.mgr.OpenShort(ctx, testOwner, testUSDC, testWETH, wad(1000), big.NewInt(1_250_000_000_000_000_000))
	require.NoError(t, err)

	stranger := common.HexToAddress("0xbb")
	err = fx.mgr.CloseShort(ctx, stranger, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedOwner)

	rec, err := fx.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateOpen, rec.State)
}

func TestManager_CloseShort_NotFound(t *testing.T) {
	fx := newHedgeFixture(t)

	err := fx.mgr.CloseShort(context.Background(), testOwner, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
