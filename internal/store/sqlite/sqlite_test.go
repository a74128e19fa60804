package sqlite_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/store/sqlite"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	base  = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func samplePosition(id string, owner common.Address, openedAt time.Time) domain.CompositePosition {
	return domain.CompositePosition{
		ID:             id,
		Owner:          owner,
		BaseAsset:      common.HexToAddress("0x02"),
		QuoteAsset:     common.HexToAddress("0x03"),
		YieldLegID:     "leg-" + id,
		YieldLiquidity: wad(15),
		YieldAmount0:   wad(5),
		YieldAmount1:   wad(7),
		HedgeID:        "hedge-" + id,
		HedgeValue:     wad(210),
		ReferencePrice: wad(1),
		Status:         domain.PositionStatusActive,
		OpenedAt:       openedAt,
	}
}

func TestPositionRoundTrip(t *testing.T) {
	st := newStore(t)
	positions := sqlite.NewPositionStore(st.DB())
	ctx := context.Background()

	in := samplePosition("pos-1", alice, base)
	require.NoError(t, positions.Create(ctx, in))

	out, err := positions.GetByID(ctx, "pos-1")
	require.NoError(t, err)

	assert.Equal(t, in.Owner, out.Owner)
	assert.Equal(t, in.BaseAsset, out.BaseAsset)
	assert.Equal(t, "leg-pos-1", out.YieldLegID)
	assert.Equal(t, in.YieldLiquidity.String(), out.YieldLiquidity.String())
	assert.Equal(t, in.YieldAmount0.String(), out.YieldAmount0.String())
	assert.Equal(t, in.HedgeValue.String(), out.HedgeValue.String())
	assert.Equal(t, in.ReferencePrice.String(), out.ReferencePrice.String())
	assert.Equal(t, domain.PositionStatusActive, out.Status)
	assert.False(t, out.YieldClosed)
	assert.True(t, out.OpenedAt.Equal(base))
	assert.Nil(t, out.ClosedAt)
}

func TestPositionUpdate(t *testing.T) {
	st := newStore(t)
	positions := sqlite.NewPositionStore(st.DB())
	ctx := context.Background()

	err := positions.Update(ctx, samplePosition("missing", alice, base))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	in := samplePosition("pos-1", alice, base)
	require.NoError(t, positions.Create(ctx, in))

	closedAt := base.Add(2 * time.Hour)
	in.Status = domain.PositionStatusClosed
	in.YieldClosed = true
	in.HedgeClosed = true
	in.ClosedAt = &closedAt
	require.NoError(t, positions.Update(ctx, in))

	out, err := positions.GetByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, out.Status)
	assert.True(t, out.YieldClosed)
	assert.True(t, out.HedgeClosed)
	require.NotNil(t, out.ClosedAt)
	assert.True(t, out.ClosedAt.Equal(closedAt))
}

func TestPositionGetMissing(t *testing.T) {
	st := newStore(t)
	positions := sqlite.NewPositionStore(st.DB())

	_, err := positions.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListByOwner(t *testing.T) {
	st := newStore(t)
	positions := sqlite.NewPositionStore(st.DB())
	ctx := context.Background()

	require.NoError(t, positions.Create(ctx, samplePosition("a1", alice, base)))
	require.NoError(t, positions.Create(ctx, samplePosition("a2", alice, base.Add(time.Hour))))
	require.NoError(t, positions.Create(ctx, samplePosition("b1", bob, base.Add(30*time.Minute))))

	got, err := positions.ListByOwner(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)

	// Limit and offset page through the same ordering.
	got, err = positions.ListByOwner(ctx, alice, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	// Time filtering on the open timestamp.
	since := base.Add(30 * time.Minute)
	got, err = positions.ListByOwner(ctx, alice, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)
}

func TestListClosedBefore(t *testing.T) {
	st := newStore(t)
	positions := sqlite.NewPositionStore(st.DB())
	ctx := context.Background()

	mkClosed := func(id string, closedAt time.Time) domain.CompositePosition {
		p := samplePosition(id, alice, base)
		p.Status = domain.PositionStatusClosed
		p.ClosedAt = &closedAt
		return p
	}
	require.NoError(t, positions.Create(ctx, mkClosed("old", base.Add(time.Hour))))
	require.NoError(t, positions.Create(ctx, mkClosed("new", base.Add(48*time.Hour))))
	require.NoError(t, positions.Create(ctx, samplePosition("active", alice, base)))

	got, err := positions.ListClosedBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)

	// The cutoff is strict.
	got, err = positions.ListClosedBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func sampleHedge(id string, state domain.HedgeState) domain.HedgePosition {
	return domain.HedgePosition{
		ID:                 id,
		Owner:              alice,
		CollateralAsset:    common.HexToAddress("0x02"),
		ShortedAsset:       common.HexToAddress("0x03"),
		Principal:          wad(1000),
		Leverage:           big.NewInt(1_250_000_000_000_000_000),
		LoanAmount:         wad(250),
		CollateralSupplied: wad(1250),
		DebtBorrowed:       wad(625),
		State:              state,
		OpenedAt:           base,
	}
}

func TestHedgeRoundTrip(t *testing.T) {
	st := newStore(t)
	hedges := sqlite.NewHedgeStore(st.DB())
	ctx := context.Background()

	in := sampleHedge("h1", domain.HedgeStateOpen)
	require.NoError(t, hedges.Create(ctx, in))

	out, err := hedges.GetByID(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, in.Owner, out.Owner)
	assert.Equal(t, in.Principal.String(), out.Principal.String())
	assert.Equal(t, in.Leverage.String(), out.Leverage.String())
	assert.Equal(t, in.LoanAmount.String(), out.LoanAmount.String())
	assert.Equal(t, in.CollateralSupplied.String(), out.CollateralSupplied.String())
	assert.Equal(t, in.DebtBorrowed.String(), out.DebtBorrowed.String())
	assert.Equal(t, domain.HedgeStateOpen, out.State)
	assert.Nil(t, out.ClosedAt)
}

func TestHedgeTransition(t *testing.T) {
	st := newStore(t)
	hedges := sqlite.NewHedgeStore(st.DB())
	ctx := context.Background()

	require.NoError(t, hedges.Create(ctx, sampleHedge("h1", domain.HedgeStateOpen)))

	require.NoError(t, hedges.Transition(ctx, "h1", domain.HedgeStateOpen, domain.HedgeStateRepaying))

	out, err := hedges.GetByID(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeStateRepaying, out.State)

	// A second writer expecting the old state loses the race.
	err = hedges.Transition(ctx, "h1", domain.HedgeStateOpen, domain.HedgeStateRepaying)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	err = hedges.Transition(ctx, "missing", domain.HedgeStateOpen, domain.HedgeStateRepaying)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHedgeDelete(t *testing.T) {
	st := newStore(t)
	hedges := sqlite.NewHedgeStore(st.DB())
	ctx := context.Background()

	require.NoError(t, hedges.Create(ctx, sampleHedge("h1", domain.HedgeStateRequested)))
	require.NoError(t, hedges.Delete(ctx, "h1"))

	_, err := hedges.GetByID(ctx, "h1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, hedges.Delete(ctx, "h1"), domain.ErrNotFound)
}

func TestHedgeListClosedBefore(t *testing.T) {
	st := newStore(t)
	hedges := sqlite.NewHedgeStore(st.DB())
	ctx := context.Background()

	closedOld := base.Add(time.Hour)
	old := sampleHedge("old", domain.HedgeStateClosed)
	old.ClosedAt = &closedOld
	require.NoError(t, hedges.Create(ctx, old))

	closedNew := base.Add(72 * time.Hour)
	niu := sampleHedge("new", domain.HedgeStateClosed)
	niu.ClosedAt = &closedNew
	require.NoError(t, hedges.Create(ctx, niu))

	require.NoError(t, hedges.Create(ctx, sampleHedge("open", domain.HedgeStateOpen)))

	got, err := hedges.ListClosedBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
}

func TestAuditLogAndList(t *testing.T) {
	st := newStore(t)
	audit := sqlite.NewAuditStore(st.DB())
	ctx := context.Background()

	require.NoError(t, audit.Log(ctx, "position.open", map[string]any{"position_id": "p1"}))
	require.NoError(t, audit.Log(ctx, "position.close", map[string]any{"position_id": "p1"}))

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "position.close", entries[0].Event)
	assert.Equal(t, "p1", entries[0].Detail["position_id"])

	entries, err = audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
