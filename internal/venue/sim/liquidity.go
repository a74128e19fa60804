package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
)

type simLeg struct {
	base       common.Address
	quote      common.Address
	rangeLower *big.Int
	rangeUpper *big.Int
	liquidity  *big.Int
	owed0      *big.Int
	owed1      *big.Int
}

// LiquidityVenue is an in-memory concentrated-liquidity position manager.
// It prices mints and burns with the same range math the engine uses, so
// used amounts and withdrawal amounts behave like a real venue's: a mint
// may consume less than offered.
type LiquidityVenue struct {
	mu    sync.Mutex
	price *big.Int // current WAD pool price
	legs  map[string]*simLeg
}

// NewLiquidityVenue creates a venue trading at the given WAD pool price.
func NewLiquidityVenue(price *big.Int) *LiquidityVenue {
	return &LiquidityVenue{
		price: new(big.Int).Set(price),
		legs:  make(map[string]*simLeg),
	}
}

// SetPrice moves the pool price. Existing legs revalue implicitly.
func (v *LiquidityVenue) SetPrice(price *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.price.Set(price)
}

// AccrueFees credits uncollected fees to a leg. Demo and test hook.
func (v *LiquidityVenue) AccrueFees(legID string, fees0, fees1 *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	leg, ok := v.legs[legID]
	if !ok {
		return fmt.Errorf("sim: accrue fees %s: %w", legID, domain.ErrNotFound)
	}
	leg.owed0.Add(leg.owed0, fees0)
	leg.owed1.Add(leg.owed1, fees1)
	return nil
}

// Open mints a leg from the offered amounts. The liquidity actually minted
// is capped by the smaller side of the deposit; the amounts consumed follow
// from that liquidity and never exceed what was offered.
func (v *LiquidityVenue) Open(ctx context.Context, owner, base, quote common.Address, amount0, amount1, rangeLower, rangeUpper *big.Int) (domain.LiquidityOpenResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	liq, err := liquidity.LiquidityFromAmounts(amount0, amount1, v.price, rangeLower, rangeUpper)
	if err != nil {
		return domain.LiquidityOpenResult{}, fmt.Errorf("sim: open leg: %w", err)
	}
	used0, used1, err := liquidity.AmountsFromLiquidity(liq, v.price, rangeLower, rangeUpper)
	if err != nil {
		return domain.LiquidityOpenResult{}, fmt.Errorf("sim: open leg: %w", err)
	}
	// Upward rounding in the inverse conversion may ask one wei past the
	// offer; clamp to what the caller actually put forward.
	if used0.Cmp(amount0) > 0 {
		used0.Set(amount0)
	}
	if used1.Cmp(amount1) > 0 {
		used1.Set(amount1)
	}

	id := uuid.New().String()
	v.legs[id] = &simLeg{
		base:       base,
		quote:      quote,
		rangeLower: new(big.Int).Set(rangeLower),
		rangeUpper: new(big.Int).Set(rangeUpper),
		liquidity:  new(big.Int).Set(liq),
		owed0:      new(big.Int),
		owed1:      new(big.Int),
	}

	return domain.LiquidityOpenResult{
		LegID:     id,
		Liquidity: liq,
		Used0:     used0,
		Used1:     used1,
	}, nil
}

// Increase adds liquidity to an existing leg.
func (v *LiquidityVenue) Increase(ctx context.Context, legID string, amount0, amount1 *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	leg, ok := v.legs[legID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("sim: increase %s: %w", legID, domain.ErrNotFound)
	}

	liq, err := liquidity.LiquidityFromAmounts(amount0, amount1, v.price, leg.rangeLower, leg.rangeUpper)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sim: increase %s: %w", legID, err)
	}
	used0, used1, err := liquidity.AmountsFromLiquidity(liq, v.price, leg.rangeLower, leg.rangeUpper)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sim: increase %s: %w", legID, err)
	}
	if used0.Cmp(amount0) > 0 {
		used0.Set(amount0)
	}
	if used1.Cmp(amount1) > 0 {
		used1.Set(amount1)
	}

	leg.liquidity.Add(leg.liquidity, liq)
	return liq, used0, used1, nil
}

// Decrease burns liquidity and returns the freed amounts at the current
// pool price.
func (v *LiquidityVenue) Decrease(ctx context.Context, legID string, liq *big.Int) (*big.Int, *big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	leg, ok := v.legs[legID]
	if !ok {
		return nil, nil, fmt.Errorf("sim: decrease %s: %w", legID, domain.ErrNotFound)
	}
	if liq.Cmp(leg.liquidity) > 0 {
		return nil, nil, fmt.Errorf("sim: decrease %s: burn %s exceeds liquidity %s: %w", legID, liq, leg.liquidity, domain.ErrInvalidInput)
	}

	amount0, amount1, err := liquidity.AmountsFromLiquidity(liq, v.price, leg.rangeLower, leg.rangeUpper)
	if err != nil {
		return nil, nil, fmt.Errorf("sim: decrease %s: %w", legID, err)
	}
	leg.liquidity.Sub(leg.liquidity, liq)
	return amount0, amount1, nil
}

// CollectFees pays out and clears the leg's accrued fees.
func (v *LiquidityVenue) CollectFees(ctx context.Context, legID string) (*big.Int, *big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	leg, ok := v.legs[legID]
	if !ok {
		return nil, nil, fmt.Errorf("sim: collect fees %s: %w", legID, domain.ErrNotFound)
	}
	fees0 := new(big.Int).Set(leg.owed0)
	fees1 := new(big.Int).Set(leg.owed1)
	leg.owed0.SetInt64(0)
	leg.owed1.SetInt64(0)
	return fees0, fees1, nil
}

// Details reports the current state of a leg.
func (v *LiquidityVenue) Details(ctx context.Context, legID string) (domain.LegDetails, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	leg, ok := v.legs[legID]
	if !ok {
		return domain.LegDetails{}, fmt.Errorf("sim: details %s: %w", legID, domain.ErrNotFound)
	}
	return domain.LegDetails{
		Liquidity: new(big.Int).Set(leg.liquidity),
		Owed0:     new(big.Int).Set(leg.owed0),
		Owed1:     new(big.Int).Set(leg.owed1),
	}, nil
}

// Compile-time interface check.
var _ domain.LiquidityVenue = (*LiquidityVenue)(nil)
