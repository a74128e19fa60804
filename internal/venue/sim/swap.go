package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
)

type pairKey struct {
	in  common.Address
	out common.Address
}

// SwapVenue is an in-memory constant-price router over the shared ledger.
// Prices are WAD-scaled (amountOut = amountIn * price / WAD) and set per
// direction; the reverse direction defaults to the inverse.
type SwapVenue struct {
	mu       sync.Mutex
	ledger   *Ledger
	operator common.Address
	prices   map[pairKey]*big.Int
	feeBps   int64
}

// NewSwapVenue creates a swap venue trading on behalf of the operator
// account.
func NewSwapVenue(ledger *Ledger, operator common.Address, feeBps int64) *SwapVenue {
	return &SwapVenue{
		ledger:   ledger,
		operator: operator,
		prices:   make(map[pairKey]*big.Int),
		feeBps:   feeBps,
	}
}

// SetPrice fixes the WAD price for tokenIn -> tokenOut and its inverse for
// the reverse direction.
func (v *SwapVenue) SetPrice(tokenIn, tokenOut common.Address, price *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[pairKey{tokenIn, tokenOut}] = new(big.Int).Set(price)

	if price.Sign() > 0 {
		inverse := new(big.Int).Mul(liquidity.WAD, liquidity.WAD)
		inverse.Quo(inverse, price)
		v.prices[pairKey{tokenOut, tokenIn}] = inverse
	}
}

func (v *SwapVenue) price(tokenIn, tokenOut common.Address) (*big.Int, error) {
	p, ok := v.prices[pairKey{tokenIn, tokenOut}]
	if !ok {
		return nil, fmt.Errorf("sim: no price for %s -> %s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrVenueUnavailable)
	}
	return p, nil
}

// Quote estimates the output amount net of the venue fee.
func (v *SwapVenue) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := v.price(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	out := liquidity.WadMul(amountIn, p)
	fee := new(big.Int).Mul(out, big.NewInt(v.feeBps))
	fee.Quo(fee, big.NewInt(10_000))
	return out.Sub(out, fee), nil
}

// Swap executes at the fixed price, debiting tokenIn and crediting tokenOut
// on the operator account. It fails closed when the deadline has passed and
// enforces minAmountOut.
func (v *SwapVenue) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, deadline time.Time) (*big.Int, error) {
	if !deadline.IsZero() && time.Now().UTC().After(deadline) {
		return nil, fmt.Errorf("sim: swap deadline passed: %w", context.DeadlineExceeded)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sim: swap: %w", err)
	}

	out, err := v.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("sim: swap out %s below minimum %s: %w", out, minAmountOut, domain.ErrSlippageExceeded)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.ledger.mu.Lock()
	defer v.ledger.mu.Unlock()
	if err := v.ledger.debit(tokenIn, v.operator, amountIn); err != nil {
		return nil, fmt.Errorf("sim: swap: %w", err)
	}
	v.ledger.credit(tokenOut, v.operator, out)
	return out, nil
}

// SpotPrice returns the configured WAD price for the pair.
func (v *SwapVenue) SpotPrice(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := v.price(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(p), nil
}

// Compile-time interface check.
var _ domain.SwapVenue = (*SwapVenue)(nil)
