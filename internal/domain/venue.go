package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidityOpenResult is what the liquidity venue reports after minting a
// concentrated-liquidity leg. Used0/Used1 may be less than the amounts
// offered; callers must refund the difference.
type LiquidityOpenResult struct {
	LegID     string
	Liquidity *big.Int
	Used0     *big.Int
	Used1     *big.Int
}

// LegDetails is the venue-side view of an existing liquidity leg.
type LegDetails struct {
	Liquidity *big.Int
	Owed0     *big.Int
	Owed1     *big.Int
}

// LiquidityVenue manages concentrated-liquidity legs on an external AMM.
type LiquidityVenue interface {
	Open(ctx context.Context, owner, base, quote common.Address, amount0, amount1, rangeLower, rangeUpper *big.Int) (LiquidityOpenResult, error)
	Increase(ctx context.Context, legID string, amount0, amount1 *big.Int) (liquidity, used0, used1 *big.Int, err error)
	Decrease(ctx context.Context, legID string, liquidity *big.Int) (amount0, amount1 *big.Int, err error)
	CollectFees(ctx context.Context, legID string) (fees0, fees1 *big.Int, err error)
	Details(ctx context.Context, legID string) (LegDetails, error)
}

// AccountStatus is the lending venue's view of this system's account.
type AccountStatus struct {
	Collateral           *big.Int
	Debt                 *big.Int
	AvailableToBorrow    *big.Int
	LiquidationThreshold *big.Int
	LTV                  *big.Int
	HealthFactor         *big.Int
}

// LoanSink receives the same-transaction loan callback. The lending venue
// invokes OnLoan synchronously inside RequestLoan; any error aborts the
// whole loan settlement.
type LoanSink interface {
	OnLoan(ctx context.Context, requestID string, asset common.Address, amount, fee *big.Int) error
}

// LendingVenue holds collateral, issues loans and reports account health.
// RequestLoan re-enters the registered LoanSink before it returns; the whole
// settlement is atomic on the venue side.
type LendingVenue interface {
	RequestLoan(ctx context.Context, asset common.Address, amount *big.Int, requestID string) error
	SupplyCollateral(ctx context.Context, asset common.Address, amount *big.Int) error
	Borrow(ctx context.Context, asset common.Address, amount *big.Int) error
	Repay(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
	Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	Approve(ctx context.Context, asset common.Address, amount *big.Int) error
	AccountStatus(ctx context.Context, account common.Address) (AccountStatus, error)
	BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error)
}

// SwapVenue converts between assets. Swap must respect the deadline and fail
// closed when it passes.
type SwapVenue interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, deadline time.Time) (*big.Int, error)
	SpotPrice(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, error)
}
