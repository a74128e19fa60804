package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// SwapVenue executes exact-in swaps through the router contract.
type SwapVenue struct {
	client *Client
	router common.Address
	logger *slog.Logger
}

// NewSwapVenue binds a client to the swap-router contract.
func NewSwapVenue(client *Client, router common.Address, logger *slog.Logger) *SwapVenue {
	return &SwapVenue{
		client: client,
		router: router,
		logger: logger.With(slog.String("component", "evm_swap")),
	}
}

// Quote returns the router's amount-out estimate for an exact-in swap.
func (v *SwapVenue) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	data, err := swapRouterABI.Pack("quoteExactIn", tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("evm: pack quoteExactIn: %w", err)
	}
	out, err := v.client.callContract(ctx, v.router, data)
	if err != nil {
		return nil, fmt.Errorf("evm: quote: %w", err)
	}
	vals, err := swapRouterABI.Unpack("quoteExactIn", out)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack quoteExactIn: %w", err)
	}
	return eventBig(vals, 0)
}

// Swap executes an exact-in swap and returns the amount received. The
// router reverts below minAmountOut and past the deadline; expiry is also
// checked here so an already-stale request never pays for a revert.
func (v *SwapVenue) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, deadline time.Time) (*big.Int, error) {
	if !deadline.IsZero() && time.Now().UTC().After(deadline) {
		return nil, fmt.Errorf("evm: swap deadline passed: %w", context.DeadlineExceeded)
	}
	if err := v.client.ensureAllowance(ctx, tokenIn, v.router, amountIn); err != nil {
		return nil, fmt.Errorf("evm: swap: %w", err)
	}

	// The contract treats a zero deadline as no deadline.
	deadlineArg := new(big.Int)
	if !deadline.IsZero() {
		deadlineArg.SetInt64(deadline.Unix())
	}
	data, err := swapRouterABI.Pack("swapExactIn", tokenIn, tokenOut, amountIn, minAmountOut, deadlineArg, v.client.Operator())
	if err != nil {
		return nil, fmt.Errorf("evm: pack swapExactIn: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.router, data, swapGasLimit)
	if err != nil {
		return nil, fmt.Errorf("evm: swap: %w", err)
	}

	vals, err := eventData(swapRouterABI, receipt, v.router, "SwapExecuted")
	if err != nil {
		return nil, err
	}
	amountOut, err := eventBig(vals, 3)
	if err != nil {
		return nil, err
	}
	v.logger.InfoContext(ctx, "swap executed",
		slog.String("token_in", tokenIn.Hex()),
		slog.String("token_out", tokenOut.Hex()),
		slog.String("amount_in", amountIn.String()),
		slog.String("amount_out", amountOut.String()),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return amountOut, nil
}

// SpotPrice returns the router's current tokenOut-per-tokenIn price,
// 1e18-scaled.
func (v *SwapVenue) SpotPrice(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, error) {
	data, err := swapRouterABI.Pack("spotPrice", tokenIn, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("evm: pack spotPrice: %w", err)
	}
	out, err := v.client.callContract(ctx, v.router, data)
	if err != nil {
		return nil, fmt.Errorf("evm: spot price: %w", err)
	}
	vals, err := swapRouterABI.Unpack("spotPrice", out)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack spotPrice: %w", err)
	}
	return eventBig(vals, 0)
}

// Compile-time interface check.
var _ domain.SwapVenue = (*SwapVenue)(nil)
