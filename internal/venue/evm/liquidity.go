package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// LiquidityVenue drives the deployment's position-manager contract. Leg ids
// are the contract's uint256 identifiers rendered as decimal strings.
type LiquidityVenue struct {
	client   *Client
	contract common.Address
	logger   *slog.Logger
}

// NewLiquidityVenue binds a client to the position-manager contract.
func NewLiquidityVenue(client *Client, contract common.Address, logger *slog.Logger) *LiquidityVenue {
	return &LiquidityVenue{
		client:   client,
		contract: contract,
		logger:   logger.With(slog.String("component", "evm_liquidity")),
	}
}

// Open mints a new concentrated-liquidity leg and reports the contract's
// fill from its LegOpened event.
func (v *LiquidityVenue) Open(ctx context.Context, owner, base, quote common.Address, amount0, amount1, rangeLower, rangeUpper *big.Int) (domain.LiquidityOpenResult, error) {
	data, err := positionManagerABI.Pack("openLeg", base, quote, amount0, amount1, rangeLower, rangeUpper, owner)
	if err != nil {
		return domain.LiquidityOpenResult{}, fmt.Errorf("evm: pack openLeg: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.contract, data, liquidityGasLimit)
	if err != nil {
		return domain.LiquidityOpenResult{}, fmt.Errorf("evm: open leg: %w", err)
	}

	vals, err := eventData(positionManagerABI, receipt, v.contract, "LegOpened")
	if err != nil {
		return domain.LiquidityOpenResult{}, err
	}
	legID, err := eventBig(vals, 0)
	if err != nil {
		return domain.LiquidityOpenResult{}, err
	}
	liq, err := eventBig(vals, 1)
	if err != nil {
		return domain.LiquidityOpenResult{}, err
	}
	used0, err := eventBig(vals, 2)
	if err != nil {
		return domain.LiquidityOpenResult{}, err
	}
	used1, err := eventBig(vals, 3)
	if err != nil {
		return domain.LiquidityOpenResult{}, err
	}

	v.logger.InfoContext(ctx, "leg opened",
		slog.String("leg_id", legID.String()),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return domain.LiquidityOpenResult{
		LegID:     legID.String(),
		Liquidity: liq,
		Used0:     used0,
		Used1:     used1,
	}, nil
}

// Increase adds funds to an existing leg.
func (v *LiquidityVenue) Increase(ctx context.Context, legID string, amount0, amount1 *big.Int) (liquidity, used0, used1 *big.Int, err error) {
	id, err := parseLegID(legID)
	if err != nil {
		return nil, nil, nil, err
	}
	data, err := positionManagerABI.Pack("increaseLeg", id, amount0, amount1)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("evm: pack increaseLeg: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.contract, data, liquidityGasLimit)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("evm: increase leg %s: %w", legID, err)
	}

	vals, err := eventData(positionManagerABI, receipt, v.contract, "LegIncreased")
	if err != nil {
		return nil, nil, nil, err
	}
	if liquidity, err = eventBig(vals, 1); err != nil {
		return nil, nil, nil, err
	}
	if used0, err = eventBig(vals, 2); err != nil {
		return nil, nil, nil, err
	}
	if used1, err = eventBig(vals, 3); err != nil {
		return nil, nil, nil, err
	}
	return liquidity, used0, used1, nil
}

// Decrease burns liquidity out of a leg, freeing the underlying amounts.
func (v *LiquidityVenue) Decrease(ctx context.Context, legID string, liquidity *big.Int) (amount0, amount1 *big.Int, err error) {
	id, err := parseLegID(legID)
	if err != nil {
		return nil, nil, err
	}
	data, err := positionManagerABI.Pack("decreaseLeg", id, liquidity)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: pack decreaseLeg: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.contract, data, liquidityGasLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: decrease leg %s: %w", legID, err)
	}

	vals, err := eventData(positionManagerABI, receipt, v.contract, "LegDecreased")
	if err != nil {
		return nil, nil, err
	}
	if amount0, err = eventBig(vals, 1); err != nil {
		return nil, nil, err
	}
	if amount1, err = eventBig(vals, 2); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// CollectFees sweeps accrued fees out of a leg.
func (v *LiquidityVenue) CollectFees(ctx context.Context, legID string) (fees0, fees1 *big.Int, err error) {
	id, err := parseLegID(legID)
	if err != nil {
		return nil, nil, err
	}
	data, err := positionManagerABI.Pack("collectFees", id)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: pack collectFees: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.contract, data, liquidityGasLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: collect fees %s: %w", legID, err)
	}

	vals, err := eventData(positionManagerABI, receipt, v.contract, "FeesCollected")
	if err != nil {
		return nil, nil, err
	}
	if fees0, err = eventBig(vals, 1); err != nil {
		return nil, nil, err
	}
	if fees1, err = eventBig(vals, 2); err != nil {
		return nil, nil, err
	}
	return fees0, fees1, nil
}

// Details reads the leg's current liquidity and uncollected fees.
func (v *LiquidityVenue) Details(ctx context.Context, legID string) (domain.LegDetails, error) {
	id, err := parseLegID(legID)
	if err != nil {
		return domain.LegDetails{}, err
	}
	data, err := positionManagerABI.Pack("legDetails", id)
	if err != nil {
		return domain.LegDetails{}, fmt.Errorf("evm: pack legDetails: %w", err)
	}
	out, err := v.client.callContract(ctx, v.contract, data)
	if err != nil {
		return domain.LegDetails{}, fmt.Errorf("evm: leg details %s: %w", legID, err)
	}

	vals, err := positionManagerABI.Unpack("legDetails", out)
	if err != nil {
		return domain.LegDetails{}, fmt.Errorf("evm: unpack legDetails: %w", err)
	}
	liq, err := eventBig(vals, 0)
	if err != nil {
		return domain.LegDetails{}, err
	}
	owed0, err := eventBig(vals, 1)
	if err != nil {
		return domain.LegDetails{}, err
	}
	owed1, err := eventBig(vals, 2)
	if err != nil {
		return domain.LegDetails{}, err
	}
	return domain.LegDetails{Liquidity: liq, Owed0: owed0, Owed1: owed1}, nil
}

// parseLegID decodes the decimal leg id the contract assigned at open.
func parseLegID(legID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(legID, 10)
	if !ok {
		return nil, fmt.Errorf("evm: malformed leg id %q: %w", legID, domain.ErrInvalidInput)
	}
	return id, nil
}

// Compile-time interface check.
var _ domain.LiquidityVenue = (*LiquidityVenue)(nil)
